package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/pkg/pubsub"
	"github.com/qs3c/melody_go_server/internal/pkg/queue"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/repository"
	"github.com/qs3c/melody_go_server/internal/testutil"
)

type genHarness struct {
	db       *gorm.DB
	cfg      *config.Config
	svc      *GenerationService
	jobs     *repository.JobRepository
	users    *repository.UserRepository
	lyrics   *repository.LyricsRepository
	queue    *testutil.FakeQueue
	notifier *testutil.FakeNotifier
	blobs    *testutil.FakeBlobStore
	suno     *testutil.FakeAdapter
	mureka   *testutil.FakeAdapter
}

func newGenHarness(t *testing.T, opts ...func(*config.Config, provider.Registry)) *genHarness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	h := &genHarness{
		db:       db,
		cfg:      testutil.TestConfig(),
		jobs:     repository.NewJobRepository(db),
		users:    repository.NewUserRepository(db),
		lyrics:   repository.NewLyricsRepository(db),
		queue:    &testutil.FakeQueue{},
		notifier: &testutil.FakeNotifier{},
		blobs:    &testutil.FakeBlobStore{},
		suno:     &testutil.FakeAdapter{ProviderName: provider.Suno},
		mureka:   &testutil.FakeAdapter{ProviderName: provider.Mureka},
	}
	registry := provider.Registry{provider.Suno: h.suno, provider.Mureka: h.mureka}
	for _, opt := range opts {
		opt(h.cfg, registry)
	}

	h.svc = NewGenerationService(GenerationDeps{
		DB:           db,
		JobRepo:      h.jobs,
		ArtifactRepo: repository.NewArtifactRepository(db),
		LyricsRepo:   h.lyrics,
		Quota:        NewQuotaService(h.users, h.cfg),
		Providers:    registry,
		Queue:        h.queue,
		Notifier:     h.notifier,
		Blobs:        h.blobs,
		Config:       h.cfg,
		Logger:       zerolog.Nop(),
	})
	return h
}

func (h *genHarness) job(t *testing.T, id string) *model.GenerationJob {
	t.Helper()
	job, err := h.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *genHarness) used(t *testing.T, userID int64) int {
	t.Helper()
	user, err := h.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return user.QuotaUsedToday
}

func withoutProvider(name provider.Name) func(*config.Config, provider.Registry) {
	return func(_ *config.Config, r provider.Registry) {
		delete(r, name)
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		base, duration, want int
	}{
		{8, 0, 8},
		{8, 1, 9},
		{8, 60, 9},
		{8, 61, 10},
		{10, 240, 14},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateCost(tt.base, tt.duration), "base=%d duration=%d", tt.base, tt.duration)
	}
}

func TestGenerationService_Submit(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 0))

	resp, err := h.svc.Submit(ctx, user.ID, &dto.SubmitRequest{
		Prompt:       "  lofi beat for studying ",
		Instrumental: true,
		Duration:     90,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, resp.Status)

	job := h.job(t, resp.JobID)
	assert.Equal(t, "lofi beat for studying", job.Prompt)
	assert.Equal(t, "auto", job.RequestedProvider)
	assert.Equal(t, 10, job.CostEstimate) // mureka 8 + 两个 60 秒
	assert.Nil(t, job.TaskID)

	msgs := h.queue.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, queue.KindDispatch, msgs[0].Kind)
	assert.Equal(t, resp.JobID, msgs[0].JobID)
	assert.Equal(t, 1, h.used(t, user.ID))
}

func TestGenerationService_SubmitValidation(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)

	tests := []struct {
		name string
		req  dto.SubmitRequest
	}{
		{"blank prompt", dto.SubmitRequest{Prompt: "   \n\t"}},
		{"unknown provider", dto.SubmitRequest{Prompt: "x", Provider: "udio"}},
		{"duration too long", dto.SubmitRequest{Prompt: "x", Duration: 9999}},
		{"bad reference url", dto.SubmitRequest{Prompt: "x", ReferenceTrackURL: "not a url"}},
		{"non-http reference url", dto.SubmitRequest{Prompt: "x", ReferenceTrackURL: "file:///etc/passwd"}},
		{"prompt too long", dto.SubmitRequest{Prompt: strings.Repeat("a", 3001)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := h.svc.Submit(ctx, user.ID, &req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	var count int64
	require.NoError(t, h.db.Model(&model.GenerationJob{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, h.queue.Messages())
	assert.Zero(t, h.used(t, user.ID))
}

func TestGenerationService_SubmitUnavailableProvider(t *testing.T) {
	h := newGenHarness(t, withoutProvider(provider.Suno))
	user := testutil.TestUser(t, h.db)

	_, err := h.svc.Submit(context.Background(), user.ID, &dto.SubmitRequest{Prompt: "x", Provider: "suno"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGenerationService_SubmitNoProvider(t *testing.T) {
	h := newGenHarness(t, withoutProvider(provider.Suno), withoutProvider(provider.Mureka))
	user := testutil.TestUser(t, h.db)

	_, err := h.svc.Submit(context.Background(), user.ID, &dto.SubmitRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestGenerationService_SubmitQuotaExceeded(t *testing.T) {
	h := newGenHarness(t)
	user := testutil.TestUser(t, h.db, testutil.WithQuota(1, 1))

	_, err := h.svc.Submit(context.Background(), user.ID, &dto.SubmitRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Empty(t, h.queue.Messages())
}

func TestGenerationService_SubmitEnqueueFailure(t *testing.T) {
	h := newGenHarness(t)
	h.queue.Err = errors.New("redis down")
	user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 0))

	resp, err := h.svc.Submit(context.Background(), user.ID, &dto.SubmitRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, resp.Status)

	job := h.job(t, resp.JobID)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, string(provider.KindDispatch), job.ErrorKind)
	assert.NotEmpty(t, job.ErrorMessage)
	assert.Zero(t, h.used(t, user.ID), "quota refunded")
}

func TestGenerationService_Dispatch(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID)

	before := time.Now()
	require.NoError(t, h.svc.Dispatch(ctx, job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, "mureka", got.Provider)
	assert.Equal(t, "auto", got.ModelName)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, "mureka-"+job.ID, *got.TaskID)
	require.NotNil(t, got.NextPollAt)
	assert.WithinDuration(t, before.Add(5*time.Second), *got.NextPollAt, 2*time.Second)
	assert.GreaterOrEqual(t, got.Progress, 5)
	assert.Equal(t, model.StringArray{"mureka"}, got.ProvidersTried)
	assert.False(t, got.FallbackAttempted)

	require.Len(t, h.mureka.Dispatched(), 1)
	assert.True(t, h.mureka.Dispatched()[0].Instrumental)
	assert.Empty(t, h.suno.Dispatched())
	assert.NotEmpty(t, h.notifier.OfType(pubsub.TypeProgress))
}

func TestGenerationService_DispatchSkipsNonPending(t *testing.T) {
	h := newGenHarness(t)
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

	require.NoError(t, h.svc.Dispatch(context.Background(), job.ID))
	assert.Empty(t, h.suno.Dispatched())
	assert.Empty(t, h.mureka.Dispatched())
}

func TestGenerationService_DispatchIsExclusive(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.suno.DispatchFn = func(req provider.Request) (*provider.DispatchResult, error) {
		close(entered)
		<-release
		return &provider.DispatchResult{TaskID: "suno-slow-1"}, nil
	}
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, func(j *model.GenerationJob) { j.RequestedProvider = "suno" })

	done := make(chan error, 1)
	go func() { done <- h.svc.Dispatch(ctx, job.ID) }()
	<-entered

	// 慢派发期间任务看起来已经停留很久，维护任务和第二条消息都不能再派发一次
	require.NoError(t, h.db.Model(&model.GenerationJob{}).Where("id = ?", job.ID).
		UpdateColumn("updated_at", time.Now().Add(-10*time.Minute)).Error)
	n, err := h.svc.RequeueStale(ctx, 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.queue.Messages())

	require.NoError(t, h.svc.Dispatch(ctx, job.ID))

	close(release)
	require.NoError(t, <-done)

	assert.Len(t, h.suno.Dispatched(), 1)
	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, "suno-slow-1", got.CorrelationToken())
	assert.Nil(t, got.DispatchLeaseUntil)
}

func TestGenerationService_DispatchReclaimsExpiredLease(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	expired := time.Now().Add(-time.Minute)
	job := testutil.TestJob(t, h.db, user.ID, func(j *model.GenerationJob) {
		j.RequestedProvider = "suno"
		j.DispatchLeaseUntil = &expired
	})
	require.NoError(t, h.db.Model(&model.GenerationJob{}).Where("id = ?", job.ID).
		UpdateColumn("updated_at", time.Now().Add(-20*time.Minute)).Error)

	// 持有租约的 worker 已经退出
	n, err := h.svc.RequeueStale(ctx, 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, h.svc.Dispatch(ctx, job.ID))
	assert.Len(t, h.suno.Dispatched(), 1)
	assert.Equal(t, model.JobStatusProcessing, h.job(t, job.ID).Status)
}

func TestGenerationService_DispatchStoresGeneratedLyrics(t *testing.T) {
	h := newGenHarness(t)
	h.suno.DispatchFn = func(req provider.Request) (*provider.DispatchResult, error) {
		return &provider.DispatchResult{
			TaskID:       "music-1",
			Model:        "V4_5",
			Lyrics:       "[Verse]\nrain on the window",
			LyricsTitle:  "Rainy Day",
			LyricsTaskID: "lyr-1",
		}, nil
	}
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, func(j *model.GenerationJob) {
		j.RequestedProvider = "suno"
		j.Instrumental = false
	})

	require.NoError(t, h.svc.Dispatch(ctx, job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, "suno", got.Provider)
	assert.Equal(t, "[Verse]\nrain on the window", got.GeneratedLyrics)
	assert.Equal(t, "Rainy Day", got.Title)

	rec, err := h.lyrics.GetByTaskID(ctx, "lyr-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, rec.JobID)
	assert.Equal(t, model.LyricsStatusCompleted, rec.Status)
}

func TestGenerationService_DispatchRecordsLyricsTaskEarly(t *testing.T) {
	h := newGenHarness(t)
	callbacks := NewCallbackService(h.jobs, h.lyrics, h.svc, 24*time.Hour, zerolog.Nop())
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, func(j *model.GenerationJob) {
		j.RequestedProvider = "suno"
		j.Instrumental = false
	})

	h.suno.DispatchFn = func(req provider.Request) (*provider.DispatchResult, error) {
		require.NotNil(t, req.OnLyricsTask)
		req.OnLyricsTask(ctx, "lyr-early")

		rec, err := h.lyrics.GetByTaskID(ctx, "lyr-early")
		require.NoError(t, err)
		assert.Equal(t, model.LyricsStatusPending, rec.Status)
		assert.Equal(t, job.ID, rec.JobID)

		// 歌词回调先于派发结束到达，按歌词记录处理，不碰任务
		body := `{"code":200,"msg":"ok","data":{"callbackType":"complete","task_id":"lyr-early","data":[{"text":"[Verse] from callback","title":"Early","status":"complete"}]}}`
		require.NoError(t, callbacks.HandleSuno(ctx, []byte(body)))
		assert.Equal(t, model.JobStatusPending, h.job(t, job.ID).Status)

		return &provider.DispatchResult{
			TaskID:       "music-early",
			Lyrics:       "[Verse] from poll",
			LyricsTitle:  "Early",
			LyricsTaskID: "lyr-early",
		}, nil
	}

	require.NoError(t, h.svc.Dispatch(ctx, job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, "[Verse] from poll", got.GeneratedLyrics)

	rec, err := h.lyrics.GetByTaskID(ctx, "lyr-early")
	require.NoError(t, err)
	assert.Equal(t, model.LyricsStatusCompleted, rec.Status)
	assert.Equal(t, "[Verse] from callback", rec.Text)
}

func TestGenerationService_DispatchResolvesPendingLyricsTask(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, func(j *model.GenerationJob) {
		j.RequestedProvider = "suno"
		j.Instrumental = false
	})
	h.suno.DispatchFn = func(req provider.Request) (*provider.DispatchResult, error) {
		req.OnLyricsTask(ctx, "lyr-2")
		return &provider.DispatchResult{TaskID: "music-2", Lyrics: "[Chorus] hi", LyricsTitle: "Hi", LyricsTaskID: "lyr-2"}, nil
	}

	require.NoError(t, h.svc.Dispatch(ctx, job.ID))

	rec, err := h.lyrics.GetByTaskID(ctx, "lyr-2")
	require.NoError(t, err)
	assert.Equal(t, model.LyricsStatusCompleted, rec.Status)
	assert.Equal(t, "[Chorus] hi", rec.Text)
	assert.Equal(t, "Hi", rec.Title)
}

func TestGenerationService_DispatchFallback(t *testing.T) {
	h := newGenHarness(t)
	h.mureka.DispatchFn = func(req provider.Request) (*provider.DispatchResult, error) {
		return nil, provider.NewError(provider.Mureka, provider.KindRateLimited, "slow down")
	}
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID)

	require.NoError(t, h.svc.Dispatch(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, "suno", got.Provider)
	assert.Equal(t, "V4_5", got.ModelName)
	assert.True(t, got.FallbackAttempted)
	assert.Equal(t, model.StringArray{"mureka", "suno"}, got.ProvidersTried)
	assert.Len(t, h.suno.Dispatched(), 1)
}

func TestGenerationService_DispatchFailures(t *testing.T) {
	serverErr := func(name provider.Name) func(provider.Request) (*provider.DispatchResult, error) {
		return func(provider.Request) (*provider.DispatchResult, error) {
			return nil, provider.NewError(name, provider.KindServer, "upstream 502")
		}
	}

	tests := []struct {
		name         string
		setup        func(h *genHarness)
		wantKind     provider.ErrorKind
		wantTried    model.StringArray
		wantFallback bool
	}{
		{
			name: "auth error does not fall back",
			setup: func(h *genHarness) {
				h.mureka.DispatchFn = func(provider.Request) (*provider.DispatchResult, error) {
					return nil, provider.NewError(provider.Mureka, provider.KindAuth, "bad key")
				}
			},
			wantKind:  provider.KindAuth,
			wantTried: model.StringArray{"mureka"},
		},
		{
			name: "both providers fail",
			setup: func(h *genHarness) {
				h.mureka.DispatchFn = serverErr(provider.Mureka)
				h.suno.DispatchFn = serverErr(provider.Suno)
			},
			wantKind:     provider.KindServer,
			wantTried:    model.StringArray{"mureka", "suno"},
			wantFallback: true,
		},
		{
			name: "fallback disabled",
			setup: func(h *genHarness) {
				h.cfg.Providers.FallbackEnabled = false
				h.mureka.DispatchFn = serverErr(provider.Mureka)
			},
			wantKind:  provider.KindServer,
			wantTried: model.StringArray{"mureka"},
		},
		{
			name: "adapter panic",
			setup: func(h *genHarness) {
				h.mureka.DispatchFn = func(provider.Request) (*provider.DispatchResult, error) {
					panic("nil map")
				}
			},
			wantKind:  provider.KindDispatch,
			wantTried: model.StringArray{"mureka"},
		},
		{
			name: "plain network error",
			setup: func(h *genHarness) {
				h.cfg.Providers.FallbackEnabled = false
				h.mureka.DispatchFn = func(provider.Request) (*provider.DispatchResult, error) {
					return nil, errors.New("connection reset by peer")
				}
			},
			wantKind:  provider.KindTransient,
			wantTried: model.StringArray{"mureka"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGenHarness(t)
			tt.setup(h)
			user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 1))
			job := testutil.TestJob(t, h.db, user.ID)

			require.NoError(t, h.svc.Dispatch(context.Background(), job.ID))

			got := h.job(t, job.ID)
			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, string(tt.wantKind), got.ErrorKind)
			assert.NotEmpty(t, got.ErrorMessage)
			assert.LessOrEqual(t, len([]rune(got.ErrorMessage)), 200)
			assert.Nil(t, got.ArtifactID)
			assert.Equal(t, tt.wantTried, got.ProvidersTried)
			assert.Equal(t, tt.wantFallback, got.FallbackAttempted)
			assert.Zero(t, h.used(t, user.ID), "quota refunded")
			assert.Len(t, h.notifier.OfType(pubsub.TypeFailed), 1)
		})
	}
}

func TestGenerationService_RecordProgress(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("mureka", "song/1", time.Now()))

	require.NoError(t, h.svc.RecordProgress(ctx, job.ID, 40, "running"))
	assert.Equal(t, 40, h.job(t, job.ID).Progress)

	require.NoError(t, h.svc.RecordProgress(ctx, job.ID, 20, "stale"))
	assert.Equal(t, 40, h.job(t, job.ID).Progress)

	require.NoError(t, h.svc.RecordProgress(ctx, job.ID, 150, "almost"))
	assert.Equal(t, 100, h.job(t, job.ID).Progress)

	done := testutil.TestJob(t, h.db, user.ID, testutil.WithStatus(model.JobStatusCompleted))
	require.NoError(t, h.svc.RecordProgress(ctx, done.ID, 50, "late"))
	assert.Zero(t, h.job(t, done.ID).Progress)

	assert.ErrorIs(t, h.svc.RecordProgress(ctx, "missing", 10, ""), ErrJobNotFound)
}

func TestGenerationService_FinalizeSuccess(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 1))
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

	result := &provider.Result{Title: "Night Drive", AudioURL: "https://cdn.suno/1.mp3", Duration: 121.5, ClipID: "clip-1", Tags: []string{"synthwave"}}
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Result: result}))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.NextPollAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ArtifactID)

	artifact, err := repository.NewArtifactRepository(h.db).GetByID(ctx, *got.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, artifact.JobID)
	assert.Equal(t, user.ID, artifact.UserID)
	assert.Equal(t, "https://cdn.suno/1.mp3", artifact.AudioURL)
	assert.Equal(t, "suno", artifact.Provider)
	assert.Equal(t, model.StringArray{"synthwave"}, artifact.Tags)
	assert.Equal(t, 1, h.used(t, user.ID), "quota kept on success")

	completed := h.notifier.OfType(pubsub.TypeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, artifact.ID, completed[0].ArtifactID)
}

func TestGenerationService_FinalizeFirstWins(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 1))
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

	first := &provider.Result{AudioURL: "https://cdn/first.mp3"}
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Result: first}))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Result: &provider.Result{AudioURL: "https://cdn/second.mp3"}}))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Err: provider.NewError(provider.Suno, provider.KindGeneration, "late")}))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)

	var artifacts []model.GeneratedArtifact
	require.NoError(t, h.db.Where("job_id = ?", job.ID).Find(&artifacts).Error)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "https://cdn/first.mp3", artifacts[0].AudioURL)
	assert.Equal(t, 1, h.used(t, user.ID))
}

func TestGenerationService_FinalizeConcurrent(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.svc.Finalize(ctx, job.ID, Outcome{Result: &provider.Result{AudioURL: "https://cdn/a.mp3"}})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	var count int64
	require.NoError(t, h.db.Model(&model.GeneratedArtifact{}).Where("job_id = ?", job.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, h.notifier.OfType(pubsub.TypeCompleted), 1)
}

func TestGenerationService_FinalizeStoresAudioBytes(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("mureka", "song/9", time.Now()))

	result := &provider.Result{AudioData: []byte("ID3fake"), ContentType: "audio/mpeg"}
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Result: result}))

	keys := h.blobs.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], job.ID+".mp3"))

	got := h.job(t, job.ID)
	require.NotNil(t, got.ArtifactID)
	artifact, err := repository.NewArtifactRepository(h.db).GetByID(ctx, *got.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/"+keys[0], artifact.AudioURL)
}

func TestGenerationService_FinalizeWithoutAudio(t *testing.T) {
	tests := []struct {
		name   string
		result *provider.Result
		blobs  error
	}{
		{"nil result", nil, nil},
		{"empty audio url", &provider.Result{Title: "no audio", AudioURL: "  "}, nil},
		{"blob store fails", &provider.Result{AudioData: []byte("x"), ContentType: "audio/wav"}, errors.New("bucket gone")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGenHarness(t)
			h.blobs.Err = tt.blobs
			user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 1))
			job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

			require.NoError(t, h.svc.Finalize(context.Background(), job.ID, Outcome{Result: tt.result}))

			got := h.job(t, job.ID)
			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, string(provider.KindNoArtifact), got.ErrorKind)
			assert.Nil(t, got.ArtifactID)
			assert.Zero(t, h.used(t, user.ID))
		})
	}
}

func TestGenerationService_FinalizeFailure(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db, testutil.WithQuota(5, 2))
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))

	pe := provider.NewError(provider.Suno, provider.KindContentPolicy, "lyrics mention an artist name "+strings.Repeat("x", 400))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Err: pe}))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Err: pe}))

	got := h.job(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "content_policy", got.ErrorKind)
	assert.LessOrEqual(t, len([]rune(got.ErrorMessage)), 200)
	assert.Nil(t, got.NextPollAt)
	assert.Equal(t, 1, h.used(t, user.ID), "refunded exactly once")

	assert.ErrorIs(t, h.svc.Finalize(ctx, "missing", Outcome{Err: pe}), ErrJobNotFound)
}

func TestGenerationService_GetStatus(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	owner := testutil.TestUser(t, h.db)
	other := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, owner.ID, testutil.WithProcessing("suno", "t-1", time.Now()))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Result: &provider.Result{Title: "Song", AudioURL: "https://cdn/1.mp3"}}))

	resp, err := h.svc.GetStatus(ctx, owner.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "suno", resp.Provider)
	require.NotNil(t, resp.Artifact)
	assert.Equal(t, "https://cdn/1.mp3", resp.Artifact.AudioURL)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.CompletedAt)

	_, err = h.svc.GetStatus(ctx, other.ID, job.ID)
	assert.ErrorIs(t, err, ErrJobPermission)

	_, err = h.svc.GetStatus(ctx, owner.ID, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGenerationService_GetStatusFailed(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)
	job := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("mureka", "song/1", time.Now()))
	require.NoError(t, h.svc.Finalize(ctx, job.ID, Outcome{Err: provider.NewError(provider.Mureka, provider.KindTimeout, "")}))

	resp, err := h.svc.GetStatus(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, resp.Status)
	assert.Nil(t, resp.Artifact)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "timeout", resp.Error.Kind)
	assert.Equal(t, "generation timed out", resp.Error.Message)
}

func TestGenerationService_List(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)

	done := testutil.TestJob(t, h.db, user.ID, testutil.WithProcessing("suno", "t-1", time.Now()))
	require.NoError(t, h.svc.Finalize(ctx, done.ID, Outcome{Result: &provider.Result{AudioURL: "https://cdn/1.mp3"}}))
	testutil.TestJob(t, h.db, user.ID)
	hidden := testutil.TestJob(t, h.db, user.ID)
	require.NoError(t, h.svc.Cancel(ctx, user.ID, hidden.ID))
	testutil.TestJob(t, h.db, testutil.TestUser(t, h.db).ID)

	items, total, err := h.svc.List(ctx, user.ID, 1, 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)

	var withArtifact int
	for _, item := range items {
		assert.NotEqual(t, hidden.ID, item.ID)
		if item.Artifact != nil {
			withArtifact++
			assert.Equal(t, done.ID, item.ID)
		}
	}
	assert.Equal(t, 1, withArtifact)

	items, total, err = h.svc.List(ctx, user.ID, 1, 20, model.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)
}

func TestGenerationService_Cancel(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	owner := testutil.TestUser(t, h.db)
	other := testutil.TestUser(t, h.db)

	active := testutil.TestJob(t, h.db, owner.ID, testutil.WithProcessing("suno", "t-1", time.Now()))
	assert.ErrorIs(t, h.svc.Cancel(ctx, other.ID, active.ID), ErrJobPermission)
	require.NoError(t, h.svc.Cancel(ctx, owner.ID, active.ID))

	got := h.job(t, active.ID)
	assert.True(t, got.Cancelled)
	assert.Equal(t, model.JobStatusProcessing, got.Status, "provider task keeps running")

	// 取消后供应商结果到达，任务仍可完成
	require.NoError(t, h.svc.Finalize(ctx, active.ID, Outcome{Result: &provider.Result{AudioURL: "https://cdn/x.mp3"}}))
	assert.Equal(t, model.JobStatusCompleted, h.job(t, active.ID).Status)

	assert.ErrorIs(t, h.svc.Cancel(ctx, owner.ID, active.ID), ErrJobFinished)
	assert.ErrorIs(t, h.svc.Cancel(ctx, owner.ID, "missing"), ErrJobNotFound)
}

func TestGenerationService_RequeueStale(t *testing.T) {
	h := newGenHarness(t)
	ctx := context.Background()
	user := testutil.TestUser(t, h.db)

	stale := testutil.TestJob(t, h.db, user.ID)
	require.NoError(t, h.db.Model(&model.GenerationJob{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", time.Now().Add(-10*time.Minute)).Error)
	testutil.TestJob(t, h.db, user.ID)

	n, err := h.svc.RequeueStale(ctx, 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := h.queue.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, stale.ID, msgs[0].JobID)

	n, err = h.svc.RequeueStale(ctx, 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerationService_Available(t *testing.T) {
	h := newGenHarness(t)
	assert.Equal(t, []provider.Name{provider.Mureka, provider.Suno}, h.svc.Available())

	h.cfg.Providers.Default = "suno"
	assert.Equal(t, []provider.Name{provider.Suno, provider.Mureka}, h.svc.Available())

	h = newGenHarness(t, withoutProvider(provider.Mureka))
	assert.Equal(t, []provider.Name{provider.Suno}, h.svc.Available())
}
