package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/api/middleware"
	"github.com/qs3c/melody_go_server/internal/pkg/response"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/repository"
	"github.com/qs3c/melody_go_server/internal/service"
	"github.com/qs3c/melody_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiHarness struct {
	db        *gorm.DB
	cfg       *config.Config
	jobs      *repository.JobRepository
	quota     *service.QuotaService
	gen       *service.GenerationService
	callbacks *service.CallbackService
	queue     *testutil.FakeQueue
	suno      *testutil.FakeAdapter
	mureka    *testutil.FakeAdapter
}

func newAPIHarness(t *testing.T, opts ...func(*config.Config, provider.Registry)) *apiHarness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	h := &apiHarness{
		db:     db,
		cfg:    testutil.TestConfig(),
		jobs:   repository.NewJobRepository(db),
		queue:  &testutil.FakeQueue{},
		suno:   &testutil.FakeAdapter{ProviderName: provider.Suno},
		mureka: &testutil.FakeAdapter{ProviderName: provider.Mureka},
	}
	registry := provider.Registry{provider.Suno: h.suno, provider.Mureka: h.mureka}
	for _, opt := range opts {
		opt(h.cfg, registry)
	}

	lyrics := repository.NewLyricsRepository(db)
	h.quota = service.NewQuotaService(repository.NewUserRepository(db), h.cfg)
	h.gen = service.NewGenerationService(service.GenerationDeps{
		DB:           db,
		JobRepo:      h.jobs,
		ArtifactRepo: repository.NewArtifactRepository(db),
		LyricsRepo:   lyrics,
		Quota:        h.quota,
		Providers:    registry,
		Queue:        h.queue,
		Notifier:     &testutil.FakeNotifier{},
		Blobs:        &testutil.FakeBlobStore{},
		Config:       h.cfg,
		Logger:       zerolog.Nop(),
	})
	h.callbacks = service.NewCallbackService(h.jobs, lyrics, h.gen, h.cfg.Callback.FallbackWindow, zerolog.Nop())
	return h
}

func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req = httptest.NewRequest(method, path, nil)
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
