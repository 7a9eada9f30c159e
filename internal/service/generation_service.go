package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/pkg/oss"
	"github.com/qs3c/melody_go_server/internal/pkg/pubsub"
	"github.com/qs3c/melody_go_server/internal/pkg/queue"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/repository"
)

// Notifier 进度通知，生产环境为 Redis 发布者
type Notifier interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// BlobStore 保存供应商直接返回的音频字节
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DispatchQueue 派发消息队列
type DispatchQueue interface {
	Push(ctx context.Context, msg *queue.TaskMessage) error
}

// Outcome 任务的终态结果，Result 与 Err 二选一
type Outcome struct {
	Result *provider.Result
	Err    *provider.Error
}

// GenerationDeps 构造 GenerationService 所需的依赖
type GenerationDeps struct {
	DB           *gorm.DB
	JobRepo      *repository.JobRepository
	ArtifactRepo *repository.ArtifactRepository
	LyricsRepo   *repository.LyricsRepository
	Quota        *QuotaService
	Providers    provider.Registry
	Queue        DispatchQueue
	Notifier     Notifier  // 可选
	Blobs        BlobStore // 可选
	Config       *config.Config
	Logger       zerolog.Logger
}

// GenerationService 任务编排：提交、派发、进度、终态
type GenerationService struct {
	db           *gorm.DB
	jobRepo      *repository.JobRepository
	artifactRepo *repository.ArtifactRepository
	lyricsRepo   *repository.LyricsRepository
	quota        *QuotaService
	providers    provider.Registry
	queue        DispatchQueue
	notifier     Notifier
	blobs        BlobStore
	cfg          *config.Config
	validate     *validator.Validate
	logger       zerolog.Logger
	now          func() time.Time
}

var errAlreadyFinal = errors.New("job already terminal")

func NewGenerationService(deps GenerationDeps) *GenerationService {
	v := validator.New()
	// 与 gin 绑定共用同一套标签
	v.SetTagName("binding")

	return &GenerationService{
		db:           deps.DB,
		jobRepo:      deps.JobRepo,
		artifactRepo: deps.ArtifactRepo,
		lyricsRepo:   deps.LyricsRepo,
		quota:        deps.Quota,
		providers:    deps.Providers,
		queue:        deps.Queue,
		notifier:     deps.Notifier,
		blobs:        deps.Blobs,
		cfg:          deps.Config,
		validate:     v,
		logger:       deps.Logger.With().Str("component", "generation").Logger(),
		now:          time.Now,
	}
}

// Available 已配置的供应商，默认供应商排在最前
func (s *GenerationService) Available() []provider.Name {
	def, _ := provider.ParseName(s.cfg.Providers.Default)
	var out []provider.Name
	if _, ok := s.providers.Get(def); ok && def != provider.Auto {
		out = append(out, def)
	}
	for _, name := range []provider.Name{provider.Mureka, provider.Suno} {
		if name == def {
			continue
		}
		if _, ok := s.providers.Get(name); ok {
			out = append(out, name)
		}
	}
	return out
}

func (s *GenerationService) selectorConfig() SelectorConfig {
	def, _ := provider.ParseName(s.cfg.Providers.Default)
	return SelectorConfig{
		Default:             def,
		LongPromptThreshold: s.cfg.Providers.LongPromptThreshold,
		Available:           s.Available(),
		Models: map[provider.Name]string{
			provider.Suno:   s.cfg.Providers.Suno.Model,
			provider.Mureka: s.cfg.Providers.Mureka.Model,
		},
	}
}

func (s *GenerationService) providerConfig(name provider.Name) config.ProviderConfig {
	if name == provider.Suno {
		return s.cfg.Providers.Suno
	}
	return s.cfg.Providers.Mureka
}

// EstimateCost 供应商基础费用，加上每开始的 60 秒计 1
func EstimateCost(baseCost, durationSeconds int) int {
	if durationSeconds <= 0 {
		return baseCost
	}
	return baseCost + (durationSeconds+59)/60
}

func normalizeRequest(req *dto.SubmitRequest) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Title = strings.TrimSpace(req.Title)
	req.Style = strings.TrimSpace(req.Style)
	req.Lyrics = strings.TrimSpace(req.Lyrics)
	req.ReferenceTrackURL = strings.TrimSpace(req.ReferenceTrackURL)
	instruments := make([]string, 0, len(req.Instruments))
	for _, inst := range req.Instruments {
		if inst = strings.TrimSpace(inst); inst != "" {
			instruments = append(instruments, inst)
		}
	}
	req.Instruments = instruments
}

// Submit 校验并创建任务，派发在 worker 中异步进行
func (s *GenerationService) Submit(ctx context.Context, userID int64, req *dto.SubmitRequest) (*dto.SubmitResponse, error) {
	normalizeRequest(req)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be blank", ErrValidation)
	}

	requested, ok := provider.ParseName(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrValidation, req.Provider)
	}
	available := s.Available()
	if len(available) == 0 {
		return nil, ErrNoProvider
	}
	if requested != provider.Auto {
		if _, ok := s.providers.Get(requested); !ok {
			return nil, fmt.Errorf("%w: provider %q is not available", ErrValidation, requested)
		}
	}

	if err := s.quota.UseQuota(ctx, userID); err != nil {
		return nil, err
	}

	predicted := SelectProvider(selectionInput(requested, req), s.selectorConfig())
	job := &model.GenerationJob{
		ID:                uuid.NewString(),
		UserID:            userID,
		RequestedProvider: string(requested),
		Status:            model.JobStatusPending,
		Prompt:            req.Prompt,
		Title:             req.Title,
		Style:             req.Style,
		Duration:          req.Duration,
		Instrumental:      req.Instrumental,
		Lyrics:            req.Lyrics,
		Instruments:       model.StringArray(req.Instruments),
		ReferenceTrackURL: req.ReferenceTrackURL,
		ProvidersTried:    model.StringArray{},
		CostEstimate:      EstimateCost(s.providerConfig(predicted.Provider).BaseCost, req.Duration),
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		if rerr := s.quota.RefundQuota(ctx, userID); rerr != nil {
			s.logger.Error().Err(rerr).Int64("user_id", userID).Msg("refund quota failed")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	log := s.logger.With().Str("job_id", job.ID).Logger()
	if err := s.queue.Push(ctx, &queue.TaskMessage{Kind: queue.KindDispatch, JobID: job.ID}); err != nil {
		log.Error().Err(err).Msg("enqueue dispatch failed")
		pe := &provider.Error{Kind: provider.KindDispatch, Message: "dispatch could not be scheduled", Err: err}
		if ferr := s.Finalize(ctx, job.ID, Outcome{Err: pe}); ferr != nil {
			return nil, ferr
		}
		return &dto.SubmitResponse{JobID: job.ID, Status: model.JobStatusFailed}, nil
	}

	log.Info().Int64("user_id", userID).Str("requested_provider", job.RequestedProvider).
		Int("cost_estimate", job.CostEstimate).Msg("generation submitted")
	return &dto.SubmitResponse{JobID: job.ID, Status: job.Status}, nil
}

func selectionInput(requested provider.Name, req *dto.SubmitRequest) SelectionInput {
	return SelectionInput{
		Requested:         requested,
		Instrumental:      req.Instrumental,
		Prompt:            req.Prompt,
		Instruments:       req.Instruments,
		ReferenceTrackURL: req.ReferenceTrackURL,
	}
}

// Dispatch 选择供应商并提交；可换供应商的失败在同一任务上重试一次其他供应商
func (s *GenerationService) Dispatch(ctx context.Context, jobID string) (err error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrJobNotFound
		}
		return err
	}
	log := s.logger.With().Str("job_id", job.ID).Logger()
	if job.Status != model.JobStatusPending {
		log.Debug().Str("status", job.Status).Msg("dispatch skipped, job not pending")
		return nil
	}

	// 同一任务同时只允许一个 worker 调用供应商，否则会产生重复计费的任务
	now := s.now()
	claimed, err := s.jobRepo.ClaimDispatch(ctx, job.ID, now, now.Add(s.dispatchLease()))
	if err != nil {
		return fmt.Errorf("claim dispatch: %w", err)
	}
	if !claimed {
		log.Info().Msg("dispatch skipped, job is held by another worker")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("dispatch panicked")
			pe := provider.NewError("", provider.KindDispatch, "internal error during dispatch")
			err = s.Finalize(ctx, job.ID, Outcome{Err: pe})
		}
	}()

	requested, _ := provider.ParseName(job.RequestedProvider)
	sel := SelectProvider(SelectionInput{
		Requested:         requested,
		Instrumental:      job.Instrumental,
		Prompt:            job.Prompt,
		Instruments:       job.Instruments,
		ReferenceTrackURL: job.ReferenceTrackURL,
	}, s.selectorConfig())
	log.Info().Str("provider", string(sel.Provider)).Str("reason", sel.Reason).Msg("provider selected")

	tried := append(model.StringArray{}, job.ProvidersTried...)
	target, modelName := sel.Provider, sel.Model

	for {
		tried = append(tried, string(target))
		res, derr := s.dispatchOnce(ctx, job, target, modelName)
		if derr == nil {
			return s.markDispatched(ctx, job, target, modelName, tried, res)
		}

		pe := provider.Normalize(target, derr)
		log.Warn().Err(pe).Str("provider", string(target)).Str("kind", string(pe.Kind)).Msg("dispatch failed")

		if s.cfg.Providers.FallbackEnabled && pe.FallbackEligible() {
			if next, ok := FallbackFor(target, tried, s.Available()); ok {
				note := fmt.Sprintf("%s unavailable (%s), trying %s", target, pe.Kind, next)
				n, uerr := s.jobRepo.UpdateIfStatus(ctx, job.ID, []string{model.JobStatusPending}, map[string]interface{}{
					"fallback_attempted":   true,
					"providers_tried":      tried,
					"progress_note":        note,
					"dispatch_lease_until": s.now().Add(s.dispatchLease()),
				})
				if uerr != nil {
					return uerr
				}
				if n == 0 {
					log.Info().Msg("job left pending during fallback, stopping")
					return nil
				}
				log.Info().Str("from", string(target)).Str("to", string(next)).Msg("falling back to another provider")
				s.notify(ctx, job, pubsub.TypeProgress, job.Progress, note)
				target, modelName = next, s.providerConfig(next).Model
				continue
			}
		}

		return s.finalize(ctx, job.ID, Outcome{Err: pe}, map[string]interface{}{"providers_tried": tried})
	}
}

// dispatchOnce 调用适配器，panic 转换为派发错误
func (s *GenerationService) dispatchOnce(ctx context.Context, job *model.GenerationJob, target provider.Name, modelName string) (res *provider.DispatchResult, err error) {
	adapter, ok := s.providers.Get(target)
	if !ok {
		return nil, provider.NewError(target, provider.KindDispatch, "provider is not configured")
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", job.ID).Str("provider", string(target)).Interface("panic", r).Msg("adapter panicked")
			res, err = nil, provider.NewError(target, provider.KindDispatch, "provider adapter failed unexpectedly")
		}
	}()

	return adapter.Dispatch(ctx, provider.Request{
		JobID:             job.ID,
		Model:             modelName,
		Title:             job.Title,
		Prompt:            job.Prompt,
		Style:             job.Style,
		Duration:          job.Duration,
		Instrumental:      job.Instrumental,
		Lyrics:            job.Lyrics,
		Instruments:       job.Instruments,
		ReferenceTrackURL: job.ReferenceTrackURL,
		OnLyricsTask: func(ctx context.Context, taskID string) {
			s.recordLyricsTask(ctx, job.ID, target, taskID)
		},
	})
}

// recordLyricsTask 歌词子任务受理即落库为 pending，派发期间到达的歌词回调据此识别
func (s *GenerationService) recordLyricsTask(ctx context.Context, jobID string, target provider.Name, taskID string) {
	if s.lyricsRepo == nil {
		return
	}
	rec := &model.LyricsRecord{JobID: jobID, Provider: string(target), TaskID: taskID, Status: model.LyricsStatusPending}
	if err := s.lyricsRepo.Create(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("lyrics_task_id", taskID).Msg("save lyrics record failed")
	}
}

// resolveLyricsTask 派发成功后写入歌词结果；回调已先一步写入时保持不变
func (s *GenerationService) resolveLyricsTask(ctx context.Context, job *model.GenerationJob, target provider.Name, res *provider.DispatchResult) error {
	fields := map[string]interface{}{
		"status": model.LyricsStatusCompleted,
		"title":  provider.Truncate(res.LyricsTitle, 200),
		"text":   res.Lyrics,
	}
	rec, err := s.lyricsRepo.GetByTaskID(ctx, res.LyricsTaskID)
	switch {
	case err == nil:
		_, err = s.lyricsRepo.Resolve(ctx, rec.ID, fields)
		return err
	case repository.IsNotFound(err):
		return s.lyricsRepo.Create(ctx, &model.LyricsRecord{
			JobID:    job.ID,
			Provider: string(target),
			TaskID:   res.LyricsTaskID,
			Status:   model.LyricsStatusCompleted,
			Title:    provider.Truncate(res.LyricsTitle, 200),
			Text:     res.Lyrics,
		})
	default:
		return err
	}
}

func (s *GenerationService) markDispatched(ctx context.Context, job *model.GenerationJob, target provider.Name, modelName string, tried model.StringArray, res *provider.DispatchResult) error {
	log := s.logger.With().Str("job_id", job.ID).Str("provider", string(target)).Str("task_id", res.TaskID).Logger()

	now := s.now()
	nextPoll := now.Add(s.pollInitialDelay())
	if res.Model != "" {
		modelName = res.Model
	}
	progress := job.Progress
	if progress < 5 {
		progress = 5
	}
	note := "dispatched to " + string(target)

	fields := map[string]interface{}{
		"status":               model.JobStatusProcessing,
		"provider":             string(target),
		"model_name":           modelName,
		"task_id":              res.TaskID,
		"dispatched_at":        now,
		"dispatch_lease_until": nil,
		"next_poll_at":         nextPoll,
		"poll_attempts":        0,
		"providers_tried":      tried,
		"progress":             progress,
		"progress_note":        note,
		"cost_estimate":        EstimateCost(s.providerConfig(target).BaseCost, job.Duration),
	}
	if res.Lyrics != "" {
		fields["generated_lyrics"] = res.Lyrics
	}
	if job.Title == "" && res.LyricsTitle != "" {
		fields["title"] = provider.Truncate(res.LyricsTitle, 200)
	}

	n, err := s.jobRepo.UpdateIfStatus(ctx, job.ID, []string{model.JobStatusPending}, fields)
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	if n == 0 {
		// 派发期间任务已被终结，供应商侧的任务只能放弃
		log.Warn().Msg("job no longer pending after dispatch, provider task orphaned")
		return nil
	}

	if res.LyricsTaskID != "" && s.lyricsRepo != nil {
		if err := s.resolveLyricsTask(ctx, job, target, res); err != nil {
			log.Warn().Err(err).Str("lyrics_task_id", res.LyricsTaskID).Msg("save lyrics record failed")
		}
	}

	log.Info().Str("model", modelName).Time("next_poll_at", nextPoll).Msg("job dispatched")
	job.Status = model.JobStatusProcessing
	job.Provider = string(target)
	s.notify(ctx, job, pubsub.TypeProgress, progress, note)
	return nil
}

func (s *GenerationService) dispatchLease() time.Duration {
	if s.cfg.Queue.DispatchLease > 0 {
		return s.cfg.Queue.DispatchLease
	}
	return 10 * time.Minute
}

func (s *GenerationService) pollInitialDelay() time.Duration {
	if s.cfg.Poll.InitialDelay > 0 {
		return s.cfg.Poll.InitialDelay
	}
	return 5 * time.Second
}

// RecordProgress 进度只增不减，终态任务忽略
func (s *GenerationService) RecordProgress(ctx context.Context, jobID string, percent int, note string) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrJobNotFound
		}
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if percent > 100 {
		percent = 100
	}
	if percent < job.Progress {
		percent = job.Progress
	}
	note = provider.Truncate(note, 200)
	if note == "" {
		note = job.ProgressNote
	}

	n, err := s.jobRepo.UpdateProgress(ctx, jobID, percent, note)
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if n > 0 {
		s.notify(ctx, job, pubsub.TypeProgress, percent, note)
	}
	return nil
}

// Finalize 写入终态，先到者生效，重复调用无副作用
func (s *GenerationService) Finalize(ctx context.Context, jobID string, outcome Outcome) error {
	return s.finalize(ctx, jobID, outcome, nil)
}

func (s *GenerationService) finalize(ctx context.Context, jobID string, outcome Outcome, extra map[string]interface{}) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrJobNotFound
		}
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if outcome.Err == nil {
		result, perr := s.storeAudio(ctx, job, outcome.Result)
		if perr == nil {
			return s.complete(ctx, job, result)
		}
		outcome.Err = perr
	}
	return s.fail(ctx, job, outcome.Err, extra)
}

// storeAudio 字节形式的音频先上传，没有可播放地址则视为无产物
func (s *GenerationService) storeAudio(ctx context.Context, job *model.GenerationJob, result *provider.Result) (*provider.Result, *provider.Error) {
	name := provider.Name(job.Provider)
	if result == nil {
		return nil, provider.NewError(name, provider.KindNoArtifact, "provider returned no result")
	}
	if strings.TrimSpace(result.AudioURL) == "" && len(result.AudioData) > 0 {
		if s.blobs == nil {
			return nil, provider.NewError(name, provider.KindNoArtifact, "no storage configured for audio data")
		}
		key := fmt.Sprintf("audio/%s/%s%s", s.now().Format("20060102"), job.ID, oss.ExtensionFor(result.ContentType))
		url, err := s.blobs.Put(ctx, key, result.AudioData, result.ContentType)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("store audio failed")
			return nil, &provider.Error{Provider: name, Kind: provider.KindNoArtifact, Message: "audio could not be stored", Err: err}
		}
		stored := *result
		stored.AudioURL = url
		stored.AudioData = nil
		result = &stored
	}
	if !result.Usable() {
		return nil, provider.NewError(name, provider.KindNoArtifact, "result carried no audio location")
	}
	return result, nil
}

func (s *GenerationService) complete(ctx context.Context, job *model.GenerationJob, result *provider.Result) error {
	now := s.now()
	title := result.Title
	if title == "" {
		title = job.Title
	}
	lyrics := result.Lyrics
	if lyrics == "" {
		lyrics = job.GeneratedLyrics
	}
	if lyrics == "" {
		lyrics = job.Lyrics
	}
	artifact := &model.GeneratedArtifact{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		UserID:         job.UserID,
		Title:          provider.Truncate(title, 200),
		AudioURL:       result.AudioURL,
		ImageURL:       result.ImageURL,
		Duration:       result.Duration,
		Lyrics:         lyrics,
		Provider:       job.Provider,
		ProviderClipID: result.ClipID,
		Tags:           model.StringArray(result.Tags),
		CreatedAt:      now,
	}
	if artifact.Tags == nil {
		artifact.Tags = model.StringArray{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.artifactRepo.WithTx(tx).Create(ctx, artifact); err != nil {
			return err
		}
		n, err := s.jobRepo.WithTx(tx).UpdateIfStatus(ctx, job.ID, model.ActiveStatuses, map[string]interface{}{
			"status":        model.JobStatusCompleted,
			"progress":      100,
			"progress_note": "completed",
			"artifact_id":   artifact.ID,
			"completed_at":  now,
			"next_poll_at":  nil,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errAlreadyFinal
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyFinal) {
			return nil
		}
		// 并发的另一次终结已提交时，唯一索引会拒绝第二个产物
		if latest, gerr := s.jobRepo.GetByID(ctx, job.ID); gerr == nil && latest.IsTerminal() {
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("provider", job.Provider).Str("artifact_id", artifact.ID).Msg("job completed")
	s.publish(ctx, &pubsub.ProgressMessage{
		Type:       pubsub.TypeCompleted,
		UserID:     job.UserID,
		JobID:      job.ID,
		Status:     model.JobStatusCompleted,
		Provider:   job.Provider,
		Progress:   100,
		ArtifactID: artifact.ID,
		AudioURL:   artifact.AudioURL,
	})
	return nil
}

func (s *GenerationService) fail(ctx context.Context, job *model.GenerationJob, pe *provider.Error, extra map[string]interface{}) error {
	if pe == nil {
		pe = provider.NewError(provider.Name(job.Provider), provider.KindGeneration, "")
	}
	now := s.now()
	fields := map[string]interface{}{
		"status":        model.JobStatusFailed,
		"error_message": pe.UserMessage(),
		"error_kind":    string(pe.Kind),
		"progress_note": "failed",
		"completed_at":  now,
		"next_poll_at":  nil,
	}
	for k, v := range extra {
		fields[k] = v
	}

	n, err := s.jobRepo.UpdateIfStatus(ctx, job.ID, model.ActiveStatuses, fields)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := s.quota.RefundQuota(ctx, job.UserID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("refund quota failed")
	}

	s.logger.Info().Str("job_id", job.ID).Str("provider", job.Provider).Str("kind", string(pe.Kind)).
		Str("detail", pe.Error()).Msg("job failed")
	s.publish(ctx, &pubsub.ProgressMessage{
		Type:     pubsub.TypeFailed,
		UserID:   job.UserID,
		JobID:    job.ID,
		Status:   model.JobStatusFailed,
		Provider: job.Provider,
		Progress: job.Progress,
		Error:    pe.UserMessage(),
	})
	return nil
}

func (s *GenerationService) notify(ctx context.Context, job *model.GenerationJob, typ string, progress int, note string) {
	s.publish(ctx, &pubsub.ProgressMessage{
		Type:     typ,
		UserID:   job.UserID,
		JobID:    job.ID,
		Status:   job.Status,
		Provider: job.Provider,
		Progress: progress,
		Message:  note,
	})
}

func (s *GenerationService) publish(ctx context.Context, msg *pubsub.ProgressMessage) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishProgress(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("job_id", msg.JobID).Msg("publish progress failed")
	}
}

// GetStatus 只读查询，仅任务所有者可见
func (s *GenerationService) GetStatus(ctx context.Context, userID int64, jobID string) (*dto.JobStatusResponse, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobPermission
	}

	var artifact *model.GeneratedArtifact
	if job.ArtifactID != nil {
		artifact, err = s.artifactRepo.GetByID(ctx, *job.ArtifactID)
		if err != nil && !repository.IsNotFound(err) {
			return nil, err
		}
	}
	return toStatusResponse(job, artifact), nil
}

// List 用户任务列表
func (s *GenerationService) List(ctx context.Context, userID int64, page, pageSize int, status string) ([]*dto.JobStatusResponse, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	jobs, total, err := s.jobRepo.ListByUser(ctx, userID, status, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.ArtifactID != nil {
			ids = append(ids, *j.ArtifactID)
		}
	}
	artifacts, err := s.artifactRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.JobStatusResponse, 0, len(jobs))
	for _, j := range jobs {
		var a *model.GeneratedArtifact
		if j.ArtifactID != nil {
			a = artifacts[*j.ArtifactID]
		}
		items = append(items, toStatusResponse(j, a))
	}
	return items, total, nil
}

// Cancel 仅做标记：供应商侧任务不会停止，轮询或回调仍可能把它推进到终态
func (s *GenerationService) Cancel(ctx context.Context, userID int64, jobID string) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrJobNotFound
		}
		return err
	}
	if job.UserID != userID {
		return ErrJobPermission
	}
	if job.IsTerminal() {
		return ErrJobFinished
	}

	n, err := s.jobRepo.UpdateIfStatus(ctx, jobID, model.ActiveStatuses, map[string]interface{}{"cancelled": true})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobFinished
	}
	s.logger.Info().Str("job_id", jobID).Msg("job cancelled by owner")
	return nil
}

// RequeueStale 重新投递长时间停留在 pending 的任务
func (s *GenerationService) RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	now := s.now()
	jobs, err := s.jobRepo.ListStalePending(ctx, now.Add(-olderThan), now, limit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, job := range jobs {
		if err := s.jobRepo.Touch(ctx, job.ID); err != nil {
			return requeued, err
		}
		if err := s.queue.Push(ctx, &queue.TaskMessage{Kind: queue.KindDispatch, JobID: job.ID}); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func toStatusResponse(job *model.GenerationJob, artifact *model.GeneratedArtifact) *dto.JobStatusResponse {
	tried := []string(job.ProvidersTried)
	if tried == nil {
		tried = []string{}
	}
	resp := &dto.JobStatusResponse{
		ID:                job.ID,
		Status:            job.Status,
		Progress:          job.Progress,
		ProgressNote:      job.ProgressNote,
		RequestedProvider: job.RequestedProvider,
		Provider:          job.Provider,
		Model:             job.ModelName,
		Title:             job.Title,
		Prompt:            job.Prompt,
		Style:             job.Style,
		Instrumental:      job.Instrumental,
		FallbackAttempted: job.FallbackAttempted,
		ProvidersTried:    tried,
		CostEstimate:      job.CostEstimate,
		Cancelled:         job.Cancelled,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	if job.Status == model.JobStatusFailed {
		resp.Error = &dto.JobError{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	if artifact != nil {
		resp.Artifact = &dto.ArtifactInfo{
			ID:       artifact.ID,
			Title:    artifact.Title,
			AudioURL: artifact.AudioURL,
			ImageURL: artifact.ImageURL,
			Duration: artifact.Duration,
			Lyrics:   artifact.Lyrics,
			Tags:     artifact.Tags,
		}
	}
	return resp
}
