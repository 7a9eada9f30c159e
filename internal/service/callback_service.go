package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/provider/suno"
	"github.com/qs3c/melody_go_server/internal/repository"
)

const (
	correlationSearchLimit = 5
	// 兜底查找要求的最短 token，过短的值可能是任意 task id 的一部分
	minFallbackToken = 8
)

// CallbackService 处理供应商推送。只访问数据库，不调用供应商接口。
type CallbackService struct {
	jobRepo    *repository.JobRepository
	lyricsRepo *repository.LyricsRepository
	generation *GenerationService
	window     time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewCallbackService(jobRepo *repository.JobRepository, lyricsRepo *repository.LyricsRepository, generation *GenerationService, window time.Duration, logger zerolog.Logger) *CallbackService {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &CallbackService{
		jobRepo:    jobRepo,
		lyricsRepo: lyricsRepo,
		generation: generation,
		window:     window,
		logger:     logger.With().Str("component", "callback").Logger(),
		now:        time.Now,
	}
}

// HandleSuno 处理 Suno 回调。
// 返回 suno.ErrMalformedCallback 表示请求体无效，ErrCorrelationNotFound 表示无法关联（应确认接收），其他错误为存储故障。
func (s *CallbackService) HandleSuno(ctx context.Context, body []byte) error {
	event, err := suno.ParseCallback(body)
	if err != nil {
		s.logger.Warn().Err(err).Int("size", len(body)).Msg("rejecting suno callback")
		return err
	}
	return s.Handle(ctx, event)
}

// Handle 关联顺序：歌词子任务记录，task_id 精确匹配，最近任务中带前缀的旧格式 task_id
func (s *CallbackService) Handle(ctx context.Context, event *provider.CallbackEvent) error {
	log := s.logger.With().Str("provider", string(event.Provider)).Str("task_id", event.TaskID).
		Str("kind", string(event.Kind)).Logger()

	rec, err := s.lyricsRepo.GetByTaskID(ctx, event.TaskID)
	switch {
	case err == nil:
		return s.handleLyrics(ctx, rec, event)
	case !repository.IsNotFound(err):
		return fmt.Errorf("lookup lyrics record: %w", err)
	}

	job, err := s.correlate(ctx, event.Provider, event.TaskID)
	if err != nil {
		if errors.Is(err, ErrCorrelationNotFound) {
			log.Warn().Msg("callback matched no job")
		}
		return err
	}
	log = log.With().Str("job_id", job.ID).Logger()

	if job.IsTerminal() {
		log.Info().Str("status", job.Status).Msg("callback for finished job ignored")
		return nil
	}

	switch event.Kind {
	case provider.CallbackProcessing:
		return s.generation.RecordProgress(ctx, job.ID, event.Progress, event.Note)
	case provider.CallbackComplete:
		result := event.FirstUsable()
		if result == nil {
			log.Warn().Int("entries", len(event.Results)).Msg("complete callback without audio")
			return s.generation.Finalize(ctx, job.ID, Outcome{
				Err: provider.NewError(event.Provider, provider.KindNoArtifact, "callback carried no audio url"),
			})
		}
		log.Info().Str("clip_id", result.ClipID).Msg("complete callback received")
		return s.generation.Finalize(ctx, job.ID, Outcome{Result: result})
	case provider.CallbackError:
		pe := event.Err
		if pe == nil {
			pe = provider.NewError(event.Provider, provider.KindGeneration, "")
		}
		log.Info().Str("error_kind", string(pe.Kind)).Msg("error callback received")
		return s.generation.Finalize(ctx, job.ID, Outcome{Err: pe})
	}
	return nil
}

func (s *CallbackService) correlate(ctx context.Context, name provider.Name, token string) (*model.GenerationJob, error) {
	job, err := s.jobRepo.GetByTaskID(ctx, token)
	if err == nil {
		return job, nil
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("lookup job by task id: %w", err)
	}

	if len(token) < minFallbackToken {
		return nil, ErrCorrelationNotFound
	}

	// 旧数据的 task_id 带类型前缀
	candidates, err := s.jobRepo.SearchRecentByToken(ctx, string(name), token, s.now().Add(-s.window), correlationSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search recent jobs: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrCorrelationNotFound
	}
	s.logger.Info().Str("task_id", token).Str("job_id", candidates[0].ID).Int("candidates", len(candidates)).
		Msg("callback correlated by recent search")
	return candidates[0], nil
}

// handleLyrics 歌词回调只更新歌词记录，不改变任务状态
func (s *CallbackService) handleLyrics(ctx context.Context, rec *model.LyricsRecord, event *provider.CallbackEvent) error {
	log := s.logger.With().Str("task_id", rec.TaskID).Str("job_id", rec.JobID).Logger()

	var fields map[string]interface{}
	switch event.Kind {
	case provider.CallbackError:
		msg := "lyrics generation failed"
		if event.Err != nil {
			msg = event.Err.UserMessage()
		}
		fields = map[string]interface{}{"status": model.LyricsStatusFailed, "error_message": msg}
	case provider.CallbackComplete:
		lyrics := event.FirstLyrics()
		if lyrics == nil {
			fields = map[string]interface{}{"status": model.LyricsStatusFailed, "error_message": "lyrics callback carried no text"}
			break
		}
		fields = map[string]interface{}{"status": model.LyricsStatusCompleted, "title": provider.Truncate(lyrics.Title, 200), "text": lyrics.Text}
	default:
		return nil
	}

	n, err := s.lyricsRepo.Resolve(ctx, rec.ID, fields)
	if err != nil {
		return fmt.Errorf("resolve lyrics record: %w", err)
	}
	if n == 0 {
		log.Debug().Str("status", rec.Status).Msg("lyrics record already resolved")
		return nil
	}
	log.Info().Interface("status", fields["status"]).Msg("lyrics callback recorded")
	return nil
}
