package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/repository"
	"github.com/qs3c/melody_go_server/internal/service"
)

// JobFinalizer 轮询结果写回编排层
type JobFinalizer interface {
	RecordProgress(ctx context.Context, jobID string, percent int, note string) error
	Finalize(ctx context.Context, jobID string, outcome service.Outcome) error
}

// Poller 单步轮询。状态全部保存在 poll_attempts / next_poll_at 中，进程重启不丢失。
type Poller struct {
	jobs      *repository.JobRepository
	finalizer JobFinalizer
	providers provider.Registry
	cfg       config.PollConfig
	logger    zerolog.Logger
	now       func() time.Time
}

func NewPoller(jobs *repository.JobRepository, finalizer JobFinalizer, providers provider.Registry, cfg config.PollConfig, logger zerolog.Logger) *Poller {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 15 * time.Second
	}
	if cfg.Growth < 1 {
		cfg.Growth = 1.2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 30 * time.Second
	}
	return &Poller{
		jobs:      jobs,
		finalizer: finalizer,
		providers: providers,
		cfg:       cfg,
		logger:    logger.With().Str("component", "poller").Logger(),
		now:       time.Now,
	}
}

// Backoff 第 attempts 次轮询之后的等待时间
func (p *Poller) Backoff(attempts int) time.Duration {
	d := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Growth, float64(attempts))
	if d > float64(p.cfg.MaxDelay) || math.IsInf(d, 1) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// estimateProgress 供应商不报告进度时按已轮询次数估算，最多到 90
func estimateProgress(attempts, maxAttempts int) int {
	if maxAttempts <= 0 {
		return 10
	}
	est := 10 + attempts*80/maxAttempts
	if est > 90 {
		est = 90
	}
	return est
}

// PollOnce 对一个任务执行一次状态查询并推进生命周期
func (p *Poller) PollOnce(ctx context.Context, jobID string) (err error) {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != model.JobStatusProcessing {
		return nil
	}

	name := provider.Name(job.Provider)
	log := p.logger.With().Str("job_id", job.ID).Str("provider", job.Provider).Str("task_id", job.CorrelationToken()).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("poll panicked")
			err = p.finalizer.Finalize(ctx, job.ID, service.Outcome{
				Err: provider.NewError(name, provider.KindGeneration, "status check failed unexpectedly"),
			})
		}
	}()

	adapter, ok := p.providers.Get(name)
	if !ok {
		return p.finalizer.Finalize(ctx, job.ID, service.Outcome{
			Err: provider.NewError(name, provider.KindDispatch, "provider is no longer configured"),
		})
	}
	token := job.CorrelationToken()
	if token == "" {
		return p.finalizer.Finalize(ctx, job.ID, service.Outcome{
			Err: provider.NewError(name, provider.KindDispatch, "job has no provider task"),
		})
	}

	attempts := job.PollAttempts + 1
	status, ferr := adapter.FetchStatus(ctx, token)
	if ferr != nil {
		pe := provider.Normalize(name, ferr)
		if !pe.Retryable() {
			log.Warn().Err(pe).Msg("status check failed permanently")
			return p.finalizer.Finalize(ctx, job.ID, service.Outcome{Err: pe})
		}
		if attempts >= p.cfg.MaxAttempts {
			return p.timeout(ctx, job, attempts)
		}

		delay := p.Backoff(job.PollAttempts)
		if pe.Kind == provider.KindRateLimited {
			delay = p.cfg.RateLimitDelay
			if pe.RetryAfter > delay {
				delay = pe.RetryAfter
			}
		}
		log.Warn().Err(pe).Int("attempt", attempts).Dur("retry_in", delay).Msg("status check failed, will retry")
		return p.schedule(ctx, job.ID, attempts, delay)
	}

	switch status.State {
	case provider.StateDone:
		log.Info().Int("attempt", attempts).Msg("provider reported completion")
		return p.finalizer.Finalize(ctx, job.ID, service.Outcome{Result: status.Result})
	case provider.StateFailed:
		pe := status.Err
		if pe == nil {
			pe = provider.NewError(name, provider.KindGeneration, status.Note)
		}
		log.Info().Str("kind", string(pe.Kind)).Msg("provider reported failure")
		return p.finalizer.Finalize(ctx, job.ID, service.Outcome{Err: pe})
	}

	if attempts >= p.cfg.MaxAttempts {
		return p.timeout(ctx, job, attempts)
	}

	progress := status.Progress
	if progress <= 0 {
		progress = estimateProgress(attempts, p.cfg.MaxAttempts)
	}
	note := status.Note
	if note == "" {
		note = "waiting for " + job.Provider
	}
	if err := p.finalizer.RecordProgress(ctx, job.ID, progress, note); err != nil {
		return err
	}

	delay := p.Backoff(job.PollAttempts)
	log.Debug().Int("attempt", attempts).Int("progress", progress).Dur("next_in", delay).Msg("still pending")
	return p.schedule(ctx, job.ID, attempts, delay)
}

func (p *Poller) schedule(ctx context.Context, jobID string, attempts int, delay time.Duration) error {
	_, err := p.jobs.UpdateIfStatus(ctx, jobID, []string{model.JobStatusProcessing}, map[string]interface{}{
		"poll_attempts": attempts,
		"next_poll_at":  p.now().Add(delay),
	})
	if err != nil {
		return fmt.Errorf("schedule next poll: %w", err)
	}
	return nil
}

func (p *Poller) timeout(ctx context.Context, job *model.GenerationJob, attempts int) error {
	p.logger.Warn().Str("job_id", job.ID).Int("attempts", attempts).Msg("poll attempts exhausted")
	return p.finalizer.Finalize(ctx, job.ID, service.Outcome{
		Err: provider.NewError(provider.Name(job.Provider), provider.KindTimeout,
			fmt.Sprintf("no result after %d status checks", attempts)),
	})
}
