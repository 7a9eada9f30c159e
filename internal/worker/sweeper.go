package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/repository"
)

// Sweeper 定时扫描到期任务并并发轮询
type Sweeper struct {
	jobs   *repository.JobRepository
	poller *Poller
	cfg    config.PollConfig
	logger zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewSweeper(jobs *repository.JobRepository, poller *Poller, cfg config.PollConfig, logger zerolog.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	logger = logger.With().Str("component", "sweeper").Logger()
	return &Sweeper{
		jobs:   jobs,
		poller: poller,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&logger)))),
		now:    time.Now,
	}
}

// SweepOnce 认领到期任务后轮询，返回本轮实际轮询的任务数
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.jobs.ListDuePolls(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due polls: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	polled := 0
	for _, job := range due {
		if job.NextPollAt == nil {
			continue
		}
		// 租约：把 next_poll_at 推后，崩溃的轮询在租约到期后会被重新捡起
		claimed, err := s.jobs.ClaimPoll(ctx, job.ID, *job.NextPollAt, now.Add(s.cfg.Lease))
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("claim poll failed")
			continue
		}
		if !claimed {
			continue
		}
		polled++

		jobID := job.ID
		g.Go(func() error {
			if err := s.poller.PollOnce(ctx, jobID); err != nil {
				s.logger.Error().Err(err).Str("job_id", jobID).Msg("poll failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return polled, nil
}

// Start 按 sweep_interval 启动定时扫描
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := "@every " + s.cfg.SweepInterval.String()
	_, err := s.cron.AddFunc(schedule, func() {
		n, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("sweep failed")
			return
		}
		if n > 0 {
			s.logger.Debug().Int("polled", n).Msg("sweep finished")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Int("concurrency", s.cfg.Concurrency).Msg("poll sweeper started")
	return nil
}

// Stop 停止调度并等待正在执行的扫描结束
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("poll sweeper stopped")
}
