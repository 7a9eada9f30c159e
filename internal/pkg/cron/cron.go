package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const requeueBatch = 100

// QuotaResetter 每日配额重置
type QuotaResetter interface {
	ResetAllQuotas(ctx context.Context) (int64, error)
}

// StaleRequeuer 重新投递派发消息丢失的任务
type StaleRequeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Service 维护任务：UTC 零点重置配额，每分钟补投滞留的 pending 任务
type Service struct {
	quota        QuotaResetter
	requeuer     StaleRequeuer
	requeueAfter time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

func NewService(quota QuotaResetter, requeuer StaleRequeuer, requeueAfter time.Duration, logger zerolog.Logger) *Service {
	if requeueAfter <= 0 {
		requeueAfter = 2 * time.Minute
	}
	logger = logger.With().Str("component", "cron").Logger()
	return &Service{
		quota:        quota,
		requeuer:     requeuer,
		requeueAfter: requeueAfter,
		logger:       logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(&logger)), cron.SkipIfStillRunning(cron.PrintfLogger(&logger))),
		),
	}
}

// Start 启动定时任务，重复调用无效果
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.quota != nil {
		if _, err := s.cron.AddFunc("0 0 * * *", s.resetDailyQuotas); err != nil {
			return fmt.Errorf("schedule quota reset: %w", err)
		}
	}
	if s.requeuer != nil {
		if _, err := s.cron.AddFunc("@every 1m", s.requeueStale); err != nil {
			return fmt.Errorf("schedule requeue: %w", err)
		}
	}

	s.cron.Start()
	s.started = true
	s.logger.Info().Int("entries", len(s.cron.Entries())).Msg("cron service started")
	return nil
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info().Msg("cron service stopped")
}

func (s *Service) resetDailyQuotas() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("daily quota reset failed")
	}
}

func (s *Service) requeueStale() {
	if _, err := s.RequeueNow(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("requeue stale jobs failed")
	}
}

// RunNow 立即执行配额重置（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	if s.quota == nil {
		return 0, nil
	}
	n, err := s.quota.ResetAllQuotas(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("users", n).Msg("daily quota reset completed")
	return n, nil
}

// RequeueNow 立即补投滞留任务
func (s *Service) RequeueNow(ctx context.Context) (int, error) {
	if s.requeuer == nil {
		return 0, nil
	}
	n, err := s.requeuer.RequeueStale(ctx, s.requeueAfter, requeueBatch)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Warn().Int("jobs", n).Dur("older_than", s.requeueAfter).Msg("requeued stale pending jobs")
	}
	return n, nil
}
