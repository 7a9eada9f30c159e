package service

import (
	"context"
	"time"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/repository"
)

// QuotaService 每日生成次数的简单计数，不涉及计费
type QuotaService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

func NewQuotaService(userRepo *repository.UserRepository, cfg *config.Config) *QuotaService {
	return &QuotaService{
		userRepo: userRepo,
		cfg:      cfg,
	}
}

func (s *QuotaService) dailyLimit() int {
	if s.cfg == nil || s.cfg.Quota.DailyGenerations <= 0 {
		return 20
	}
	return s.cfg.Quota.DailyGenerations
}

// load 获取用户，必要时建档并按重置时间清零
func (s *QuotaService) load(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetOrCreate(ctx, userID, s.dailyLimit())
	if err != nil {
		return nil, err
	}

	// 检查是否需要重置
	if user.QuotaResetAt != nil && time.Now().After(*user.QuotaResetAt) {
		if err := s.userRepo.ResetQuota(ctx, userID, nextReset()); err != nil {
			return nil, err
		}
		return s.userRepo.GetByID(ctx, userID)
	}
	return user, nil
}

// UseQuota 原子地占用一次配额
func (s *QuotaService) UseQuota(ctx context.Context, userID int64) error {
	if _, err := s.load(ctx, userID); err != nil {
		return err
	}
	ok, err := s.userRepo.ConsumeQuota(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// RefundQuota 退还配额
func (s *QuotaService) RefundQuota(ctx context.Context, userID int64) error {
	return s.userRepo.RefundQuota(ctx, userID)
}

// ResetAllQuotas 重置所有用户配额
func (s *QuotaService) ResetAllQuotas(ctx context.Context) (int64, error) {
	return s.userRepo.ResetAllQuotas(ctx, nextReset())
}

// GetQuotaInfo 获取用户配额信息
func (s *QuotaService) GetQuotaInfo(ctx context.Context, userID int64) (*dto.QuotaInfo, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	remain := user.DailyQuota - user.QuotaUsedToday
	if remain < 0 {
		remain = 0
	}

	info := &dto.QuotaInfo{
		DailyQuota:     user.DailyQuota,
		QuotaUsedToday: user.QuotaUsedToday,
		QuotaRemaining: remain,
	}
	if user.QuotaResetAt != nil {
		info.QuotaResetAt = user.QuotaResetAt.Format(time.RFC3339)
	}
	return info, nil
}

// nextReset 下一个 UTC 零点
func nextReset() time.Time {
	return time.Now().UTC().Add(24 * time.Hour).Truncate(24 * time.Hour)
}
