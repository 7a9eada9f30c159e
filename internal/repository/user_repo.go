package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/melody_go_server/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetOrCreate 身份由外部 JWT 提供，首次出现的用户在这里建档
func (r *UserRepository) GetOrCreate(ctx context.Context, id int64, dailyQuota int) (*model.User, error) {
	user := &model.User{ID: id, DailyQuota: dailyQuota}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ConsumeQuota 配额未用完时原子地加一，返回是否成功
func (r *UserRepository) ConsumeQuota(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND quota_used_today < daily_quota", id).
		Update("quota_used_today", gorm.Expr("quota_used_today + 1"))
	return res.RowsAffected == 1, res.Error
}

func (r *UserRepository) RefundQuota(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND quota_used_today > 0", id).
		Update("quota_used_today", gorm.Expr("quota_used_today - 1")).Error
}

func (r *UserRepository) ResetQuota(ctx context.Context, id int64, nextResetAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"quota_used_today": 0,
		"quota_reset_at":   nextResetAt,
	}).Error
}

func (r *UserRepository) ResetAllQuotas(ctx context.Context, nextResetAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("1 = 1").Updates(map[string]interface{}{
		"quota_used_today": 0,
		"quota_reset_at":   nextResetAt,
	})
	return res.RowsAffected, res.Error
}
