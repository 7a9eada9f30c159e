package model

import (
	"time"
)

// User 仅保存生成配额相关信息，身份由外部 JWT 提供
type User struct {
	ID             int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DailyQuota     int        `gorm:"default:20" json:"daily_quota"`
	QuotaUsedToday int        `gorm:"default:0" json:"quota_used_today"`
	QuotaResetAt   *time.Time `json:"quota_reset_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
