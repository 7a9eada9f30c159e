package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/internal/model"
)

var nextUserID int64 = 1000

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		ID:             atomic.AddInt64(&nextUserID, 1),
		DailyQuota:     5,
		QuotaUsedToday: 0,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithQuota 设置用户配额
func WithQuota(daily, used int) func(*model.User) {
	return func(u *model.User) {
		u.DailyQuota = daily
		u.QuotaUsedToday = used
	}
}

// TestJob 创建测试生成任务，默认处于 pending
func TestJob(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.GenerationJob)) *model.GenerationJob {
	t.Helper()

	job := &model.GenerationJob{
		ID:                uuid.NewString(),
		UserID:            userID,
		RequestedProvider: "auto",
		Status:            model.JobStatusPending,
		Prompt:            "a calm piano piece",
		Instrumental:      true,
		Instruments:       model.StringArray{},
		ProvidersTried:    model.StringArray{},
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithProcessing 已派发到指定供应商的任务
func WithProcessing(provider, taskID string, nextPollAt time.Time) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		now := time.Now()
		j.Status = model.JobStatusProcessing
		j.Provider = provider
		j.TaskID = &taskID
		j.DispatchedAt = &now
		j.NextPollAt = &nextPollAt
		j.Progress = 5
		j.ProvidersTried = model.StringArray{provider}
	}
}

// WithStatus 设置任务状态
func WithStatus(status string) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.Status = status
	}
}
