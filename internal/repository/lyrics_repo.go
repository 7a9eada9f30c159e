package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/internal/model"
)

type LyricsRepository struct {
	db *gorm.DB
}

func NewLyricsRepository(db *gorm.DB) *LyricsRepository {
	return &LyricsRepository{db: db}
}

func (r *LyricsRepository) Create(ctx context.Context, record *model.LyricsRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *LyricsRepository) GetByTaskID(ctx context.Context, taskID string) (*model.LyricsRecord, error) {
	var record model.LyricsRecord
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Resolve 写入歌词回调结果，已结束的记录不再修改
func (r *LyricsRepository) Resolve(ctx context.Context, id int64, fields map[string]interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.LyricsRecord{}).
		Where("id = ? AND status = ?", id, model.LyricsStatusPending).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *LyricsRepository) staleQuery(ctx context.Context, before time.Time) *gorm.DB {
	terminalJobs := r.db.Model(&model.GenerationJob{}).Select("id").
		Where("status IN ?", []string{model.JobStatusCompleted, model.JobStatusFailed})
	return r.db.WithContext(ctx).Model(&model.LyricsRecord{}).
		Where("updated_at < ? AND job_id IN (?)", before, terminalJobs)
}

// CountStale 统计所属任务已结束且早于给定时间的记录
func (r *LyricsRepository) CountStale(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.staleQuery(ctx, before).Count(&n).Error
	return n, err
}

// DeleteStale 删除所属任务已结束且早于给定时间的记录
func (r *LyricsRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.staleQuery(ctx, before).Delete(&model.LyricsRecord{})
	return res.RowsAffected, res.Error
}
