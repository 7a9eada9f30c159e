package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *JobRepository) WithTx(tx *gorm.DB) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Create(ctx context.Context, job *model.GenerationJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByTaskID 按供应商任务 ID 精确查找
func (r *JobRepository) GetByTaskID(ctx context.Context, taskID string) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateIfStatus 仅当任务处于给定状态之一时更新，返回受影响行数。
// 所有状态迁移都经过这里，0 行表示被并发的另一方抢先。
func (r *JobRepository) UpdateIfStatus(ctx context.Context, id string, statuses []string, fields map[string]interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(fields)
	return res.RowsAffected, res.Error
}

// UpdateProgress 进度只增不减，终态任务不受影响
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int, note string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND status IN ? AND progress <= ?", id, model.ActiveStatuses, progress).
		Updates(map[string]interface{}{
			"progress":      progress,
			"progress_note": note,
		})
	return res.RowsAffected, res.Error
}

// likeEscaper 转义 LIKE 通配符，配合 ESCAPE '!' 使用（不用反斜杠，MySQL 字符串里反斜杠本身需要转义）
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SearchRecentByToken 回调关联的兜底查找。
// 旧数据的 task_id 带有类型前缀（"<kind>/<token>"），精确匹配不到，这里只匹配斜杠之后的完整 token。
// 结果限定为同一供应商、窗口内更新过的任务，按更新时间倒序。
func (r *JobRepository) SearchRecentByToken(ctx context.Context, providerName, token string, since time.Time, limit int) ([]*model.GenerationJob, error) {
	var rows []*model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("provider = ? AND updated_at >= ?", providerName, since).
		Where("task_id LIKE ? ESCAPE '!'", "%/"+likeEscaper.Replace(token)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// sqlite 与 MySQL 的 LIKE 不区分大小写，这里再做一次精确比较
	jobs := rows[:0]
	for _, job := range rows {
		if strings.HasSuffix(job.CorrelationToken(), "/"+token) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ListDuePolls 到期需要轮询的任务
func (r *JobRepository) ListDuePolls(ctx context.Context, now time.Time, limit int) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_poll_at IS NOT NULL AND next_poll_at <= ?", model.JobStatusProcessing, now).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ClaimPoll 以旧的 next_poll_at 为条件推后到租约到期时间，成功者获得本轮轮询权
func (r *JobRepository) ClaimPoll(ctx context.Context, id string, current time.Time, leaseUntil time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND status = ? AND next_poll_at = ?", id, model.JobStatusProcessing, current).
		Update("next_poll_at", leaseUntil)
	return res.RowsAffected == 1, res.Error
}

// ListByUser 用户任务列表，不包含已取消的任务
func (r *JobRepository) ListByUser(ctx context.Context, userID int64, status string, page, pageSize int) ([]*model.GenerationJob, int64, error) {
	var jobs []*model.GenerationJob
	var total int64

	query := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("user_id = ? AND cancelled = ?", userID, false)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&jobs).Error
	return jobs, total, err
}

// ClaimDispatch 派发前占用 pending 任务，租约未过期时其他 worker 拿不到
func (r *JobRepository) ClaimDispatch(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Where("dispatch_lease_until IS NULL OR dispatch_lease_until < ?", now).
		Update("dispatch_lease_until", leaseUntil)
	return res.RowsAffected == 1, res.Error
}

// ListStalePending 长时间未被派发且无人持有租约的任务（派发消息可能丢失）
func (r *JobRepository) ListStalePending(ctx context.Context, before, now time.Time, limit int) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.JobStatusPending, before).
		Where("dispatch_lease_until IS NULL OR dispatch_lease_until < ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Touch 刷新 updated_at，避免刚重新入队的任务被重复扫描
func (r *JobRepository) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ?", id).Update("updated_at", time.Now()).Error
}

func (r *JobRepository) terminalBookkeeping(ctx context.Context, before time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("status IN ? AND updated_at < ?", []string{model.JobStatusCompleted, model.JobStatusFailed}, before).
		Where("next_poll_at IS NOT NULL OR poll_attempts > 0")
}

// CountPollBookkeeping 统计可清理的轮询记录
func (r *JobRepository) CountPollBookkeeping(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.terminalBookkeeping(ctx, before).Count(&n).Error
	return n, err
}

// ClearPollBookkeeping 清除终态任务的轮询字段，task_id 保留用于迟到回调的关联
func (r *JobRepository) ClearPollBookkeeping(ctx context.Context, before time.Time) (int64, error) {
	res := r.terminalBookkeeping(ctx, before).UpdateColumns(map[string]interface{}{
		"next_poll_at":  nil,
		"poll_attempts": 0,
	})
	return res.RowsAffected, res.Error
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
