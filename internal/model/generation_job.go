package model

import (
	"time"
)

// 任务状态
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ActiveStatuses 非终态
var ActiveStatuses = []string{JobStatusPending, JobStatusProcessing}

// IsTerminalStatus 是否为终态
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// GenerationJob 一次音乐生成请求及其生命周期
type GenerationJob struct {
	ID                string      `gorm:"primaryKey;size:36" json:"id"`
	UserID            int64       `gorm:"not null;index" json:"user_id"`
	RequestedProvider string      `gorm:"size:20;not null" json:"requested_provider"` // suno, mureka, auto
	Provider          string      `gorm:"size:20" json:"provider,omitempty"`
	ModelName         string      `gorm:"size:50" json:"model_name,omitempty"`
	Status            string      `gorm:"size:20;default:pending;index" json:"status"`
	Progress          int         `gorm:"default:0" json:"progress"`
	ProgressNote      string      `gorm:"size:200" json:"progress_note,omitempty"`
	Prompt            string      `gorm:"type:text;not null" json:"prompt"`
	Title             string      `gorm:"size:200" json:"title,omitempty"`
	Style             string      `gorm:"size:500" json:"style,omitempty"`
	Duration          int         `json:"duration,omitempty"`
	Instrumental      bool        `gorm:"default:false" json:"instrumental"`
	Lyrics            string      `gorm:"type:text" json:"lyrics,omitempty"`
	GeneratedLyrics   string      `gorm:"type:text" json:"generated_lyrics,omitempty"`
	Instruments       StringArray `gorm:"type:text" json:"instruments,omitempty"`
	ReferenceTrackURL string      `gorm:"size:500" json:"reference_track_url,omitempty"`

	// 派发中的租约，期间其他 worker 不会重复调用供应商
	DispatchLeaseUntil *time.Time `gorm:"index" json:"-"`

	// 供应商任务，派发成功后写入；task_id 唯一索引用于回调关联
	TaskID       *string    `gorm:"size:128;uniqueIndex" json:"task_id,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	PollAttempts int        `gorm:"default:0" json:"poll_attempts"`
	NextPollAt   *time.Time `gorm:"index" json:"next_poll_at,omitempty"`

	FallbackAttempted bool        `gorm:"default:false" json:"fallback_attempted"`
	ProvidersTried    StringArray `gorm:"type:text" json:"providers_tried,omitempty"`

	ArtifactID   *string `gorm:"size:36" json:"artifact_id,omitempty"`
	ErrorMessage string  `gorm:"type:text" json:"error_message,omitempty"`
	ErrorKind    string  `gorm:"size:30" json:"error_kind,omitempty"`

	CostEstimate int        `gorm:"default:0" json:"cost_estimate"`
	Cancelled    bool       `gorm:"default:false;index" json:"cancelled"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"index" json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Artifact *GeneratedArtifact `gorm:"-" json:"artifact,omitempty"`
}

func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// IsTerminal 任务是否已结束
func (j *GenerationJob) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// CorrelationToken 返回供应商任务 ID，未派发时为空
func (j *GenerationJob) CorrelationToken() string {
	if j.TaskID == nil {
		return ""
	}
	return *j.TaskID
}
