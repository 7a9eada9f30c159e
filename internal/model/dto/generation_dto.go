package dto

// SubmitRequest 创建生成任务
type SubmitRequest struct {
	Prompt            string   `json:"prompt" binding:"required,max=3000"`
	Provider          string   `json:"provider" binding:"omitempty,oneof=suno mureka auto"`
	Title             string   `json:"title" binding:"max=200"`
	Style             string   `json:"style" binding:"max=500"`
	Duration          int      `json:"duration" binding:"gte=0,lte=480"` // 秒
	Instrumental      bool     `json:"instrumental"`
	Lyrics            string   `json:"lyrics" binding:"max=5000"`
	Instruments       []string `json:"instruments" binding:"max=10,dive,max=50"`
	ReferenceTrackURL string   `json:"reference_track_url" binding:"omitempty,http_url,max=500"`
}

// SubmitResponse 提交后立即返回，结果通过轮询或 websocket 获取
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ListGenerationsRequest 任务列表
type ListGenerationsRequest struct {
	Page     int    `form:"page,default=1" binding:"min=1"`
	PageSize int    `form:"page_size,default=20" binding:"min=1,max=100"`
	Status   string `form:"status" binding:"omitempty,oneof=pending processing completed failed"`
}

// ArtifactInfo 生成结果
type ArtifactInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	AudioURL string   `json:"audio_url"`
	ImageURL string   `json:"image_url,omitempty"`
	Duration float64  `json:"duration"`
	Lyrics   string   `json:"lyrics,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// JobError 失败原因，只包含简短描述
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobStatusResponse 任务状态
type JobStatusResponse struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Progress          int           `json:"progress"`
	ProgressNote      string        `json:"progress_note,omitempty"`
	RequestedProvider string        `json:"requested_provider"`
	Provider          string        `json:"provider,omitempty"`
	Model             string        `json:"model,omitempty"`
	Title             string        `json:"title,omitempty"`
	Prompt            string        `json:"prompt"`
	Style             string        `json:"style,omitempty"`
	Instrumental      bool          `json:"instrumental"`
	FallbackAttempted bool          `json:"fallback_attempted"`
	ProvidersTried    []string      `json:"providers_tried"`
	CostEstimate      int           `json:"cost_estimate"`
	Cancelled         bool          `json:"cancelled"`
	Artifact          *ArtifactInfo `json:"artifact,omitempty"`
	Error             *JobError     `json:"error,omitempty"`
	CreatedAt         string        `json:"created_at"`
	UpdatedAt         string        `json:"updated_at"`
	CompletedAt       string        `json:"completed_at,omitempty"`
}

// ProviderInfo 供应商目录
type ProviderInfo struct {
	Name             string `json:"name"`
	DisplayName      string `json:"display_name"`
	Model            string `json:"model"`
	Description      string `json:"description,omitempty"`
	BaseCost         int    `json:"base_cost"`
	Available        bool   `json:"available"`
	Default          bool   `json:"default"`
	SupportsCallback bool   `json:"supports_callback"`
}

// QuotaInfo 配额信息
type QuotaInfo struct {
	DailyQuota     int    `json:"daily_quota"`
	QuotaUsedToday int    `json:"quota_used_today"`
	QuotaRemaining int    `json:"quota_remaining"`
	QuotaResetAt   string `json:"quota_reset_at,omitempty"`
}
