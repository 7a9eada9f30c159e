package model

import "time"

// GeneratedArtifact 生成结果，创建后不可修改
type GeneratedArtifact struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	JobID          string      `gorm:"size:36;not null;uniqueIndex" json:"job_id"`
	UserID         int64       `gorm:"not null;index" json:"user_id"`
	Title          string      `gorm:"size:200" json:"title"`
	AudioURL       string      `gorm:"size:1000;not null" json:"audio_url"`
	ImageURL       string      `gorm:"size:1000" json:"image_url,omitempty"`
	Duration       float64     `json:"duration"`
	Lyrics         string      `gorm:"type:text" json:"lyrics,omitempty"`
	Provider       string      `gorm:"size:20;not null" json:"provider"`
	ProviderClipID string      `gorm:"size:128" json:"provider_clip_id,omitempty"`
	Tags           StringArray `gorm:"type:text" json:"tags,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (GeneratedArtifact) TableName() string {
	return "generated_artifacts"
}
