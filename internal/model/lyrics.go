package model

import "time"

const (
	LyricsStatusPending   = "pending"
	LyricsStatusCompleted = "completed"
	LyricsStatusFailed    = "failed"
)

// LyricsRecord 歌词子任务，回调时用于区分歌词回调与音乐回调
type LyricsRecord struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	JobID        string    `gorm:"size:36;not null;index" json:"job_id"`
	Provider     string    `gorm:"size:20;not null" json:"provider"`
	TaskID       string    `gorm:"size:128;not null;uniqueIndex" json:"task_id"`
	Status       string    `gorm:"size:20;default:pending" json:"status"`
	Title        string    `gorm:"size:200" json:"title,omitempty"`
	Text         string    `gorm:"type:text" json:"text,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (LyricsRecord) TableName() string {
	return "lyrics_records"
}
