package database

import "time"

// ExecutionLog is one connect attempt or command execution.
type ExecutionLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID string    `gorm:"uniqueIndex;size:36" json:"activity_id"`
	SessionKey string    `gorm:"index;not null" json:"session_key"`
	Host       string    `gorm:"not null;default:''" json:"host"`
	Username   string    `gorm:"not null;default:''" json:"username"`
	Kind       string    `gorm:"index;not null" json:"kind"` // connect, shell, exec, local
	Command    string    `gorm:"type:text" json:"command"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	TimedOut   bool      `gorm:"not null;default:false" json:"timed_out"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
