package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionRecord is one closed tracking session: a continuous stretch of
// active time attributed to a single program.
type SessionRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Program   string         `gorm:"not null;index" json:"program"`
	StartedAt time.Time      `gorm:"not null;index" json:"started_at"`
	EndedAt   time.Time      `gorm:"not null" json:"ended_at"`
	Seconds   float64        `gorm:"not null;default:0" json:"seconds"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type ProgramSummary struct {
	Program      string  `json:"program"`
	TotalSeconds float64 `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	SessionCount int     `json:"session_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod     `json:"period"`
	Programs     []ProgramSummary `json:"programs"`
	TotalSeconds float64          `json:"total_seconds"`
	TotalMinutes float64          `json:"total_minutes"`
	TotalHours   float64          `json:"total_hours"`
	GeneratedAt  time.Time        `json:"generated_at"`
}
