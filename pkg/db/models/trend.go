package models

import (
	"time"
)

// Trend is one topic's activity over a rolling window. Rows are a derived
// cache, fully recomputable from posts, reactions and news items; each
// scorer run replaces the whole table in a single transaction.
type Trend struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Topic       string    `gorm:"column:topic;not null;index"`
	WindowStart time.Time `gorm:"column:window_start;not null"`
	WindowEnd   time.Time `gorm:"column:window_end;not null"`

	// Raw window aggregates
	PostCount       int `gorm:"column:post_count;default:0"`
	UniqueUsers     int `gorm:"column:unique_users;default:0"`
	EngagementCount int `gorm:"column:engagement_count;default:0"`

	// Derived scores
	Velocity   float64 `gorm:"column:velocity;default:0"`
	TrendScore float64 `gorm:"column:trend_score;default:0"`

	ComputedAt time.Time `gorm:"column:computed_at;not null"`
}

// TableName specifies the table name for the Trend model
func (Trend) TableName() string {
	return "trends"
}
