package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// UserAccount represents any account on the network, human or persona.
// Accounts are soft-disabled via IsActive and never hard-deleted so that
// historical posts stay attributable.
type UserAccount struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Username    string    `gorm:"column:username;uniqueIndex;not null"`
	DisplayName string    `gorm:"column:display_name"`
	IsPersona   bool      `gorm:"column:is_persona;default:false"`
	IsActive    bool      `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the UserAccount model
func (UserAccount) TableName() string {
	return "user_accounts"
}

// Persona holds the behavioral profile driving an AI account. Each persona
// maps 1:1 to a UserAccount and references exactly one PoliticalAlignment.
type Persona struct {
	ID     string `gorm:"primaryKey;column:id"`
	UserID string `gorm:"column:user_id;uniqueIndex;not null"`
	Name   string `gorm:"column:name;not null"`

	// Voice and behavior dials (0-100)
	ToneStyle            string `gorm:"column:tone_style"`
	ControversyTolerance int    `gorm:"column:controversy_tolerance;default:50"`
	EngagementFrequency  int    `gorm:"column:engagement_frequency;default:50"`
	DebateAggression     int    `gorm:"column:debate_aggression;default:50"`

	// Generation settings
	AIProvider   string `gorm:"column:ai_provider;not null"`
	SystemPrompt string `gorm:"column:system_prompt"`

	// Worldview
	PoliticalAlignmentID string              `gorm:"column:political_alignment_id;not null"`
	PoliticalAlignment   *PoliticalAlignment `gorm:"foreignKey:PoliticalAlignmentID"`
	Interests            pq.StringArray      `gorm:"column:interests;type:text[]"`
	Expertise            pq.StringArray      `gorm:"column:expertise;type:text[]"`

	// Scheduling
	TimezonePreference string          `gorm:"column:timezone_preference;default:UTC"`
	PostingSchedule    PostingSchedule `gorm:"column:posting_schedule;type:jsonb"`

	IsActive  bool      `gorm:"column:is_active;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Persona model
func (Persona) TableName() string {
	return "personas"
}

// PoliticalAlignment places a persona on a two-axis compass. Rows are shared
// between personas and follow the same never-hard-delete policy.
type PoliticalAlignment struct {
	ID           string `gorm:"primaryKey;column:id"`
	Name         string `gorm:"column:name;uniqueIndex;not null"`
	EconomicAxis int    `gorm:"column:economic_axis;default:0"`
	SocialAxis   int    `gorm:"column:social_axis;default:0"`
	Description  string `gorm:"column:description"`
}

// TableName specifies the table name for the PoliticalAlignment model
func (PoliticalAlignment) TableName() string {
	return "political_alignments"
}

// ScheduleWindow is a daily interval in "HH:MM" wall-clock time. A window
// whose End is at or before its Start wraps past midnight.
type ScheduleWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PostingSchedule describes when and how often a persona may post. It is
// stored as a jsonb column but always validated at the boundary, never
// treated as an opaque blob. An empty Windows slice means any time of day
// is allowed.
type PostingSchedule struct {
	Windows     []ScheduleWindow `json:"windows"`
	PostsPerDay int              `json:"posts_per_day"`
}

// Value implements driver.Valuer so GORM serializes the schedule as JSON.
func (s PostingSchedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for reading the jsonb column back.
func (s *PostingSchedule) Scan(value interface{}) error {
	if value == nil {
		*s = PostingSchedule{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported posting_schedule type %T", value)
	}
	return json.Unmarshal(raw, s)
}

// Validate checks window formats and the posting rate.
func (s PostingSchedule) Validate() error {
	if s.PostsPerDay < 0 {
		return fmt.Errorf("posts_per_day must not be negative, got %d", s.PostsPerDay)
	}
	for i, w := range s.Windows {
		if _, err := parseClock(w.Start); err != nil {
			return fmt.Errorf("window %d start %q: %w", i, w.Start, err)
		}
		if _, err := parseClock(w.End); err != nil {
			return fmt.Errorf("window %d end %q: %w", i, w.End, err)
		}
	}
	return nil
}

// Allows reports whether t falls inside an allowed window, evaluated against
// t's own location. Quiet hours are simply the complement of the windows.
func (s PostingSchedule) Allows(t time.Time) bool {
	if len(s.Windows) == 0 {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	for _, w := range s.Windows {
		start, err := parseClock(w.Start)
		if err != nil {
			continue
		}
		end, err := parseClock(w.End)
		if err != nil {
			continue
		}
		if start < end {
			if minute >= start && minute < end {
				return true
			}
		} else {
			// wraps midnight
			if minute >= start || minute < end {
				return true
			}
		}
	}
	return false
}

func parseClock(v string) (int, error) {
	parsed, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM: %w", err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// InfluenceMetrics aggregates engagement received by a human account.
// Persona authors are excluded so the table reflects simulated humans only.
type InfluenceMetrics struct {
	UserID                 string    `gorm:"primaryKey;column:user_id"`
	TotalLikesReceived     int       `gorm:"column:total_likes_received;default:0"`
	TotalRepostsReceived   int       `gorm:"column:total_reposts_received;default:0"`
	TotalCommentsReceived  int       `gorm:"column:total_comments_received;default:0"`
	EngagementRate         float64   `gorm:"column:engagement_rate;default:0"`
	UpdatedAt              time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the InfluenceMetrics model
func (InfluenceMetrics) TableName() string {
	return "influence_metrics"
}
