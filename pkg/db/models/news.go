package models

import (
	"time"

	"github.com/lib/pq"
)

// NewsItem is an external news article ingested into the simulation. URL is
// the identity key for dedup across feeds. AISummary and TopicTags are
// back-filled once by the enricher; EnrichedAt guards the single pass.
type NewsItem struct {
	ID         string `gorm:"primaryKey;column:id"`
	Title      string `gorm:"column:title;not null"`
	URL        string `gorm:"column:url;uniqueIndex;not null"`
	SourceName string `gorm:"column:source_name"`

	// Article body
	Description string `gorm:"column:description"`
	Content     string `gorm:"column:content"`

	// Enrichment
	AISummary      string         `gorm:"column:ai_summary"`
	TopicTags      pq.StringArray `gorm:"column:topic_tags;type:text[]"`
	RelevanceScore float64        `gorm:"column:relevance_score;default:0"`
	EnrichedAt     *time.Time     `gorm:"column:enriched_at"`

	PublishedAt  time.Time `gorm:"column:published_at"`
	DiscoveredAt time.Time `gorm:"column:discovered_at;not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName specifies the table name for the NewsItem model
func (NewsItem) TableName() string {
	return "news_items"
}
