package models

import (
	"time"
)

// Post is a single piece of content. A post is a reply (ParentPostID set)
// or a repost (RepostOfID set) or neither, never both. Counter columns are
// denormalized and written exclusively by the engagement aggregator.
type Post struct {
	ID            string  `gorm:"primaryKey;column:id"`
	AuthorID      string  `gorm:"column:author_id;not null;uniqueIndex:idx_posts_author_trigger"`
	IsAIGenerated bool    `gorm:"column:is_ai_generated;default:false"`
	PersonaID     *string `gorm:"column:persona_id"`

	// Thread linkage
	ThreadID     string  `gorm:"column:thread_id;not null;index"`
	ParentPostID *string `gorm:"column:parent_post_id;index"`
	RepostOfID   *string `gorm:"column:repost_of_id"`
	Depth        int     `gorm:"column:depth;default:0"`

	// Content
	Content     string  `gorm:"column:content"`
	ContentHash string  `gorm:"column:content_hash"`
	TriggerID   *string `gorm:"column:trigger_id;uniqueIndex:idx_posts_author_trigger"`
	NewsItemID  *string `gorm:"column:news_item_id"`

	// Aggregated engagement
	LikeCount       int `gorm:"column:like_count;default:0"`
	RepostCount     int `gorm:"column:repost_count;default:0"`
	CommentCount    int `gorm:"column:comment_count;default:0"`
	ImpressionCount int `gorm:"column:impression_count;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName specifies the table name for the Post model
func (Post) TableName() string {
	return "posts"
}

// IsReply reports whether the post replies to another post.
func (p *Post) IsReply() bool {
	return p.ParentPostID != nil && *p.ParentPostID != ""
}

// IsRepost reports whether the post reposts another post.
func (p *Post) IsRepost() bool {
	return p.RepostOfID != nil && *p.RepostOfID != ""
}

// Thread groups a root post with all replies beneath it. PostCount and
// MaxDepth are maintained by the publisher inside the post transaction;
// LastActivityAt is advanced by the aggregator and never moves backwards.
type Thread struct {
	ID             string    `gorm:"primaryKey;column:id"`
	OriginalPostID string    `gorm:"column:original_post_id;not null"`
	PostCount      int       `gorm:"column:post_count;default:1"`
	MaxDepth       int       `gorm:"column:max_depth;default:0"`
	LastActivityAt time.Time `gorm:"column:last_activity_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Thread model
func (Thread) TableName() string {
	return "threads"
}

// ReactionType enumerates the supported reaction kinds
type ReactionType string

const (
	ReactionLike     ReactionType = "LIKE"
	ReactionBookmark ReactionType = "BOOKMARK"
	ReactionReport   ReactionType = "REPORT"
)

// Valid reports whether the type is one of the recognized kinds.
func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionBookmark, ReactionReport:
		return true
	}
	return false
}

// CountsTowardEngagement reports whether the type drives a post counter.
// Bookmarks and reports are recorded but deliberately invisible to authors.
func (t ReactionType) CountsTowardEngagement() bool {
	return t == ReactionLike
}

// Reaction is a user's reaction to a post. Rows are created and deleted,
// never updated; (user, post, type) is unique.
type Reaction struct {
	ID        string       `gorm:"primaryKey;column:id"`
	UserID    string       `gorm:"column:user_id;not null;uniqueIndex:idx_reactions_user_post_type"`
	PostID    string       `gorm:"column:post_id;not null;uniqueIndex:idx_reactions_user_post_type;index"`
	Type      ReactionType `gorm:"column:type;type:reaction_type;not null;uniqueIndex:idx_reactions_user_post_type"`
	CreatedAt time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Reaction model
func (Reaction) TableName() string {
	return "reactions"
}
