package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// EngagementStore applies denormalized counter updates. Every public method
// is keyed by an event id and commits the counter change together with a
// processed_events row, so replaying a delivered event rolls back to a no-op.
// All updates are atomic SQL expressions; there is no read-modify-write.
type EngagementStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewEngagementStore(logger *logrus.Logger, db *gorm.DB) *EngagementStore {
	return &EngagementStore{
		logger: logger,
		db:     db,
	}
}

// applyOnce runs fn inside a transaction that also claims the event id. A
// replay fails the processed_events insert, rolls everything back and
// reports applied=false.
func (s *EngagementStore) applyOnce(ctx context.Context, eventID, kind string, fn func(tx *gorm.DB) error) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := models.ProcessedEvent{
			EventID:     eventID,
			Kind:        kind,
			ProcessedAt: time.Now(),
		}
		if err := tx.Create(&ledger).Error; err != nil {
			return fmt.Errorf("failed to claim event %s: %w", eventID, err)
		}
		return fn(tx)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.logger.WithFields(logrus.Fields{
			"event_id": eventID,
			"kind":     kind,
		}).Debug("Event already processed, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordReplyCreated bumps the parent's comment count, advances the thread's
// last activity and credits the parent's author when human.
func (s *EngagementStore) RecordReplyCreated(ctx context.Context, eventID, parentPostID string, eventTime time.Time) (bool, error) {
	return s.applyOnce(ctx, eventID, "reply_created", func(tx *gorm.DB) error {
		parentAuthor, parentThread, isPersona, err := s.loadPostMeta(tx, parentPostID)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Post{}).
			Where("id = ?", parentPostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump comment count on %s: %w", parentPostID, err)
		}

		// GREATEST keeps last activity monotonic under out-of-order delivery
		if err := tx.Model(&models.Thread{}).
			Where("id = ?", parentThread).
			UpdateColumn("last_activity_at", gorm.Expr("GREATEST(last_activity_at, ?)", eventTime)).Error; err != nil {
			return fmt.Errorf("failed to advance thread activity on %s: %w", parentThread, err)
		}

		if !isPersona {
			return s.bumpInfluence(tx, parentAuthor, "total_comments_received", 1)
		}
		return nil
	})
}

// RecordRepostCreated bumps the target's repost count and credits its author
// when human.
func (s *EngagementStore) RecordRepostCreated(ctx context.Context, eventID, targetPostID string) (bool, error) {
	return s.applyOnce(ctx, eventID, "repost_created", func(tx *gorm.DB) error {
		targetAuthor, _, isPersona, err := s.loadPostMeta(tx, targetPostID)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Post{}).
			Where("id = ?", targetPostID).
			UpdateColumn("repost_count", gorm.Expr("repost_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump repost count on %s: %w", targetPostID, err)
		}

		if !isPersona {
			return s.bumpInfluence(tx, targetAuthor, "total_reposts_received", 1)
		}
		return nil
	})
}

// RecordReactionAdded bumps the post's like count for counting reaction
// types. Non-counting types still claim the event id so replays stay no-ops.
func (s *EngagementStore) RecordReactionAdded(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error) {
	return s.applyOnce(ctx, eventID, "reaction_added", func(tx *gorm.DB) error {
		if !reactionType.CountsTowardEngagement() {
			return nil
		}

		author, _, isPersona, err := s.loadPostMeta(tx, postID)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Post{}).
			Where("id = ?", postID).
			UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump like count on %s: %w", postID, err)
		}

		if !isPersona {
			return s.bumpInfluence(tx, author, "total_likes_received", 1)
		}
		return nil
	})
}

// RecordReactionRemoved decrements symmetrically, clamped at zero so a
// replayed removal can never drive a counter negative.
func (s *EngagementStore) RecordReactionRemoved(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error) {
	return s.applyOnce(ctx, eventID, "reaction_removed", func(tx *gorm.DB) error {
		if !reactionType.CountsTowardEngagement() {
			return nil
		}

		author, _, isPersona, err := s.loadPostMeta(tx, postID)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Post{}).
			Where("id = ?", postID).
			UpdateColumn("like_count", gorm.Expr("GREATEST(like_count - 1, 0)")).Error; err != nil {
			return fmt.Errorf("failed to drop like count on %s: %w", postID, err)
		}

		if !isPersona {
			return s.bumpInfluence(tx, author, "total_likes_received", -1)
		}
		return nil
	})
}

// RecordImpressions adds a view-count delta reported by the feed layer.
func (s *EngagementStore) RecordImpressions(ctx context.Context, eventID, postID string, delta int) (bool, error) {
	return s.applyOnce(ctx, eventID, "impressions_recorded", func(tx *gorm.DB) error {
		if delta <= 0 {
			return nil
		}
		if err := tx.Model(&models.Post{}).
			Where("id = ?", postID).
			UpdateColumn("impression_count", gorm.Expr("impression_count + ?", delta)).Error; err != nil {
			return fmt.Errorf("failed to add impressions on %s: %w", postID, err)
		}
		return nil
	})
}

// loadPostMeta returns the post's author, thread and whether the author is a
// persona account.
func (s *EngagementStore) loadPostMeta(tx *gorm.DB, postID string) (authorID, threadID string, isPersona bool, err error) {
	row := struct {
		AuthorID  string
		ThreadID  string
		IsPersona bool
	}{}
	err = tx.Table("posts").
		Select("posts.author_id, posts.thread_id, user_accounts.is_persona").
		Joins("JOIN user_accounts ON user_accounts.id = posts.author_id").
		Where("posts.id = ?", postID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", false, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to load post meta for %s: %w", postID, err)
	}
	return row.AuthorID, row.ThreadID, row.IsPersona, nil
}

// bumpInfluence upserts the human author's influence row with an atomic
// delta, then refreshes the derived engagement rate from row counts.
func (s *EngagementStore) bumpInfluence(tx *gorm.DB, userID, column string, delta int) error {
	now := time.Now()
	err := tx.Exec(fmt.Sprintf(`
		INSERT INTO influence_metrics (user_id, %s, updated_at)
		VALUES (?, GREATEST(?, 0), ?)
		ON CONFLICT (user_id) DO UPDATE SET
			%s = GREATEST(influence_metrics.%s + ?, 0),
			updated_at = ?
	`, column, column, column), userID, delta, now, delta, now).Error
	if err != nil {
		return fmt.Errorf("failed to bump influence %s for %s: %w", column, userID, err)
	}

	err = tx.Exec(`
		UPDATE influence_metrics SET engagement_rate =
			(total_likes_received + total_reposts_received + total_comments_received)::float
			/ GREATEST((SELECT COUNT(*) FROM posts WHERE author_id = influence_metrics.user_id), 1)
		WHERE user_id = ?
	`, userID).Error
	if err != nil {
		return fmt.Errorf("failed to refresh engagement rate for %s: %w", userID, err)
	}
	return nil
}
