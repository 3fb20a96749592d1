package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// ReactionStore persists reactions. Rows are created and deleted, never
// updated, and (user, post, type) is unique.
type ReactionStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewReactionStore(logger *logrus.Logger, db *gorm.DB) *ReactionStore {
	return &ReactionStore{
		logger: logger,
		db:     db,
	}
}

// CreateReaction inserts the reaction, reporting false without error when the
// same (user, post, type) already exists. The post must exist.
func (s *ReactionStore) CreateReaction(ctx context.Context, reaction *models.Reaction) (bool, error) {
	log := s.logger.WithFields(logrus.Fields{
		"method":  "CreateReaction",
		"post_id": reaction.PostID,
		"user_id": reaction.UserID,
		"type":    reaction.Type,
	})

	var exists int64
	err := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", reaction.PostID).
		Count(&exists).Error
	if err != nil {
		return false, fmt.Errorf("failed to check reaction target: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("reaction target %s: %w", reaction.PostID, ErrInvalidReference)
	}

	err = s.db.WithContext(ctx).Create(reaction).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		log.Debug("Reaction already exists, treating as no-op")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create reaction: %w", err)
	}

	log.Debug("Reaction committed")
	return true, nil
}

// DeleteReaction removes the (user, post, type) row, reporting false when
// there was nothing to remove.
func (s *ReactionStore) DeleteReaction(ctx context.Context, userID, postID string, reactionType models.ReactionType) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ? AND type = ?", userID, postID, reactionType).
		Delete(&models.Reaction{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete reaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// HasReaction reports whether the (user, post, type) row exists. The
// orchestrator checks this before planning a reaction so personas do not
// keep re-liking the same post.
func (s *ReactionStore) HasReaction(ctx context.Context, userID, postID string, reactionType models.ReactionType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Reaction{}).
		Where("user_id = ? AND post_id = ? AND type = ?", userID, postID, reactionType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check reaction: %w", err)
	}
	return count > 0, nil
}
