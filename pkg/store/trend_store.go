package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// TrendStore loads the raw window data the scorer aggregates and swaps the
// computed rows in atomically.
type TrendStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewTrendStore(logger *logrus.Logger, db *gorm.DB) *TrendStore {
	return &TrendStore{
		logger: logger,
		db:     db,
	}
}

// PostsInWindow returns the posts created inside the window, oldest first.
// Only the columns the scorer reads are selected.
func (s *TrendStore) PostsInWindow(ctx context.Context, start, end time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Select("id", "author_id", "content", "news_item_id", "created_at").
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load posts in window: %w", err)
	}
	return posts, nil
}

// ReactionsInWindow returns (post id, created at) pairs for reactions made
// inside the window.
func (s *TrendStore) ReactionsInWindow(ctx context.Context, start, end time.Time) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := s.db.WithContext(ctx).
		Select("id", "post_id", "created_at").
		Where("created_at >= ? AND created_at < ?", start, end).
		Find(&reactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reactions in window: %w", err)
	}
	return reactions, nil
}

// ReplaceTrends swaps the whole trends table for the freshly computed rows in
// one transaction. A crash mid-swap leaves the previous rows intact.
func (s *TrendStore) ReplaceTrends(ctx context.Context, trends []models.Trend) error {
	log := s.logger.WithFields(logrus.Fields{
		"method": "ReplaceTrends",
		"topics": len(trends),
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Trend{}).Error; err != nil {
			return fmt.Errorf("failed to clear trends: %w", err)
		}
		if len(trends) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(trends, 100).Error; err != nil {
			return fmt.Errorf("failed to insert trends: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug("Trends table replaced")
	return nil
}

// TopTrends returns the highest-scored topics.
func (s *TrendStore) TopTrends(ctx context.Context, limit int) ([]models.Trend, error) {
	var trends []models.Trend
	err := s.db.WithContext(ctx).
		Order("trend_score DESC").
		Limit(limit).
		Find(&trends).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load top trends: %w", err)
	}
	return trends, nil
}
