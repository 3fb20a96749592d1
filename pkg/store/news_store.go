package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// NewsStore persists ingested news items. URL is the identity key: the same
// article arriving from two feeds stores once.
type NewsStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewNewsStore(logger *logrus.Logger, db *gorm.DB) *NewsStore {
	return &NewsStore{
		logger: logger,
		db:     db,
	}
}

// CreateNewsItem inserts the item, reporting false without error when its URL
// is already stored.
func (s *NewsStore) CreateNewsItem(ctx context.Context, item *models.NewsItem) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).
		Create(item)
	if result.Error != nil {
		return false, fmt.Errorf("failed to store news item %s: %w", item.URL, result.Error)
	}
	if result.RowsAffected == 0 {
		s.logger.WithFields(logrus.Fields{
			"method": "CreateNewsItem",
			"url":    item.URL,
		}).Debug("News URL already stored, skipping")
		return false, nil
	}
	return true, nil
}

// GetNewsItem returns one item by id.
func (s *NewsStore) GetNewsItem(ctx context.Context, id string) (*models.NewsItem, error) {
	var item models.NewsItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load news item %s: %w", id, err)
	}
	return &item, nil
}

// GetNewsItemsByIDs returns the items for the given ids, keyed by id.
func (s *NewsStore) GetNewsItemsByIDs(ctx context.Context, ids []string) (map[string]models.NewsItem, error) {
	if len(ids) == 0 {
		return map[string]models.NewsItem{}, nil
	}
	var items []models.NewsItem
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load news items: %w", err)
	}
	byID := make(map[string]models.NewsItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}

// LoadRecentNewsItems returns items discovered after the given high-water
// mark, oldest first so the watcher announces them in discovery order.
func (s *NewsStore) LoadRecentNewsItems(ctx context.Context, since time.Time) ([]models.NewsItem, error) {
	var items []models.NewsItem
	err := s.db.WithContext(ctx).
		Where("discovered_at > ?", since).
		Order("discovered_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent news items: %w", err)
	}
	return items, nil
}

// KnownURLs returns the most recently discovered URLs for warming a dedup
// set after restart.
func (s *NewsStore) KnownURLs(ctx context.Context, limit int) (map[string]struct{}, error) {
	var urls []string
	err := s.db.WithContext(ctx).
		Model(&models.NewsItem{}).
		Order("discovered_at DESC").
		Limit(limit).
		Pluck("url", &urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load known news URLs: %w", err)
	}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	return seen, nil
}

// ItemsNeedingEnrichment returns items that have never been through the
// enrichment pass, oldest first.
func (s *NewsStore) ItemsNeedingEnrichment(ctx context.Context, limit int) ([]models.NewsItem, error) {
	var items []models.NewsItem
	err := s.db.WithContext(ctx).
		Where("enriched_at IS NULL").
		Order("discovered_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load items needing enrichment: %w", err)
	}
	return items, nil
}

// MarkEnriched back-fills the AI summary and topic tags exactly once. A
// second caller finds enriched_at already set and affects no rows.
func (s *NewsStore) MarkEnriched(ctx context.Context, id, summary string, tags []string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.NewsItem{}).
		Where("id = ? AND enriched_at IS NULL", id).
		Updates(map[string]interface{}{
			"ai_summary":  summary,
			"topic_tags":  pq.StringArray(tags),
			"enriched_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark news item %s enriched: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}
