package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
)

// JournalStore is the bus's dead-letter sink. Events land here after retry
// exhaustion with the payload serialized for operator inspection or replay.
type JournalStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewJournalStore(logger *logrus.Logger, db *gorm.DB) *JournalStore {
	return &JournalStore{
		logger: logger,
		db:     db,
	}
}

// JournalEvent implements bus.Journal.
func (s *JournalStore) JournalEvent(ctx context.Context, evt bus.Event, reason string) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		// journal the envelope anyway: losing the payload beats losing the event
		s.logger.WithField("event_id", evt.EventID()).WithError(err).Warn("Failed to serialize event payload")
		payload = []byte("{}")
	}

	row := models.JournaledEvent{
		EventID:      evt.EventID(),
		Kind:         evt.Kind(),
		PartitionKey: evt.PartitionKey(),
		Payload:      payload,
		Reason:       reason,
		JournaledAt:  time.Now(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to journal event %s: %w", evt.EventID(), result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"event_id": evt.EventID(),
		"kind":     evt.Kind(),
		"reason":   reason,
	}).Warn("Event dead-lettered to journal")
	return nil
}

// ListJournaledEvents returns the newest dead-lettered events.
func (s *JournalStore) ListJournaledEvents(ctx context.Context, limit int) ([]models.JournaledEvent, error) {
	var rows []models.JournaledEvent
	err := s.db.WithContext(ctx).
		Order("journaled_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list journaled events: %w", err)
	}
	return rows, nil
}
