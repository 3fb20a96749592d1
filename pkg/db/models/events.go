package models

import (
	"time"
)

// ProcessedEvent is the aggregator's idempotency ledger. Inserting the event
// id in the same transaction as the counter update turns replays into no-ops.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;column:event_id"`
	Kind        string    `gorm:"column:kind;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the ProcessedEvent model
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// JournaledEvent is a dead-lettered bus event. Events land here after retry
// exhaustion so they are operator-visible instead of silently lost.
type JournaledEvent struct {
	EventID      string    `gorm:"primaryKey;column:event_id"`
	Kind         string    `gorm:"column:kind;not null"`
	PartitionKey string    `gorm:"column:partition_key"`
	Payload      []byte    `gorm:"column:payload;type:jsonb"`
	Reason       string    `gorm:"column:reason"`
	JournaledAt  time.Time `gorm:"column:journaled_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the JournaledEvent model
func (JournaledEvent) TableName() string {
	return "event_journal"
}
