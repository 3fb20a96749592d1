package bus

import (
	"time"
)

// Event kinds routed over the bus
const (
	KindNewsDiscovered      = "news.discovered"
	KindPersonaShouldAct    = "persona.should_act"
	KindPostDraftReady      = "post.draft_ready"
	KindReactionPlanned     = "reaction.planned"
	KindPostCreated         = "post.created"
	KindReactionAdded       = "reaction.added"
	KindReactionRemoved     = "reaction.removed"
	KindImpressionsRecorded = "impressions.recorded"
)

// Trigger kinds carried on PersonaShouldAct
const (
	TriggerScheduled = "scheduled"
	TriggerNews      = "news"
)

// Event is a domain event. Events sharing a partition key are delivered in
// publish order; the key should therefore be the entity whose causal history
// matters (thread, post, persona).
type Event interface {
	Kind() string
	EventID() string
	PartitionKey() string
	OccurredAt() time.Time
}

// NewsDiscovered announces a news item seen for the first time.
type NewsDiscovered struct {
	ID         string    `json:"id"`
	NewsItemID string    `json:"news_item_id"`
	URL        string    `json:"url"`
	Topics     []string  `json:"topics"`
	Time       time.Time `json:"time"`
}

func (e NewsDiscovered) Kind() string          { return KindNewsDiscovered }
func (e NewsDiscovered) EventID() string       { return e.ID }
func (e NewsDiscovered) PartitionKey() string  { return e.NewsItemID }
func (e NewsDiscovered) OccurredAt() time.Time { return e.Time }

// PersonaShouldAct tells the orchestrator a persona is due to act. The event
// id doubles as the trigger id and flows through draft and post for dedup.
type PersonaShouldAct struct {
	ID          string    `json:"id"`
	PersonaID   string    `json:"persona_id"`
	TriggerKind string    `json:"trigger_kind"`
	NewsItemID  string    `json:"news_item_id,omitempty"`
	Time        time.Time `json:"time"`
}

func (e PersonaShouldAct) Kind() string          { return KindPersonaShouldAct }
func (e PersonaShouldAct) EventID() string       { return e.ID }
func (e PersonaShouldAct) PartitionKey() string  { return e.PersonaID }
func (e PersonaShouldAct) OccurredAt() time.Time { return e.Time }

// PostDraftReady carries validated content waiting to be persisted.
type PostDraftReady struct {
	ID           string    `json:"id"`
	TriggerID    string    `json:"trigger_id"`
	PersonaID    string    `json:"persona_id"`
	AuthorID     string    `json:"author_id"`
	Content      string    `json:"content"`
	ParentPostID string    `json:"parent_post_id,omitempty"`
	RepostOfID   string    `json:"repost_of_id,omitempty"`
	NewsItemID   string    `json:"news_item_id,omitempty"`
	Time         time.Time `json:"time"`
}

func (e PostDraftReady) Kind() string          { return KindPostDraftReady }
func (e PostDraftReady) EventID() string       { return e.ID }
func (e PostDraftReady) PartitionKey() string  { return e.AuthorID }
func (e PostDraftReady) OccurredAt() time.Time { return e.Time }

// ReactionPlanned is a persona's decision to react to a post.
type ReactionPlanned struct {
	ID        string    `json:"id"`
	TriggerID string    `json:"trigger_id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
}

func (e ReactionPlanned) Kind() string          { return KindReactionPlanned }
func (e ReactionPlanned) EventID() string       { return e.ID }
func (e ReactionPlanned) PartitionKey() string  { return e.PostID }
func (e ReactionPlanned) OccurredAt() time.Time { return e.Time }

// PostCreated is emitted after a post row has committed. Partitioned by
// thread so downstream counter updates for one thread stay ordered.
type PostCreated struct {
	ID           string    `json:"id"`
	PostID       string    `json:"post_id"`
	ThreadID     string    `json:"thread_id"`
	AuthorID     string    `json:"author_id"`
	ParentPostID string    `json:"parent_post_id,omitempty"`
	RepostOfID   string    `json:"repost_of_id,omitempty"`
	Time         time.Time `json:"time"`
}

func (e PostCreated) Kind() string          { return KindPostCreated }
func (e PostCreated) EventID() string       { return e.ID }
func (e PostCreated) PartitionKey() string  { return e.ThreadID }
func (e PostCreated) OccurredAt() time.Time { return e.Time }

// ReactionAdded is emitted after a reaction row has committed.
type ReactionAdded struct {
	ID         string    `json:"id"`
	ReactionID string    `json:"reaction_id"`
	UserID     string    `json:"user_id"`
	PostID     string    `json:"post_id"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
}

func (e ReactionAdded) Kind() string          { return KindReactionAdded }
func (e ReactionAdded) EventID() string       { return e.ID }
func (e ReactionAdded) PartitionKey() string  { return e.PostID }
func (e ReactionAdded) OccurredAt() time.Time { return e.Time }

// ReactionRemoved is emitted after a reaction row has been deleted.
type ReactionRemoved struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	PostID string    `json:"post_id"`
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
}

func (e ReactionRemoved) Kind() string          { return KindReactionRemoved }
func (e ReactionRemoved) EventID() string       { return e.ID }
func (e ReactionRemoved) PartitionKey() string  { return e.PostID }
func (e ReactionRemoved) OccurredAt() time.Time { return e.Time }

// ImpressionsRecorded batches view counts from the feed layer. Carried
// through the bus so the aggregator stays the only counter writer.
type ImpressionsRecorded struct {
	ID     string    `json:"id"`
	PostID string    `json:"post_id"`
	Delta  int       `json:"delta"`
	Time   time.Time `json:"time"`
}

func (e ImpressionsRecorded) Kind() string          { return KindImpressionsRecorded }
func (e ImpressionsRecorded) EventID() string       { return e.ID }
func (e ImpressionsRecorded) PartitionKey() string  { return e.PostID }
func (e ImpressionsRecorded) OccurredAt() time.Time { return e.Time }
