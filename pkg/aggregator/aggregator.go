package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
)

// EngagementWriter applies counter updates exactly once per event id.
type EngagementWriter interface {
	RecordReplyCreated(ctx context.Context, eventID, parentPostID string, eventTime time.Time) (bool, error)
	RecordRepostCreated(ctx context.Context, eventID, targetPostID string) (bool, error)
	RecordReactionAdded(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error)
	RecordReactionRemoved(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error)
	RecordImpressions(ctx context.Context, eventID, postID string, delta int) (bool, error)
}

// Aggregator is the only writer of denormalized counters. All of its
// handlers are idempotent per event id, so at-least-once delivery from the
// bus never double-counts.
type Aggregator struct {
	logger     *logrus.Logger
	engagement EngagementWriter
}

func New(logger *logrus.Logger, engagement EngagementWriter) *Aggregator {
	return &Aggregator{
		logger:     logger,
		engagement: engagement,
	}
}

// HandlePostCreated folds a new post into its surroundings: replies bump the
// parent and thread, reposts bump the target. Root posts need nothing, their
// thread was created with them.
func (a *Aggregator) HandlePostCreated(ctx context.Context, evt bus.Event) error {
	created, ok := evt.(bus.PostCreated)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	log := a.logger.WithFields(logrus.Fields{
		"event_id":  created.ID,
		"post_id":   created.PostID,
		"thread_id": created.ThreadID,
	})

	switch {
	case created.ParentPostID != "":
		applied, err := a.engagement.RecordReplyCreated(ctx, created.ID, created.ParentPostID, created.Time)
		if err != nil {
			return err
		}
		if applied {
			log.WithField("parent_post_id", created.ParentPostID).Debug("Reply counted")
		}
	case created.RepostOfID != "":
		applied, err := a.engagement.RecordRepostCreated(ctx, created.ID, created.RepostOfID)
		if err != nil {
			return err
		}
		if applied {
			log.WithField("repost_of_id", created.RepostOfID).Debug("Repost counted")
		}
	}
	return nil
}

// HandleReactionAdded bumps the post counter for counting reaction types and
// the author's influence totals.
func (a *Aggregator) HandleReactionAdded(ctx context.Context, evt bus.Event) error {
	added, ok := evt.(bus.ReactionAdded)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	reactionType := models.ReactionType(added.Type)
	if !reactionType.Valid() {
		a.logger.WithFields(logrus.Fields{
			"event_id": added.ID,
			"type":     added.Type,
		}).Warn("Unrecognized reaction type ignored")
		return nil
	}

	applied, err := a.engagement.RecordReactionAdded(ctx, added.ID, added.PostID, reactionType)
	if err != nil {
		return err
	}
	if applied {
		a.logger.WithFields(logrus.Fields{
			"event_id": added.ID,
			"post_id":  added.PostID,
			"type":     added.Type,
		}).Debug("Reaction counted")
	}
	return nil
}

// HandleReactionRemoved is the symmetric decrement, clamped at zero inside
// the store.
func (a *Aggregator) HandleReactionRemoved(ctx context.Context, evt bus.Event) error {
	removed, ok := evt.(bus.ReactionRemoved)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	reactionType := models.ReactionType(removed.Type)
	if !reactionType.Valid() {
		a.logger.WithFields(logrus.Fields{
			"event_id": removed.ID,
			"type":     removed.Type,
		}).Warn("Unrecognized reaction type ignored")
		return nil
	}

	applied, err := a.engagement.RecordReactionRemoved(ctx, removed.ID, removed.PostID, reactionType)
	if err != nil {
		return err
	}
	if applied {
		a.logger.WithFields(logrus.Fields{
			"event_id": removed.ID,
			"post_id":  removed.PostID,
			"type":     removed.Type,
		}).Debug("Reaction removal counted")
	}
	return nil
}

// HandleImpressionsRecorded folds batched view counts into the post.
func (a *Aggregator) HandleImpressionsRecorded(ctx context.Context, evt bus.Event) error {
	recorded, ok := evt.(bus.ImpressionsRecorded)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	applied, err := a.engagement.RecordImpressions(ctx, recorded.ID, recorded.PostID, recorded.Delta)
	if err != nil {
		return err
	}
	if applied {
		a.logger.WithFields(logrus.Fields{
			"event_id": recorded.ID,
			"post_id":  recorded.PostID,
			"delta":    recorded.Delta,
		}).Debug("Impressions counted")
	}
	return nil
}
