package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/store"
)

// PostWriter persists a post together with its thread linkage.
type PostWriter interface {
	CreatePostWithThread(ctx context.Context, post *models.Post) (bool, error)
}

// ReactionWriter persists reactions.
type ReactionWriter interface {
	CreateReaction(ctx context.Context, reaction *models.Reaction) (bool, error)
}

// EventPublisher is the side of the bus the publisher emits into.
type EventPublisher interface {
	Publish(ctx context.Context, evt bus.Event) error
}

// Publisher turns drafts and planned reactions into committed rows and
// announces them. Announcement ids derive from the row, not the attempt, so
// a redelivered draft re-announces the same logical event and the aggregator
// deduplicates it.
type Publisher struct {
	logger    *logrus.Logger
	posts     PostWriter
	reactions ReactionWriter
	bus       EventPublisher
	now       func() time.Time
}

func New(logger *logrus.Logger, posts PostWriter, reactions ReactionWriter, eventBus EventPublisher) *Publisher {
	return &Publisher{
		logger:    logger,
		posts:     posts,
		reactions: reactions,
		bus:       eventBus,
		now:       time.Now,
	}
}

// HandlePostDraftReady persists one post per draft. Drafts that can never
// succeed are dropped with a log line; transient failures are returned so
// the bus redelivers.
func (p *Publisher) HandlePostDraftReady(ctx context.Context, evt bus.Event) error {
	draft, ok := evt.(bus.PostDraftReady)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	log := p.logger.WithFields(logrus.Fields{
		"persona_id": draft.PersonaID,
		"event_id":   draft.ID,
	})

	if draft.Content == "" && draft.RepostOfID == "" {
		log.Warn("Draft with no content and no repost target dropped")
		return nil
	}
	if draft.ParentPostID != "" && draft.RepostOfID != "" {
		log.Warn("Draft is both reply and repost, dropped")
		return nil
	}

	post := p.buildPost(draft)
	created, err := p.posts.CreatePostWithThread(ctx, post)
	if errors.Is(err, store.ErrInvalidReference) || errors.Is(err, store.ErrThreadTooDeep) {
		log.WithError(err).Warn("Draft rejected by store, dropped")
		return nil
	}
	if err != nil {
		return err
	}

	// post now reflects the committed row, whether this attempt created it
	// or an earlier one did
	announce := bus.PostCreated{
		ID:           "post.created/" + post.ID,
		PostID:       post.ID,
		ThreadID:     post.ThreadID,
		AuthorID:     post.AuthorID,
		ParentPostID: deref(post.ParentPostID),
		RepostOfID:   deref(post.RepostOfID),
		Time:         post.CreatedAt,
	}
	if err := p.bus.Publish(ctx, announce); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"post_id":   post.ID,
		"thread_id": post.ThreadID,
		"created":   created,
	}).Info("Post persisted")
	return nil
}

// HandleReactionPlanned persists one reaction per plan. A duplicate
// (user, post, type) row means an earlier plan already landed and announced.
func (p *Publisher) HandleReactionPlanned(ctx context.Context, evt bus.Event) error {
	planned, ok := evt.(bus.ReactionPlanned)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	log := p.logger.WithFields(logrus.Fields{
		"event_id": planned.ID,
		"post_id":  planned.PostID,
	})

	reactionType := models.ReactionType(planned.Type)
	if !reactionType.Valid() {
		log.WithField("type", planned.Type).Warn("Unrecognized reaction type dropped")
		return nil
	}

	reaction := &models.Reaction{
		ID:        uuid.NewString(),
		UserID:    planned.UserID,
		PostID:    planned.PostID,
		Type:      reactionType,
		CreatedAt: p.eventTime(planned.Time),
	}
	created, err := p.reactions.CreateReaction(ctx, reaction)
	if errors.Is(err, store.ErrInvalidReference) {
		log.WithError(err).Warn("Reaction targets missing post, dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if !created {
		log.Debug("Reaction already exists, nothing to announce")
		return nil
	}

	announce := bus.ReactionAdded{
		ID:         "reaction.added/" + reaction.ID,
		ReactionID: reaction.ID,
		UserID:     reaction.UserID,
		PostID:     reaction.PostID,
		Type:       string(reaction.Type),
		Time:       reaction.CreatedAt,
	}
	if err := p.bus.Publish(ctx, announce); err != nil {
		return err
	}

	log.WithField("reaction_id", reaction.ID).Info("Reaction persisted")
	return nil
}

func (p *Publisher) buildPost(draft bus.PostDraftReady) *models.Post {
	post := &models.Post{
		ID:            uuid.NewString(),
		AuthorID:      draft.AuthorID,
		IsAIGenerated: draft.PersonaID != "",
		PersonaID:     strPtr(draft.PersonaID),
		ParentPostID:  strPtr(draft.ParentPostID),
		RepostOfID:    strPtr(draft.RepostOfID),
		Content:       draft.Content,
		TriggerID:     strPtr(draft.TriggerID),
		NewsItemID:    strPtr(draft.NewsItemID),
		CreatedAt:     p.eventTime(draft.Time),
	}
	if draft.Content != "" {
		sum := sha256.Sum256([]byte(draft.Content))
		post.ContentHash = hex.EncodeToString(sum[:])
	}
	return post
}

func (p *Publisher) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return p.now()
	}
	return t
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
