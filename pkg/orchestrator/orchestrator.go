package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/llm"
	"github.com/agorasim/engine-go/pkg/store"
)

const (
	// DefaultProviderTimeout bounds one content generation call
	DefaultProviderTimeout = 10 * time.Second

	// DefaultRetryWait is the pause before the single generation retry
	DefaultRetryWait = 2 * time.Second

	// DefaultRecentPosts is how many of the persona's own posts the prompt
	// includes to discourage repetition
	DefaultRecentPosts = 5

	// candidateWindow and candidateLimit bound the pool of posts a persona
	// considers replying or reacting to
	candidateWindow = 24 * time.Hour
	candidateLimit  = 20

	// behavior weights for scheduled triggers, scaled by persona dials
	replyWeight  = 0.5
	engageWeight = 0.4
	repostShare  = 0.3

	// neutralAxisDistance slots human authors, who have no alignment row,
	// into the middle of the preference ordering
	neutralAxisDistance = 100
)

// PersonaSource supplies persona profiles and alignment lookups.
type PersonaSource interface {
	GetPersona(ctx context.Context, id string) (*models.Persona, error)
	AlignmentsByUserIDs(ctx context.Context, userIDs []string) (map[string]models.PoliticalAlignment, error)
}

// PostSource supplies recent posts for prompts and reply targeting.
type PostSource interface {
	RecentPostsByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error)
	RecentCandidatePosts(ctx context.Context, excludeAuthorID string, since time.Time, limit int) ([]models.Post, error)
}

// NewsSource resolves the news item a trigger references.
type NewsSource interface {
	GetNewsItem(ctx context.Context, id string) (*models.NewsItem, error)
}

// ReactionSource answers whether a reaction already exists.
type ReactionSource interface {
	HasReaction(ctx context.Context, userID, postID string, reactionType models.ReactionType) (bool, error)
}

// ContentProvider generates text through a named backend.
type ContentProvider interface {
	Generate(ctx context.Context, provider, prompt string, opts ...llm.Option) (string, error)
}

// EventPublisher is the side of the bus the orchestrator emits into.
type EventPublisher interface {
	Publish(ctx context.Context, evt bus.Event) error
}

// Options holds tuning knobs for the orchestrator.
type Options struct {
	ProviderTimeout time.Duration
	RetryWait       time.Duration
	RecentPosts     int
	Now             func() time.Time
	Rand            *rand.Rand
}

// Orchestrator turns PersonaShouldAct triggers into post drafts or planned
// reactions. It has no side effects of its own: everything durable happens
// downstream in the publisher, so a re-delivered trigger is safe.
type Orchestrator struct {
	logger    *logrus.Logger
	personas  PersonaSource
	posts     PostSource
	news      NewsSource
	reactions ReactionSource
	llm       ContentProvider
	bus       EventPublisher
	timeout   time.Duration
	retryWait time.Duration
	recentN   int
	now       func() time.Time

	// handlers for different personas run on different bus partitions
	mu   sync.Mutex
	rand *rand.Rand
}

func New(logger *logrus.Logger, personas PersonaSource, posts PostSource, news NewsSource, reactions ReactionSource, contentLLM ContentProvider, eventBus EventPublisher, opts Options) *Orchestrator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.RecentPosts <= 0 {
		opts.RecentPosts = DefaultRecentPosts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Orchestrator{
		logger:    logger,
		personas:  personas,
		posts:     posts,
		news:      news,
		reactions: reactions,
		llm:       contentLLM,
		bus:       eventBus,
		timeout:   opts.ProviderTimeout,
		retryWait: opts.RetryWait,
		recentN:   opts.RecentPosts,
		now:       opts.Now,
		rand:      opts.Rand,
	}
}

// HandlePersonaShouldAct is the bus handler for persona triggers. Errors are
// returned only for transient failures worth redelivering; anything where a
// retry would reproduce the same outcome is logged and dropped.
func (o *Orchestrator) HandlePersonaShouldAct(ctx context.Context, evt bus.Event) error {
	act, ok := evt.(bus.PersonaShouldAct)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}

	log := o.logger.WithFields(logrus.Fields{
		"persona_id": act.PersonaID,
		"event_id":   act.ID,
		"trigger":    act.TriggerKind,
	})

	persona, err := o.personas.GetPersona(ctx, act.PersonaID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Trigger for unknown persona dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if !persona.IsActive {
		log.Debug("Trigger for deactivated persona dropped")
		return nil
	}

	if act.TriggerKind == bus.TriggerNews && act.NewsItemID != "" {
		return o.draftNewsPost(ctx, log, persona, act)
	}
	return o.actOnSchedule(ctx, log, persona, act)
}

// draftNewsPost generates a post reacting to the triggering news item.
func (o *Orchestrator) draftNewsPost(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) error {
	item, err := o.news.GetNewsItem(ctx, act.NewsItemID)
	if errors.Is(err, store.ErrNotFound) {
		log.WithField("news_item_id", act.NewsItemID).Warn("Trigger references missing news item, dropped")
		return nil
	}
	if err != nil {
		return err
	}

	recent, err := o.posts.RecentPostsByAuthor(ctx, persona.UserID, o.recentN)
	if err != nil {
		return err
	}

	prompt, err := buildNewsPrompt(persona, item, recent)
	if err != nil {
		return err
	}

	content, ok := o.generate(ctx, log, persona, prompt)
	if !ok {
		return nil
	}

	return o.publishDraft(ctx, log, bus.PostDraftReady{
		ID:         uuid.NewString(),
		TriggerID:  act.ID,
		PersonaID:  persona.ID,
		AuthorID:   persona.UserID,
		Content:    content,
		NewsItemID: act.NewsItemID,
		Time:       o.now(),
	})
}

// actOnSchedule picks one behavior for a scheduled trigger: reply, reaction,
// repost, or an original post. The persona's dials weight the choice.
func (o *Orchestrator) actOnSchedule(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) error {
	replyP := replyWeight * float64(persona.DebateAggression) / 100.0
	engageP := engageWeight * float64(persona.EngagementFrequency) / 100.0

	roll := o.roll()
	switch {
	case roll < replyP:
		handled, err := o.draftReply(ctx, log, persona, act)
		if handled || err != nil {
			return err
		}
	case roll < replyP+engageP:
		var handled bool
		var err error
		if o.roll() < repostShare {
			handled, err = o.draftRepost(ctx, log, persona, act)
		} else {
			handled, err = o.planReaction(ctx, log, persona, act)
		}
		if handled || err != nil {
			return err
		}
	}

	// fall through to an original post when the rolled behavior found no
	// target to act on
	return o.draftOriginal(ctx, log, persona, act)
}

func (o *Orchestrator) draftOriginal(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) error {
	recent, err := o.posts.RecentPostsByAuthor(ctx, persona.UserID, o.recentN)
	if err != nil {
		return err
	}

	prompt, err := buildOriginalPrompt(persona, recent)
	if err != nil {
		return err
	}

	content, ok := o.generate(ctx, log, persona, prompt)
	if !ok {
		return nil
	}

	return o.publishDraft(ctx, log, bus.PostDraftReady{
		ID:        uuid.NewString(),
		TriggerID: act.ID,
		PersonaID: persona.ID,
		AuthorID:  persona.UserID,
		Content:   content,
		Time:      o.now(),
	})
}

// draftReply picks the candidate whose author sits furthest across the
// political compass and replies to it. Returns false when there is nothing
// to reply to.
func (o *Orchestrator) draftReply(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) (bool, error) {
	candidates, alignments, err := o.loadCandidates(ctx, persona)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	target := pickByAxisDistance(candidates, alignments, persona.PoliticalAlignment, true)

	prompt, err := buildReplyPrompt(persona, target)
	if err != nil {
		return true, err
	}

	content, ok := o.generate(ctx, log, persona, prompt)
	if !ok {
		return true, nil
	}

	return true, o.publishDraft(ctx, log, bus.PostDraftReady{
		ID:           uuid.NewString(),
		TriggerID:    act.ID,
		PersonaID:    persona.ID,
		AuthorID:     persona.UserID,
		Content:      content,
		ParentPostID: target.ID,
		Time:         o.now(),
	})
}

// draftRepost amplifies the candidate whose author sits closest on the
// compass. Reposts carry no generated text.
func (o *Orchestrator) draftRepost(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) (bool, error) {
	candidates, alignments, err := o.loadCandidates(ctx, persona)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	target := pickByAxisDistance(candidates, alignments, persona.PoliticalAlignment, false)

	return true, o.publishDraft(ctx, log, bus.PostDraftReady{
		ID:         uuid.NewString(),
		TriggerID:  act.ID,
		PersonaID:  persona.ID,
		AuthorID:   persona.UserID,
		RepostOfID: target.ID,
		Time:       o.now(),
	})
}

// planReaction likes the most recent candidate the persona has not already
// liked. Returns false when every candidate is exhausted.
func (o *Orchestrator) planReaction(ctx context.Context, log *logrus.Entry, persona *models.Persona, act bus.PersonaShouldAct) (bool, error) {
	candidates, _, err := o.loadCandidates(ctx, persona)
	if err != nil {
		return false, err
	}

	for i := range candidates {
		post := &candidates[i]
		liked, err := o.reactions.HasReaction(ctx, persona.UserID, post.ID, models.ReactionLike)
		if err != nil {
			return false, err
		}
		if liked {
			continue
		}

		planned := bus.ReactionPlanned{
			ID:        uuid.NewString(),
			TriggerID: act.ID,
			UserID:    persona.UserID,
			PostID:    post.ID,
			Type:      string(models.ReactionLike),
			Time:      o.now(),
		}
		if err := o.bus.Publish(ctx, planned); err != nil {
			return true, err
		}
		log.WithField("post_id", post.ID).Info("Reaction planned")
		return true, nil
	}
	return false, nil
}

func (o *Orchestrator) loadCandidates(ctx context.Context, persona *models.Persona) ([]models.Post, map[string]models.PoliticalAlignment, error) {
	since := o.now().Add(-candidateWindow)
	candidates, err := o.posts.RecentCandidatePosts(ctx, persona.UserID, since, candidateLimit)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	authorIDs := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		id := candidates[i].AuthorID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		authorIDs = append(authorIDs, id)
	}

	alignments, err := o.personas.AlignmentsByUserIDs(ctx, authorIDs)
	if err != nil {
		return nil, nil, err
	}
	return candidates, alignments, nil
}

// pickByAxisDistance selects the candidate maximizing (or minimizing) the
// compass distance between the persona and the candidate's author. Authors
// without an alignment score as neutral. Ties keep the more recent post.
func pickByAxisDistance(candidates []models.Post, alignments map[string]models.PoliticalAlignment, own *models.PoliticalAlignment, farthest bool) *models.Post {
	best := &candidates[0]
	bestDist := authorAxisDistance(best.AuthorID, alignments, own)

	for i := 1; i < len(candidates); i++ {
		dist := authorAxisDistance(candidates[i].AuthorID, alignments, own)
		if (farthest && dist > bestDist) || (!farthest && dist < bestDist) {
			best = &candidates[i]
			bestDist = dist
		}
	}
	return best
}

func authorAxisDistance(authorID string, alignments map[string]models.PoliticalAlignment, own *models.PoliticalAlignment) int {
	if own == nil {
		return neutralAxisDistance
	}
	theirs, ok := alignments[authorID]
	if !ok {
		return neutralAxisDistance
	}
	return abs(own.EconomicAxis-theirs.EconomicAxis) + abs(own.SocialAxis-theirs.SocialAxis)
}

// generate calls the persona's provider with a hard timeout and one retry.
// A false return means the trigger should be dropped, already logged.
func (o *Orchestrator) generate(ctx context.Context, log *logrus.Entry, persona *models.Persona, prompt string) (string, bool) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(o.retryWait):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		text, err := o.llm.Generate(callCtx, persona.AIProvider, prompt,
			llm.WithTemperature(generationTemperature(persona)),
			llm.WithMaxTokens(MaxPostLength),
		)
		cancel()
		if err != nil {
			lastErr = err
			log.WithField("attempt", attempt+1).WithError(err).Warn("Content generation failed")
			continue
		}

		text = CleanDraft(text)
		if err := ValidateDraft(text); err != nil {
			// regenerating could pass, but a second model call for a
			// malformed draft is not worth the spend; drop the trigger
			log.WithError(err).Warn("Generated draft rejected")
			return "", false
		}
		return text, true
	}

	log.WithError(lastErr).Error("Content generation abandoned, trigger dropped")
	return "", false
}

// generationTemperature maps controversy tolerance onto sampling
// temperature: cautious personas stay predictable, provocative ones run hot.
func generationTemperature(p *models.Persona) float64 {
	tolerance := p.ControversyTolerance
	if tolerance < 0 {
		tolerance = 0
	}
	if tolerance > 100 {
		tolerance = 100
	}
	return 0.6 + 0.3*float64(tolerance)/100.0
}

func (o *Orchestrator) publishDraft(ctx context.Context, log *logrus.Entry, draft bus.PostDraftReady) error {
	if err := o.bus.Publish(ctx, draft); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"draft_id": draft.ID,
		"is_reply": draft.ParentPostID != "",
	}).Info("Draft published")
	return nil
}

func (o *Orchestrator) roll() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rand.Float64()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
