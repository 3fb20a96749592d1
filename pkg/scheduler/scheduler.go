package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
)

const (
	// DefaultTickInterval is the default duration between scheduling passes
	DefaultTickInterval = 5 * time.Second

	// DefaultIntervalFloor caps how often a persona can be scheduled no
	// matter how aggressive its configured rate is
	DefaultIntervalFloor = time.Minute

	// DefaultWarmupMax bounds the randomized delay before a persona with no
	// posting history becomes eligible
	DefaultWarmupMax = 5 * time.Minute

	// Trigger cooldown range, interpolated from debateAggression
	maxTriggerCooldown = 30 * time.Minute
	minTriggerCooldown = 2 * time.Minute
)

// PersonaSource supplies the active persona set and their posting history.
type PersonaSource interface {
	LoadActivePersonas(ctx context.Context) ([]models.Persona, error)
	LatestPostTimes(ctx context.Context) (map[string]time.Time, error)
}

// EventPublisher is the side of the bus the scheduler emits into.
type EventPublisher interface {
	Publish(ctx context.Context, evt bus.Event) error
}

// Options holds tuning knobs for the scheduler. Now and Rand exist so tests
// can drive time and jitter deterministically.
type Options struct {
	TickInterval  time.Duration
	IntervalFloor time.Duration
	WarmupMax     time.Duration
	Now           func() time.Time
	Rand          *rand.Rand
}

// personaState is the in-memory eligibility record for one persona. It is
// rebuilt from posting history on start and dropped when the persona
// deactivates.
type personaState struct {
	nextEligibleAt time.Time
	lastTriggerAt  time.Time
	location       *time.Location
}

// Scheduler decides when each persona acts. Every tick it refreshes the
// active persona set and emits at most one PersonaShouldAct per persona;
// news arrivals can trigger a persona immediately between ticks, pushing its
// scheduled slot back one interval.
type Scheduler struct {
	logger        *logrus.Logger
	personas      PersonaSource
	bus           EventPublisher
	tickInterval  time.Duration
	intervalFloor time.Duration
	warmupMax     time.Duration
	now           func() time.Time
	stopChan      chan struct{}

	mu        sync.Mutex
	rand      *rand.Rand
	states    map[string]*personaState
	snapshot  []models.Persona
	lastPosts map[string]time.Time
}

func New(logger *logrus.Logger, personas PersonaSource, eventBus EventPublisher, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.IntervalFloor <= 0 {
		opts.IntervalFloor = DefaultIntervalFloor
	}
	if opts.WarmupMax <= 0 {
		opts.WarmupMax = DefaultWarmupMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Scheduler{
		logger:        logger,
		personas:      personas,
		bus:           eventBus,
		tickInterval:  opts.TickInterval,
		intervalFloor: opts.IntervalFloor,
		warmupMax:     opts.WarmupMax,
		now:           opts.Now,
		rand:          opts.Rand,
		stopChan:      make(chan struct{}),
		states:        make(map[string]*personaState),
	}
}

func (s *Scheduler) Name() string {
	return "persona-scheduler"
}

func (s *Scheduler) Execute(ctx context.Context) error {
	s.prime(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// prime rebuilds eligibility state from each persona's most recent post so a
// restart neither double-posts nor makes everyone eligible at once.
func (s *Scheduler) prime(ctx context.Context) {
	latest, err := s.personas.LatestPostTimes(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load posting history, personas start with warmup delays")
		latest = map[string]time.Time{}
	}

	s.mu.Lock()
	s.lastPosts = latest
	s.mu.Unlock()

	s.logger.WithField("personas_with_history", len(latest)).Info("Scheduler primed from posting history")
}

// Tick runs one scheduling pass. Exported so tests can drive the scheduler
// without the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	personas, err := s.personas.LoadActivePersonas(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to refresh active personas")
		return
	}
	now := s.now()

	s.mu.Lock()
	s.snapshot = personas

	var triggers []bus.PersonaShouldAct
	live := make(map[string]bool, len(personas))
	for i := range personas {
		p := &personas[i]
		live[p.ID] = true

		state, ok := s.states[p.ID]
		if !ok {
			state = s.newState(p, now)
			s.states[p.ID] = state
		}

		if !s.eligibleForScheduled(p, state, now) {
			continue
		}

		triggers = append(triggers, bus.PersonaShouldAct{
			ID:          uuid.NewString(),
			PersonaID:   p.ID,
			TriggerKind: bus.TriggerScheduled,
			Time:        now,
		})
		state.lastTriggerAt = now
		state.nextEligibleAt = now.Add(s.jitteredInterval(p))
	}

	// deactivated personas lose their state; in-flight generation is not
	// cancelled, only future triggers stop
	for id := range s.states {
		if !live[id] {
			delete(s.states, id)
		}
	}
	s.mu.Unlock()

	s.publishAll(ctx, triggers)
}

// HandleNewsDiscovered matches the item's topics against persona interests
// and expertise and triggers matching personas immediately. News takes
// precedence over the schedule: an emitted news trigger pushes the persona's
// next scheduled slot back one full interval.
func (s *Scheduler) HandleNewsDiscovered(ctx context.Context, evt bus.Event) error {
	news, ok := evt.(bus.NewsDiscovered)
	if !ok {
		return fmt.Errorf("unexpected event type %T for kind %s", evt, evt.Kind())
	}
	now := s.now()

	personas, err := s.activeSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var triggers []bus.PersonaShouldAct
	for i := range personas {
		p := &personas[i]
		if !topicsMatch(p, news.Topics) {
			continue
		}

		state, ok := s.states[p.ID]
		if !ok {
			state = s.newState(p, now)
			s.states[p.ID] = state
		}

		if !state.lastTriggerAt.IsZero() && now.Sub(state.lastTriggerAt) < s.cooldown(p) {
			continue
		}

		triggers = append(triggers, bus.PersonaShouldAct{
			ID:          uuid.NewString(),
			PersonaID:   p.ID,
			TriggerKind: bus.TriggerNews,
			NewsItemID:  news.NewsItemID,
			Time:        now,
		})
		state.lastTriggerAt = now
		if interval := s.targetInterval(p); interval > 0 {
			state.nextEligibleAt = now.Add(interval)
		}
	}
	s.mu.Unlock()

	s.publishAll(ctx, triggers)
	return nil
}

// activeSnapshot reuses the last tick's persona set, loading it only when no
// tick has run yet.
func (s *Scheduler) activeSnapshot(ctx context.Context) ([]models.Persona, error) {
	s.mu.Lock()
	snapshot := s.snapshot
	s.mu.Unlock()
	if snapshot != nil {
		return snapshot, nil
	}

	loaded, err := s.personas.LoadActivePersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas for news matching: %w", err)
	}

	s.mu.Lock()
	if s.snapshot == nil {
		s.snapshot = loaded
	}
	snapshot = s.snapshot
	s.mu.Unlock()
	return snapshot, nil
}

func (s *Scheduler) publishAll(ctx context.Context, triggers []bus.PersonaShouldAct) {
	for _, trigger := range triggers {
		log := s.logger.WithFields(logrus.Fields{
			"persona_id": trigger.PersonaID,
			"trigger":    trigger.TriggerKind,
			"event_id":   trigger.ID,
		})
		if err := s.bus.Publish(ctx, trigger); err != nil {
			log.WithError(err).Error("Failed to publish trigger")
			continue
		}
		log.Debug("Persona triggered")
	}
}

// eligibleForScheduled applies the unprompted-posting rules: a configured
// rate, the current slot reached, inside an allowed window, and outside the
// trigger cooldown.
func (s *Scheduler) eligibleForScheduled(p *models.Persona, state *personaState, now time.Time) bool {
	if p.EngagementFrequency <= 0 || p.PostingSchedule.PostsPerDay <= 0 {
		return false
	}
	if now.Before(state.nextEligibleAt) {
		return false
	}
	if !p.PostingSchedule.Allows(now.In(state.location)) {
		return false
	}
	if !state.lastTriggerAt.IsZero() && now.Sub(state.lastTriggerAt) < s.cooldown(p) {
		return false
	}
	return true
}

// newState seeds eligibility for a persona the scheduler has not seen.
// Personas with history continue their cadence from the last post; new
// personas get a randomized warmup so a fresh fleet does not post in unison.
func (s *Scheduler) newState(p *models.Persona, now time.Time) *personaState {
	state := &personaState{location: s.location(p)}

	if last, ok := s.lastPosts[p.ID]; ok {
		state.lastTriggerAt = last
		if interval := s.targetInterval(p); interval > 0 {
			state.nextEligibleAt = last.Add(interval)
		}
		return state
	}

	state.nextEligibleAt = now.Add(s.warmupDelay())
	return state
}

func (s *Scheduler) location(p *models.Persona) *time.Location {
	if p.TimezonePreference == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TimezonePreference)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"persona_id": p.ID,
			"timezone":   p.TimezonePreference,
		}).WithError(err).Warn("Unknown timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}

// targetInterval is the persona's mean spacing between unprompted posts:
// the day divided by the engagement-scaled posting rate.
func (s *Scheduler) targetInterval(p *models.Persona) time.Duration {
	rate := float64(p.PostingSchedule.PostsPerDay) * float64(p.EngagementFrequency) / 100.0
	if rate <= 0 {
		return 0
	}
	interval := time.Duration(float64(24*time.Hour) / rate)
	if interval < s.intervalFloor {
		interval = s.intervalFloor
	}
	return interval
}

// jitteredInterval spreads the next slot within 20% either side of the target so
// personas sharing a rate do not publish in lockstep.
func (s *Scheduler) jitteredInterval(p *models.Persona) time.Duration {
	interval := s.targetInterval(p)
	factor := 0.8 + 0.4*s.rand.Float64()
	return time.Duration(float64(interval) * factor)
}

func (s *Scheduler) warmupDelay() time.Duration {
	if s.warmupMax <= 0 {
		return 0
	}
	return time.Duration(s.rand.Int63n(int64(s.warmupMax)))
}

// cooldown interpolates the minimum spacing between two triggers from
// debateAggression: the most aggressive personas re-engage after 2 minutes,
// the least after 30.
func (s *Scheduler) cooldown(p *models.Persona) time.Duration {
	aggression := p.DebateAggression
	if aggression < 0 {
		aggression = 0
	}
	if aggression > 100 {
		aggression = 100
	}
	span := float64(maxTriggerCooldown - minTriggerCooldown)
	return maxTriggerCooldown - time.Duration(span*float64(aggression)/100.0)
}

func topicsMatch(p *models.Persona, topics []string) bool {
	if len(topics) == 0 {
		return false
	}

	wants := make(map[string]bool, len(p.Interests)+len(p.Expertise))
	for _, t := range p.Interests {
		wants[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, t := range p.Expertise {
		wants[strings.ToLower(strings.TrimSpace(t))] = true
	}

	for _, t := range topics {
		if wants[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}
