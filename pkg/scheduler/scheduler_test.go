package scheduler_test

import (
	"context"
	"math/rand"
	"time"

	"github.com/lib/pq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/scheduler"
)

var _ = Describe("Scheduler", func() {
	var (
		logger   *logrus.Logger
		source   *fakePersonaSource
		sink     *capturingBus
		clock    *testClock
		baseTime time.Time
		ctx      context.Context
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.DebugLevel)
		logger.SetOutput(GinkgoWriter)

		baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		clock = &testClock{now: baseTime}
		source = &fakePersonaSource{}
		sink = &capturingBus{}
		ctx = context.Background()
	})

	// newScheduler wires the fakes in with a seeded rand and, unless a spec
	// asks otherwise, a warmup so short that personas are eligible on the
	// first tick.
	newScheduler := func(opts scheduler.Options) *scheduler.Scheduler {
		if opts.Now == nil {
			opts.Now = clock.Now
		}
		if opts.Rand == nil {
			opts.Rand = rand.New(rand.NewSource(42))
		}
		if opts.WarmupMax == 0 {
			opts.WarmupMax = 1
		}
		return scheduler.New(logger, source, sink, opts)
	}

	newsEvent := func(newsItemID string, topics ...string) bus.NewsDiscovered {
		return bus.NewsDiscovered{
			ID:         "evt-" + newsItemID,
			NewsItemID: newsItemID,
			URL:        "https://news.example.com/" + newsItemID,
			Topics:     topics,
			Time:       clock.Now(),
		}
	}

	Context("scheduled triggers", func() {
		It("triggers a persona as soon as its slot arrives", func() {
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{})

			s.Tick(ctx)

			Expect(sink.events).To(HaveLen(1))
			act, ok := sink.events[0].(bus.PersonaShouldAct)
			Expect(ok).To(BeTrue())
			Expect(act.PersonaID).To(Equal("p1"))
			Expect(act.TriggerKind).To(Equal(bus.TriggerScheduled))
			Expect(act.NewsItemID).To(BeEmpty())
			Expect(act.ID).NotTo(BeEmpty())
			Expect(act.Time).To(Equal(baseTime))
		})

		It("does not trigger again before the next slot", func() {
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{})

			s.Tick(ctx)
			clock.Advance(10 * time.Minute)
			s.Tick(ctx)

			Expect(sink.events).To(HaveLen(1))
		})

		It("keeps the average spacing near the configured rate", func() {
			// 24 posts per day at full engagement targets one post an hour,
			// jittered by up to twenty percent either way.
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{})

			for i := 0; i < 7*24*60; i++ {
				s.Tick(ctx)
				clock.Advance(time.Minute)
			}

			var times []time.Time
			for _, evt := range sink.events {
				times = append(times, evt.(bus.PersonaShouldAct).Time)
			}
			Expect(len(times)).To(BeNumerically(">=", 140))
			Expect(len(times)).To(BeNumerically("<=", 210))

			var total time.Duration
			for i := 1; i < len(times); i++ {
				gap := times[i].Sub(times[i-1])
				Expect(gap).To(BeNumerically(">=", 48*time.Minute))
				Expect(gap).To(BeNumerically("<", 73*time.Minute))
				total += gap
			}
			mean := total / time.Duration(len(times)-1)
			Expect(mean).To(BeNumerically("~", time.Hour, 6*time.Minute))
		})

		It("holds a persona with engagementFrequency zero out of the schedule", func() {
			source.personas = []models.Persona{newPersona("quiet", 0, 24)}
			s := newScheduler(scheduler.Options{})

			for i := 0; i < 2*24*6; i++ {
				s.Tick(ctx)
				clock.Advance(10 * time.Minute)
			}

			Expect(sink.events).To(BeEmpty())
		})

		It("respects posting windows", func() {
			p := newPersona("p1", 100, 24)
			p.PostingSchedule.Windows = []models.ScheduleWindow{{Start: "09:00", End: "17:00"}}
			source.personas = []models.Persona{p}
			clock.now = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
			s := newScheduler(scheduler.Options{})

			s.Tick(ctx)
			Expect(sink.events).To(BeEmpty())

			clock.Advance(6*time.Hour + 30*time.Minute)
			s.Tick(ctx)
			Expect(sink.events).To(HaveLen(1))
		})

		It("staggers brand new personas with a warmup delay", func() {
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{WarmupMax: 5 * time.Minute})

			for i := 0; i <= 11; i++ {
				s.Tick(ctx)
				clock.Advance(30 * time.Second)
			}

			Expect(sink.events).To(HaveLen(1))
			act := sink.events[0].(bus.PersonaShouldAct)
			Expect(act.Time.Sub(baseTime)).To(BeNumerically("<=", 5*time.Minute))
		})
	})

	Context("news triggers", func() {
		It("triggers interested personas immediately", func() {
			source.personas = []models.Persona{newPersona("p1", 50, 4)}
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "Technology"))).To(Succeed())

			Expect(sink.events).To(HaveLen(1))
			act := sink.events[0].(bus.PersonaShouldAct)
			Expect(act.PersonaID).To(Equal("p1"))
			Expect(act.TriggerKind).To(Equal(bus.TriggerNews))
			Expect(act.NewsItemID).To(Equal("news-1"))
		})

		It("skips personas with no matching interests", func() {
			source.personas = []models.Persona{newPersona("p1", 50, 4)}
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "cooking", "travel"))).To(Succeed())

			Expect(sink.events).To(BeEmpty())
		})

		It("reaches personas whose schedule never fires", func() {
			source.personas = []models.Persona{newPersona("quiet", 0, 24)}
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "technology"))).To(Succeed())

			Expect(sink.events).To(HaveLen(1))
			Expect(sink.events[0].(bus.PersonaShouldAct).TriggerKind).To(Equal(bus.TriggerNews))
		})

		It("ignores posting windows for news", func() {
			p := newPersona("p1", 50, 4)
			p.PostingSchedule.Windows = []models.ScheduleWindow{{Start: "09:00", End: "17:00"}}
			source.personas = []models.Persona{p}
			clock.now = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "technology"))).To(Succeed())

			Expect(sink.events).To(HaveLen(1))
		})

		It("applies the trigger cooldown between bursts", func() {
			p := newPersona("p1", 50, 4)
			p.DebateAggression = 100
			source.personas = []models.Persona{p}
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "technology"))).To(Succeed())
			clock.Advance(time.Minute)
			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-2", "technology"))).To(Succeed())

			// the most aggressive personas still wait two minutes
			Expect(sink.events).To(HaveLen(1))

			clock.Advance(2 * time.Minute)
			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-3", "technology"))).To(Succeed())

			Expect(sink.events).To(HaveLen(2))
			Expect(sink.events[1].(bus.PersonaShouldAct).NewsItemID).To(Equal("news-3"))
		})

		It("pushes the scheduled slot back after a news trigger", func() {
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{})

			Expect(s.HandleNewsDiscovered(ctx, newsEvent("news-1", "technology"))).To(Succeed())
			Expect(sink.events).To(HaveLen(1))

			clock.Advance(30 * time.Minute)
			s.Tick(ctx)
			Expect(sink.events).To(HaveLen(1))

			clock.Advance(31 * time.Minute)
			s.Tick(ctx)
			Expect(sink.events).To(HaveLen(2))
			Expect(sink.events[1].(bus.PersonaShouldAct).TriggerKind).To(Equal(bus.TriggerScheduled))
		})

		It("rejects events of the wrong type", func() {
			s := newScheduler(scheduler.Options{})

			err := s.HandleNewsDiscovered(ctx, bus.PostCreated{ID: "evt-1", PostID: "post-1", ThreadID: "thread-1"})

			Expect(err).To(HaveOccurred())
			Expect(sink.events).To(BeEmpty())
		})
	})

	Context("lifecycle", func() {
		It("rebuilds cadence from posting history", func() {
			source.personas = []models.Persona{newPersona("recent", 100, 24), newPersona("stale", 100, 24)}
			source.latest = map[string]time.Time{
				"recent": baseTime.Add(-30 * time.Minute),
				"stale":  baseTime.Add(-2 * time.Hour),
			}
			s := newScheduler(scheduler.Options{})

			primed, cancel := context.WithCancel(ctx)
			cancel()
			Expect(s.Execute(primed)).To(MatchError(context.Canceled))

			s.Tick(ctx)
			Expect(personaIDs(sink.events)).To(ConsistOf("stale"))

			clock.Advance(31 * time.Minute)
			s.Tick(ctx)
			Expect(personaIDs(sink.events)).To(ConsistOf("stale", "recent"))
		})

		It("drops state for deactivated personas", func() {
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			s := newScheduler(scheduler.Options{})

			s.Tick(ctx)
			Expect(sink.events).To(HaveLen(1))

			source.personas = nil
			clock.Advance(time.Minute)
			s.Tick(ctx)

			// reactivation starts fresh instead of waiting out the old slot
			source.personas = []models.Persona{newPersona("p1", 100, 24)}
			clock.Advance(time.Minute)
			s.Tick(ctx)
			Expect(sink.events).To(HaveLen(2))
		})

		It("stops cleanly", func() {
			s := newScheduler(scheduler.Options{TickInterval: time.Hour})

			done := make(chan error, 1)
			go func() { done <- s.Execute(context.Background()) }()
			s.Stop()

			Eventually(done).Should(Receive(BeNil()))
		})

		It("returns the context error when cancelled", func() {
			s := newScheduler(scheduler.Options{TickInterval: time.Hour})

			cancelled, cancel := context.WithCancel(context.Background())
			cancel()

			Expect(s.Execute(cancelled)).To(MatchError(context.Canceled))
		})
	})
})

func newPersona(id string, frequency, postsPerDay int) models.Persona {
	return models.Persona{
		ID:                   id,
		UserID:               "user-" + id,
		Name:                 "Persona " + id,
		EngagementFrequency:  frequency,
		DebateAggression:     50,
		ControversyTolerance: 50,
		AIProvider:           "openai",
		Interests:            pq.StringArray{"technology"},
		PostingSchedule: models.PostingSchedule{
			PostsPerDay: postsPerDay,
		},
		IsActive: true,
	}
}

func personaIDs(events []bus.Event) []string {
	var ids []string
	for _, evt := range events {
		ids = append(ids, evt.(bus.PersonaShouldAct).PersonaID)
	}
	return ids
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakePersonaSource struct {
	personas []models.Persona
	latest   map[string]time.Time
	loadErr  error
}

func (f *fakePersonaSource) LoadActivePersonas(ctx context.Context) ([]models.Persona, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.personas, nil
}

func (f *fakePersonaSource) LatestPostTimes(ctx context.Context) (map[string]time.Time, error) {
	if f.latest == nil {
		return map[string]time.Time{}, nil
	}
	return f.latest, nil
}

type capturingBus struct {
	events []bus.Event
	err    error
}

func (c *capturingBus) Publish(ctx context.Context, evt bus.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, evt)
	return nil
}
