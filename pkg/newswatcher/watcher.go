package newswatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
)

const (
	// DefaultPollInterval is the default duration between store polls
	DefaultPollInterval = 30 * time.Second

	// DefaultStartupLookback bounds how far back the first poll reaches for
	// items stored while the watcher was down
	DefaultStartupLookback = time.Hour

	// seenURLWarmLimit caps how many stored URLs are preloaded into the dedup
	// set on start
	seenURLWarmLimit = 2000
)

// NewsSource is the store surface the watcher reads from.
type NewsSource interface {
	LoadRecentNewsItems(ctx context.Context, since time.Time) ([]models.NewsItem, error)
	KnownURLs(ctx context.Context, limit int) (map[string]struct{}, error)
}

// EventPublisher is the side of the bus the watcher emits into.
type EventPublisher interface {
	Publish(ctx context.Context, evt bus.Event) error
}

// Options holds tuning knobs for the watcher.
type Options struct {
	PollInterval    time.Duration
	StartupLookback time.Duration
	Now             func() time.Time
}

// Watcher polls the store for news items it has not announced yet and emits
// one NewsDiscovered per unseen URL. Discovery order is preserved through a
// high-water mark on discovered_at.
type Watcher struct {
	logger   *logrus.Logger
	store    NewsSource
	bus      EventPublisher
	interval time.Duration
	lookback time.Duration
	now      func() time.Time
	stopChan chan struct{}

	highWater time.Time
	seen      map[string]struct{}
}

func New(logger *logrus.Logger, store NewsSource, eventBus EventPublisher, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StartupLookback <= 0 {
		opts.StartupLookback = DefaultStartupLookback
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Watcher{
		logger:   logger,
		store:    store,
		bus:      eventBus,
		interval: opts.PollInterval,
		lookback: opts.StartupLookback,
		now:      opts.Now,
		stopChan: make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
}

func (w *Watcher) Name() string {
	return "news-watcher"
}

func (w *Watcher) Execute(ctx context.Context) error {
	w.warm(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopChan:
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

func (w *Watcher) Stop() {
	close(w.stopChan)
}

// warm preloads the dedup set with recently stored URLs so a restart does not
// re-announce items that were already processed before shutdown.
func (w *Watcher) warm(ctx context.Context) {
	w.highWater = w.now().Add(-w.lookback)

	known, err := w.store.KnownURLs(ctx, seenURLWarmLimit)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to warm news dedup set, relying on high-water mark only")
		return
	}
	w.seen = known
	w.logger.WithField("known_urls", len(known)).Info("News watcher warmed from store")
}

// Poll runs one discovery pass. Exported so tests can drive the watcher
// without the ticker.
func (w *Watcher) Poll(ctx context.Context) {
	items, err := w.store.LoadRecentNewsItems(ctx, w.highWater)
	if err != nil {
		w.logger.WithError(err).Error("Failed to load recent news items")
		return
	}

	announced := 0
	for i := range items {
		item := &items[i]
		if _, ok := w.seen[item.URL]; !ok {
			evt := bus.NewsDiscovered{
				ID:         uuid.NewString(),
				NewsItemID: item.ID,
				URL:        item.URL,
				Topics:     item.TopicTags,
				Time:       item.DiscoveredAt,
			}
			if err := w.bus.Publish(ctx, evt); err != nil {
				// the mark stays below this item so the next poll retries it
				w.logger.WithFields(logrus.Fields{
					"news_item_id": item.ID,
					"url":          item.URL,
				}).WithError(err).Error("Failed to announce news item")
				return
			}
			w.seen[item.URL] = struct{}{}
			announced++
		}
		if item.DiscoveredAt.After(w.highWater) {
			w.highWater = item.DiscoveredAt
		}
	}

	if announced > 0 {
		w.logger.WithFields(logrus.Fields{
			"announced": announced,
			"polled":    len(items),
		}).Info("Announced newly discovered news items")
	}
}
