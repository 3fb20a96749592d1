package newswatcher

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/db/models"
)

const (
	// DefaultIngestInterval is the default duration between full feed sweeps
	DefaultIngestInterval = 15 * time.Minute

	// DefaultMaxItemsPerFeed caps how many entries a single feed can
	// contribute per sweep
	DefaultMaxItemsPerFeed = 20

	// defaultFetchTimeout bounds each feed or article request
	defaultFetchTimeout = 30 * time.Second

	// politeDelay spaces article fetches so one sweep does not hammer a host
	politeDelay = 1500 * time.Millisecond

	// maxTopicTags caps feed-derived tags per item; the enricher refines them
	maxTopicTags = 8

	// relevanceHorizon is the age at which an item's initial relevance
	// reaches zero
	relevanceHorizon = 48 * time.Hour
)

// ItemWriter is the store surface the ingester writes through.
type ItemWriter interface {
	CreateNewsItem(ctx context.Context, item *models.NewsItem) (bool, error)
	KnownURLs(ctx context.Context, limit int) (map[string]struct{}, error)
}

// IngesterOptions holds tuning knobs for the RSS ingester.
type IngesterOptions struct {
	Interval        time.Duration
	MaxItemsPerFeed int
	Client          *http.Client
	Now             func() time.Time
}

// Ingester sweeps the configured RSS/Atom feeds and persists unseen entries
// as news items. It only writes to the store; the watcher announces the rows
// it finds there, so feed-fed and externally written items flow through the
// same path.
type Ingester struct {
	logger     *logrus.Logger
	store      ItemWriter
	feeds      []string
	parser     *gofeed.Parser
	extractor  *ArticleExtractor
	interval   time.Duration
	maxPerFeed int
	now        func() time.Time
	stopChan   chan struct{}
}

func NewIngester(logger *logrus.Logger, store ItemWriter, feeds []string, opts IngesterOptions) *Ingester {
	if opts.Interval <= 0 {
		opts.Interval = DefaultIngestInterval
	}
	if opts.MaxItemsPerFeed <= 0 {
		opts.MaxItemsPerFeed = DefaultMaxItemsPerFeed
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	parser := gofeed.NewParser()
	parser.Client = opts.Client

	return &Ingester{
		logger:     logger,
		store:      store,
		feeds:      feeds,
		parser:     parser,
		extractor:  NewArticleExtractor(logger, opts.Client),
		interval:   opts.Interval,
		maxPerFeed: opts.MaxItemsPerFeed,
		now:        opts.Now,
		stopChan:   make(chan struct{}),
	}
}

func (n *Ingester) Name() string {
	return "rss-ingester"
}

func (n *Ingester) Execute(ctx context.Context) error {
	if len(n.feeds) == 0 {
		n.logger.Info("No news feeds configured, RSS ingester idle")
		<-ctx.Done()
		return ctx.Err()
	}

	// sweep once at start so a fresh deployment has news to react to
	n.Ingest(ctx)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stopChan:
			return nil
		case <-ticker.C:
			n.Ingest(ctx)
		}
	}
}

func (n *Ingester) Stop() {
	close(n.stopChan)
}

// Ingest runs one sweep over all configured feeds. Exported so tests can
// drive the ingester without the ticker.
func (n *Ingester) Ingest(ctx context.Context) {
	known, err := n.store.KnownURLs(ctx, seenURLWarmLimit)
	if err != nil {
		n.logger.WithError(err).Warn("Failed to preload known URLs, relying on store dedup")
		known = map[string]struct{}{}
	}

	type feedResult struct {
		url  string
		feed *gofeed.Feed
		err  error
	}

	var wg sync.WaitGroup
	results := make(chan feedResult, len(n.feeds))
	for _, raw := range n.feeds {
		feedURL := strings.TrimSpace(raw)
		if feedURL == "" {
			continue
		}
		wg.Add(1)
		go func(feedURL string) {
			defer wg.Done()
			feed, err := n.parser.ParseURLWithContext(feedURL, ctx)
			results <- feedResult{url: feedURL, feed: feed, err: err}
		}(feedURL)
	}
	go func() { wg.Wait(); close(results) }()

	stored := 0
	for r := range results {
		if r.err != nil || r.feed == nil {
			n.logger.WithField("feed_url", r.url).WithError(r.err).Warn("Feed fetch failed")
			continue
		}
		stored += n.ingestFeed(ctx, r.feed, r.url, known)
	}

	if stored > 0 {
		n.logger.WithFields(logrus.Fields{
			"feeds":  len(n.feeds),
			"stored": stored,
		}).Info("RSS sweep stored new items")
	}
}

func (n *Ingester) ingestFeed(ctx context.Context, feed *gofeed.Feed, feedURL string, known map[string]struct{}) int {
	stored := 0
	taken := 0
	for _, entry := range feed.Items {
		if taken >= n.maxPerFeed {
			break
		}
		if entry == nil {
			continue
		}
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			continue
		}
		if _, ok := known[link]; ok {
			continue
		}
		taken++

		if ctx.Err() != nil {
			return stored
		}

		item := n.buildItem(ctx, feed, entry, link)
		created, err := n.store.CreateNewsItem(ctx, item)
		if err != nil {
			n.logger.WithField("url", link).WithError(err).Error("Failed to store news item")
			continue
		}
		known[link] = struct{}{}
		if !created {
			continue
		}
		stored++

		select {
		case <-ctx.Done():
			return stored
		case <-time.After(politeDelay):
		}
	}

	n.logger.WithFields(logrus.Fields{
		"feed_url": feedURL,
		"items":    len(feed.Items),
		"stored":   stored,
	}).Debug("Feed processed")
	return stored
}

func (n *Ingester) buildItem(ctx context.Context, feed *gofeed.Feed, entry *gofeed.Item, link string) *models.NewsItem {
	now := n.now()

	published := now
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.UTC()
	}

	content := n.extractor.ExtractText(ctx, link)
	if content == "" {
		// fall back to the feed-provided body, stripped to plain text
		content = HTMLToText(firstNonEmpty(entry.Content, entry.Description))
	}

	return &models.NewsItem{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(entry.Title),
		URL:            link,
		SourceName:     strings.TrimSpace(feed.Title),
		Description:    HTMLToText(entry.Description),
		Content:        content,
		TopicTags:      feedTopics(entry),
		RelevanceScore: initialRelevance(published, now),
		PublishedAt:    published,
		DiscoveredAt:   now,
	}
}

// feedTopics derives initial tags from the entry's categories. The enricher
// replaces them with LLM-derived tags later; until then they are what the
// scheduler matches persona interests against.
func feedTopics(entry *gofeed.Item) []string {
	seen := make(map[string]struct{}, len(entry.Categories))
	topics := make([]string, 0, len(entry.Categories))
	for _, c := range entry.Categories {
		tag := strings.ToLower(strings.TrimSpace(c))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		topics = append(topics, tag)
		if len(topics) >= maxTopicTags {
			break
		}
	}
	return topics
}

// initialRelevance decays linearly with article age, from 1 at publication
// to 0 at the horizon.
func initialRelevance(published, now time.Time) float64 {
	age := now.Sub(published)
	if age <= 0 {
		return 1
	}
	if age >= relevanceHorizon {
		return 0
	}
	return 1 - float64(age)/float64(relevanceHorizon)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
