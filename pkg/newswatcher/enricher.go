package newswatcher

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/prompts"

	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/llm"
)

const (
	// DefaultEnrichInterval is the default duration between enrichment passes
	DefaultEnrichInterval = time.Minute

	// DefaultEnrichBatch caps how many items one pass enriches
	DefaultEnrichBatch = 5

	// defaultEnrichTimeout bounds a single summarization call
	defaultEnrichTimeout = 15 * time.Second

	// maxEnrichAttempts bounds retries before an item is settled with its
	// feed-derived tags so it stops blocking the queue
	maxEnrichAttempts = 3

	// maxExcerptRunes caps article text handed to the model
	maxExcerptRunes = 2000
)

var enrichPrompt = prompts.NewPromptTemplate(
	`You summarize news articles for a social feed.

Article title: {{.title}}

Article text:
{{.excerpt}}

Reply with exactly two lines:
SUMMARY: a one or two sentence summary of the article.
TOPICS: three to six short lowercase topic tags, comma separated.`,
	[]string{"title", "excerpt"},
)

// EnrichmentStore is the store surface the enricher works against.
type EnrichmentStore interface {
	ItemsNeedingEnrichment(ctx context.Context, limit int) ([]models.NewsItem, error)
	MarkEnriched(ctx context.Context, id, summary string, tags []string) (bool, error)
}

// ContentProvider generates text through a named backend.
type ContentProvider interface {
	Generate(ctx context.Context, provider, prompt string, opts ...llm.Option) (string, error)
}

// EnricherOptions holds tuning knobs for the enricher.
type EnricherOptions struct {
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
}

// Enricher back-fills AISummary and TopicTags on stored news items with one
// model pass per item. Items that keep failing are settled with their
// feed-derived tags rather than retried forever.
type Enricher struct {
	logger    *logrus.Logger
	store     EnrichmentStore
	llm       ContentProvider
	provider  string
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	stopChan  chan struct{}

	attempts map[string]int
}

func NewEnricher(logger *logrus.Logger, store EnrichmentStore, contentLLM ContentProvider, provider string, opts EnricherOptions) *Enricher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultEnrichInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEnrichBatch
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultEnrichTimeout
	}

	return &Enricher{
		logger:    logger,
		store:     store,
		llm:       contentLLM,
		provider:  provider,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		stopChan:  make(chan struct{}),
		attempts:  make(map[string]int),
	}
}

func (e *Enricher) Name() string {
	return "news-enricher"
}

func (e *Enricher) Execute(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopChan:
			return nil
		case <-ticker.C:
			e.EnrichPending(ctx)
		}
	}
}

func (e *Enricher) Stop() {
	close(e.stopChan)
}

// EnrichPending runs one enrichment pass. Exported so tests can drive the
// enricher without the ticker.
func (e *Enricher) EnrichPending(ctx context.Context) {
	items, err := e.store.ItemsNeedingEnrichment(ctx, e.batchSize)
	if err != nil {
		e.logger.WithError(err).Error("Failed to load items needing enrichment")
		return
	}

	for i := range items {
		if ctx.Err() != nil {
			return
		}
		e.enrichOne(ctx, &items[i])
	}
}

func (e *Enricher) enrichOne(ctx context.Context, item *models.NewsItem) {
	log := e.logger.WithFields(logrus.Fields{
		"news_item_id": item.ID,
		"url":          item.URL,
	})

	summary, topics, err := e.summarize(ctx, item)
	if err != nil {
		e.attempts[item.ID]++
		if e.attempts[item.ID] < maxEnrichAttempts {
			log.WithError(err).Warn("Enrichment failed, will retry")
			return
		}
		// settle with what the feed gave us so the queue keeps moving
		log.WithError(err).Warn("Enrichment failed repeatedly, keeping feed-derived tags")
		summary, topics = "", item.TopicTags
	}
	delete(e.attempts, item.ID)

	if len(topics) == 0 {
		topics = item.TopicTags
	}

	updated, err := e.store.MarkEnriched(ctx, item.ID, summary, topics)
	if err != nil {
		log.WithError(err).Error("Failed to persist enrichment")
		return
	}
	if updated {
		log.WithField("topics", strings.Join(topics, ",")).Debug("News item enriched")
	}
}

func (e *Enricher) summarize(ctx context.Context, item *models.NewsItem) (string, []string, error) {
	excerpt := item.Content
	if strings.TrimSpace(excerpt) == "" {
		excerpt = item.Description
	}

	prompt, err := enrichPrompt.Format(map[string]any{
		"title":   item.Title,
		"excerpt": truncateRunes(excerpt, maxExcerptRunes),
	})
	if err != nil {
		return "", nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.llm.Generate(callCtx, e.provider, prompt,
		llm.WithTemperature(0.3),
		llm.WithMaxTokens(200),
	)
	if err != nil {
		return "", nil, err
	}

	summary, topics := parseEnrichment(raw)
	return summary, topics, nil
}

// parseEnrichment pulls the SUMMARY and TOPICS lines out of a model reply,
// tolerating replies that skip the labels.
func parseEnrichment(raw string) (string, []string) {
	var summaryParts []string
	var topics []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SUMMARY:"):
			if part := strings.TrimSpace(line[len("SUMMARY:"):]); part != "" {
				summaryParts = append(summaryParts, part)
			}
		case strings.HasPrefix(upper, "TOPICS:"):
			for _, t := range strings.Split(line[len("TOPICS:"):], ",") {
				tag := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), "#")
				if tag == "" {
					continue
				}
				topics = append(topics, tag)
				if len(topics) >= maxTopicTags {
					break
				}
			}
		default:
			// unlabeled text before the topics line is treated as summary
			if len(topics) == 0 {
				summaryParts = append(summaryParts, line)
			}
		}
	}

	return strings.Join(summaryParts, " "), topics
}
