package trends

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/db/models"
)

const (
	// DefaultComputeInterval is the default duration between scoring runs
	DefaultComputeInterval = 5 * time.Minute

	// trendWindow is the rolling window scores are computed over
	trendWindow = 24 * time.Hour

	// velocitySentinel stands in for an infinite ratio: engagement appeared
	// this hour where the prior hour had none
	velocitySentinel = 10.0

	// trendScore weights
	weightPosts    = 0.4
	weightUsers    = 0.3
	weightVelocity = 0.3

	maxTrendScore = 100.0
)

var hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// TrendSource reads the window's source rows and swaps in the new scores.
type TrendSource interface {
	PostsInWindow(ctx context.Context, start, end time.Time) ([]models.Post, error)
	ReactionsInWindow(ctx context.Context, start, end time.Time) ([]models.Reaction, error)
	ReplaceTrends(ctx context.Context, trends []models.Trend) error
}

// NewsTagSource resolves topic tags for news-referencing posts.
type NewsTagSource interface {
	GetNewsItemsByIDs(ctx context.Context, ids []string) (map[string]models.NewsItem, error)
}

// Options holds tuning knobs for the scorer.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

// Scorer recomputes every trend row from source data on a fixed clock. Runs
// are full rebuilds, never incremental, so a crashed run leaves the previous
// scores untouched and the next run self-heals.
type Scorer struct {
	logger   *logrus.Logger
	trends   TrendSource
	news     NewsTagSource
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

func New(logger *logrus.Logger, trendSource TrendSource, news NewsTagSource, opts Options) *Scorer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultComputeInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scorer{
		logger:   logger,
		trends:   trendSource,
		news:     news,
		interval: opts.Interval,
		now:      opts.Now,
		stopChan: make(chan struct{}),
	}
}

func (s *Scorer) Name() string {
	return "trend-scorer"
}

func (s *Scorer) Execute(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			return nil
		case <-ticker.C:
			if err := s.Compute(ctx); err != nil {
				s.logger.WithError(err).Error("Trend computation failed, keeping previous scores")
			}
		}
	}
}

func (s *Scorer) Stop() {
	close(s.stopChan)
}

type topicStats struct {
	postCount  int
	users      map[string]struct{}
	engagement []time.Time
}

// Compute runs one full scoring pass. Exported so tests can drive the scorer
// without the ticker.
func (s *Scorer) Compute(ctx context.Context) error {
	end := s.now()
	start := end.Add(-trendWindow)

	posts, err := s.trends.PostsInWindow(ctx, start, end)
	if err != nil {
		return err
	}
	reactions, err := s.trends.ReactionsInWindow(ctx, start, end)
	if err != nil {
		return err
	}

	topicsByPost, stats, err := s.collectTopics(ctx, posts)
	if err != nil {
		return err
	}

	// reactions attribute to their post's topics; reactions to posts that
	// fell out of the window no longer influence trends
	for i := range reactions {
		r := &reactions[i]
		if !r.Type.CountsTowardEngagement() {
			continue
		}
		for _, topic := range topicsByPost[r.PostID] {
			stats[topic].engagement = append(stats[topic].engagement, r.CreatedAt)
		}
	}

	rows := s.scoreTopics(stats, start, end)
	if err := s.trends.ReplaceTrends(ctx, rows); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"topics":    len(rows),
		"posts":     len(posts),
		"reactions": len(reactions),
	}).Info("Trends recomputed")
	return nil
}

// collectTopics maps every post to its topics and accumulates per-topic post
// and author counts.
func (s *Scorer) collectTopics(ctx context.Context, posts []models.Post) (map[string][]string, map[string]*topicStats, error) {
	newsIDs := make([]string, 0)
	seenNews := make(map[string]struct{})
	for i := range posts {
		if id := posts[i].NewsItemID; id != nil && *id != "" {
			if _, ok := seenNews[*id]; !ok {
				seenNews[*id] = struct{}{}
				newsIDs = append(newsIDs, *id)
			}
		}
	}

	newsItems, err := s.news.GetNewsItemsByIDs(ctx, newsIDs)
	if err != nil {
		return nil, nil, err
	}

	topicsByPost := make(map[string][]string, len(posts))
	stats := make(map[string]*topicStats)
	for i := range posts {
		post := &posts[i]
		topics := postTopics(post, newsItems)
		if len(topics) == 0 {
			continue
		}
		topicsByPost[post.ID] = topics

		for _, topic := range topics {
			st := stats[topic]
			if st == nil {
				st = &topicStats{users: make(map[string]struct{})}
				stats[topic] = st
			}
			st.postCount++
			st.users[post.AuthorID] = struct{}{}
		}
	}
	return topicsByPost, stats, nil
}

// scoreTopics turns accumulated stats into trend rows, max-normalizing each
// run so scores are comparable within it.
func (s *Scorer) scoreTopics(stats map[string]*topicStats, start, end time.Time) []models.Trend {
	var maxPosts, maxUsers float64
	velocities := make(map[string]float64, len(stats))
	for topic, st := range stats {
		if float64(st.postCount) > maxPosts {
			maxPosts = float64(st.postCount)
		}
		if float64(len(st.users)) > maxUsers {
			maxUsers = float64(len(st.users))
		}
		velocities[topic] = velocity(st.engagement, end)
	}

	rows := make([]models.Trend, 0, len(stats))
	for topic, st := range stats {
		v := velocities[topic]

		normPosts := 0.0
		if maxPosts > 0 {
			normPosts = float64(st.postCount) / maxPosts
		}
		normUsers := 0.0
		if maxUsers > 0 {
			normUsers = float64(len(st.users)) / maxUsers
		}
		normVelocity := v / velocitySentinel
		if normVelocity > 1 {
			normVelocity = 1
		}

		score := maxTrendScore * (weightPosts*normPosts + weightUsers*normUsers + weightVelocity*normVelocity)
		if score < 0 {
			score = 0
		}
		if score > maxTrendScore {
			score = maxTrendScore
		}

		rows = append(rows, models.Trend{
			ID:              uuid.NewString(),
			Topic:           topic,
			WindowStart:     start,
			WindowEnd:       end,
			PostCount:       st.postCount,
			UniqueUsers:     len(st.users),
			EngagementCount: len(st.engagement),
			Velocity:        v,
			TrendScore:      score,
			ComputedAt:      end,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TrendScore != rows[j].TrendScore {
			return rows[i].TrendScore > rows[j].TrendScore
		}
		return rows[i].Topic < rows[j].Topic
	})
	return rows
}

// velocity is last hour's engagement over the prior hour's. Zero when both
// hours are silent; the sentinel when engagement appeared from nothing.
func velocity(engagement []time.Time, end time.Time) float64 {
	hourAgo := end.Add(-time.Hour)
	twoHoursAgo := end.Add(-2 * time.Hour)

	var lastHour, priorHour float64
	for _, t := range engagement {
		switch {
		case t.After(hourAgo):
			lastHour++
		case t.After(twoHoursAgo):
			priorHour++
		}
	}

	if priorHour == 0 {
		if lastHour == 0 {
			return 0
		}
		return velocitySentinel
	}
	return lastHour / priorHour
}

// postTopics extracts lowercase hashtags from the content and merges in the
// referenced news item's tags.
func postTopics(post *models.Post, newsItems map[string]models.NewsItem) []string {
	seen := make(map[string]struct{})
	topics := make([]string, 0, 4)

	add := func(topic string) {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			return
		}
		if _, ok := seen[topic]; ok {
			return
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}

	for _, match := range hashtagRe.FindAllStringSubmatch(post.Content, -1) {
		add(match[1])
	}
	if post.NewsItemID != nil {
		if item, ok := newsItems[*post.NewsItemID]; ok {
			for _, tag := range item.TopicTags {
				add(tag)
			}
		}
	}
	return topics
}
