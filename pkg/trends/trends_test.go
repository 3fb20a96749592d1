package trends_test

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/trends"
)

var _ = Describe("Scorer", func() {
	var (
		logger *logrus.Logger
		source *fakeTrendSource
		news   *fakeNewsTags
		scorer *trends.Scorer
		end    time.Time
		ctx    context.Context
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.DebugLevel)
		logger.SetOutput(GinkgoWriter)

		end = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		source = &fakeTrendSource{}
		news = &fakeNewsTags{items: map[string]models.NewsItem{}}
		scorer = trends.New(logger, source, news, trends.Options{Now: func() time.Time { return end }})
		ctx = context.Background()
	})

	post := func(id, authorID, content string) models.Post {
		return models.Post{
			ID:        id,
			AuthorID:  authorID,
			ThreadID:  "thread-" + id,
			Content:   content,
			CreatedAt: end.Add(-2 * time.Hour),
		}
	}

	like := func(postID string, at time.Time) models.Reaction {
		return models.Reaction{
			ID:        "reaction-" + postID + at.String(),
			UserID:    "user-liker",
			PostID:    postID,
			Type:      models.ReactionLike,
			CreatedAt: at,
		}
	}

	latest := func() []models.Trend {
		Expect(source.replaced).NotTo(BeEmpty())
		return source.replaced[len(source.replaced)-1]
	}

	It("extracts hashtags and counts posts and authors per topic", func() {
		source.posts = []models.Post{
			post("p1", "user-1", "Big week for #AI and #chips"),
			post("p2", "user-2", "#ai regulation incoming"),
			post("p3", "user-1", "nothing tagged here"),
		}

		Expect(scorer.Compute(ctx)).To(Succeed())

		rows := latest()
		Expect(rows).To(HaveLen(2))

		Expect(rows[0].Topic).To(Equal("ai"))
		Expect(rows[0].PostCount).To(Equal(2))
		Expect(rows[0].UniqueUsers).To(Equal(2))
		Expect(rows[0].TrendScore).To(BeNumerically("~", 70.0, 0.01))
		Expect(rows[0].WindowStart).To(Equal(end.Add(-24 * time.Hour)))
		Expect(rows[0].WindowEnd).To(Equal(end))

		Expect(rows[1].Topic).To(Equal("chips"))
		Expect(rows[1].PostCount).To(Equal(1))
		Expect(rows[1].TrendScore).To(BeNumerically("~", 35.0, 0.01))
	})

	It("merges the referenced news item's tags into a post's topics", func() {
		newsID := "news-1"
		p := post("p1", "user-1", "Thoughts?")
		p.NewsItemID = &newsID
		source.posts = []models.Post{p}
		news.items[newsID] = models.NewsItem{
			ID:        newsID,
			TopicTags: pq.StringArray{"Technology", "chips"},
		}

		Expect(scorer.Compute(ctx)).To(Succeed())

		Expect(topicsOf(latest())).To(ConsistOf("technology", "chips"))
	})

	It("attributes countable reactions to the post's topics", func() {
		source.posts = []models.Post{post("p1", "user-1", "#golang rocks")}
		source.reactions = []models.Reaction{
			like("p1", end.Add(-30*time.Minute)),
			like("p1", end.Add(-90*time.Minute)),
			{ID: "r-bm", UserID: "user-2", PostID: "p1", Type: models.ReactionBookmark, CreatedAt: end.Add(-10 * time.Minute)},
			like("p-gone", end.Add(-5*time.Minute)),
		}

		Expect(scorer.Compute(ctx)).To(Succeed())

		rows := latest()
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].EngagementCount).To(Equal(2))
		Expect(rows[0].Velocity).To(BeNumerically("~", 1.0, 0.001))
		// one post, one author, steady velocity
		Expect(rows[0].TrendScore).To(BeNumerically("~", 73.0, 0.01))
	})

	It("uses the sentinel velocity when engagement appears from nothing", func() {
		source.posts = []models.Post{post("p1", "user-1", "#breaking news")}
		source.reactions = []models.Reaction{
			like("p1", end.Add(-10*time.Minute)),
			like("p1", end.Add(-20*time.Minute)),
		}

		Expect(scorer.Compute(ctx)).To(Succeed())

		rows := latest()
		row := findTopic(rows, "breaking")
		Expect(row).NotTo(BeNil())
		Expect(row.Velocity).To(Equal(10.0))
		Expect(row.TrendScore).To(BeNumerically("~", 100.0, 0.001))
	})

	It("keeps raw velocity but caps its score contribution", func() {
		source.posts = []models.Post{post("p1", "user-1", "#surge")}
		reactions := []models.Reaction{like("p1", end.Add(-90 * time.Minute))}
		for i := 0; i < 15; i++ {
			reactions = append(reactions, like("p1", end.Add(-time.Duration(i+1)*time.Minute)))
		}
		source.reactions = reactions

		Expect(scorer.Compute(ctx)).To(Succeed())

		row := findTopic(latest(), "surge")
		Expect(row.Velocity).To(Equal(15.0))
		Expect(row.TrendScore).To(BeNumerically("~", 100.0, 0.001))
	})

	It("scores velocity zero when the last two hours are quiet", func() {
		source.posts = []models.Post{post("p1", "user-1", "#slowburn")}
		source.reactions = []models.Reaction{like("p1", end.Add(-3 * time.Hour))}

		Expect(scorer.Compute(ctx)).To(Succeed())

		row := findTopic(latest(), "slowburn")
		Expect(row.EngagementCount).To(Equal(1))
		Expect(row.Velocity).To(BeZero())
	})

	It("breaks score ties alphabetically", func() {
		source.posts = []models.Post{
			post("p1", "user-1", "#zebra"),
			post("p2", "user-1", "#aardvark"),
		}

		Expect(scorer.Compute(ctx)).To(Succeed())

		Expect(topicsOf(latest())).To(Equal([]string{"aardvark", "zebra"}))
	})

	It("rebuilds from scratch every run", func() {
		source.posts = []models.Post{post("p1", "user-1", "#golang")}
		Expect(scorer.Compute(ctx)).To(Succeed())

		source.posts = []models.Post{post("p2", "user-1", "#rust")}
		Expect(scorer.Compute(ctx)).To(Succeed())

		Expect(source.replaced).To(HaveLen(2))
		Expect(topicsOf(source.replaced[1])).To(Equal([]string{"rust"}))
	})

	It("clears the table when the window is empty", func() {
		Expect(scorer.Compute(ctx)).To(Succeed())

		Expect(source.replaced).To(HaveLen(1))
		Expect(source.replaced[0]).To(BeEmpty())
	})

	It("leaves previous scores in place when a read fails", func() {
		source.postsErr = errors.New("relation does not exist")

		Expect(scorer.Compute(ctx)).To(HaveOccurred())
		Expect(source.replaced).To(BeEmpty())
	})

	It("stops cleanly", func() {
		done := make(chan error, 1)
		go func() { done <- scorer.Execute(context.Background()) }()
		scorer.Stop()

		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns the context error when cancelled", func() {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(scorer.Execute(cancelled)).To(MatchError(context.Canceled))
	})
})

func topicsOf(rows []models.Trend) []string {
	var out []string
	for _, row := range rows {
		out = append(out, row.Topic)
	}
	return out
}

func findTopic(rows []models.Trend, topic string) *models.Trend {
	for i := range rows {
		if rows[i].Topic == topic {
			return &rows[i]
		}
	}
	return nil
}

type fakeTrendSource struct {
	posts        []models.Post
	reactions    []models.Reaction
	replaced     [][]models.Trend
	postsErr     error
	reactionsErr error
	replaceErr   error
}

func (f *fakeTrendSource) PostsInWindow(ctx context.Context, start, end time.Time) ([]models.Post, error) {
	if f.postsErr != nil {
		return nil, f.postsErr
	}
	return f.posts, nil
}

func (f *fakeTrendSource) ReactionsInWindow(ctx context.Context, start, end time.Time) ([]models.Reaction, error) {
	if f.reactionsErr != nil {
		return nil, f.reactionsErr
	}
	return f.reactions, nil
}

func (f *fakeTrendSource) ReplaceTrends(ctx context.Context, rows []models.Trend) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = append(f.replaced, rows)
	return nil
}

type fakeNewsTags struct {
	items map[string]models.NewsItem
}

func (f *fakeNewsTags) GetNewsItemsByIDs(ctx context.Context, ids []string) (map[string]models.NewsItem, error) {
	out := make(map[string]models.NewsItem, len(ids))
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}
