package aggregator_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/aggregator"
	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db/models"
)

var _ = Describe("Aggregator", func() {
	var (
		logger     *logrus.Logger
		engagement *fakeEngagement
		agg        *aggregator.Aggregator
		ctx        context.Context
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.DebugLevel)
		logger.SetOutput(GinkgoWriter)

		engagement = &fakeEngagement{applied: map[string]string{}}
		agg = aggregator.New(logger, engagement)
		ctx = context.Background()
	})

	Context("post announcements", func() {
		It("counts replies against their parent", func() {
			evt := bus.PostCreated{
				ID:           "post.created/post-2",
				PostID:       "post-2",
				ThreadID:     "thread-1",
				AuthorID:     "user-2",
				ParentPostID: "post-1",
				Time:         time.Now(),
			}

			Expect(agg.HandlePostCreated(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"reply:post-1"}))
		})

		It("counts reposts against their target", func() {
			evt := bus.PostCreated{
				ID:         "post.created/post-3",
				PostID:     "post-3",
				ThreadID:   "thread-3",
				AuthorID:   "user-2",
				RepostOfID: "post-1",
				Time:       time.Now(),
			}

			Expect(agg.HandlePostCreated(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"repost:post-1"}))
		})

		It("applies nothing for root posts", func() {
			evt := bus.PostCreated{
				ID:       "post.created/post-1",
				PostID:   "post-1",
				ThreadID: "thread-1",
				AuthorID: "user-1",
				Time:     time.Now(),
			}

			Expect(agg.HandlePostCreated(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(BeEmpty())
		})

		It("applies a replayed announcement only once", func() {
			evt := bus.PostCreated{
				ID:           "post.created/post-2",
				PostID:       "post-2",
				ThreadID:     "thread-1",
				AuthorID:     "user-2",
				ParentPostID: "post-1",
				Time:         time.Now(),
			}

			Expect(agg.HandlePostCreated(ctx, evt)).To(Succeed())
			Expect(agg.HandlePostCreated(ctx, evt)).To(Succeed())

			Expect(engagement.calls).To(Equal(2))
			Expect(engagement.operations()).To(HaveLen(1))
		})
	})

	Context("reaction announcements", func() {
		added := func(id, postID, reactionType string) bus.ReactionAdded {
			return bus.ReactionAdded{
				ID:         id,
				ReactionID: "reaction-1",
				UserID:     "user-1",
				PostID:     postID,
				Type:       reactionType,
				Time:       time.Now(),
			}
		}

		It("records added reactions", func() {
			Expect(agg.HandleReactionAdded(ctx, added("evt-1", "post-1", "LIKE"))).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"add:LIKE:post-1"}))
		})

		It("passes bookmarks through for the store to keep off the counters", func() {
			Expect(agg.HandleReactionAdded(ctx, added("evt-1", "post-1", "BOOKMARK"))).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"add:BOOKMARK:post-1"}))
		})

		It("ignores unrecognized reaction types", func() {
			Expect(agg.HandleReactionAdded(ctx, added("evt-1", "post-1", "APPLAUD"))).To(Succeed())

			Expect(engagement.operations()).To(BeEmpty())
		})

		It("records removals symmetrically", func() {
			evt := bus.ReactionRemoved{
				ID:     "evt-2",
				UserID: "user-1",
				PostID: "post-1",
				Type:   "LIKE",
				Time:   time.Now(),
			}

			Expect(agg.HandleReactionRemoved(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"remove:LIKE:post-1"}))
		})

		It("applies a replayed reaction only once", func() {
			evt := added("evt-1", "post-1", "LIKE")

			Expect(agg.HandleReactionAdded(ctx, evt)).To(Succeed())
			Expect(agg.HandleReactionAdded(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(HaveLen(1))
		})
	})

	Context("impression batches", func() {
		It("folds the delta into the post", func() {
			evt := bus.ImpressionsRecorded{
				ID:     "evt-1",
				PostID: "post-1",
				Delta:  17,
				Time:   time.Now(),
			}

			Expect(agg.HandleImpressionsRecorded(ctx, evt)).To(Succeed())

			Expect(engagement.operations()).To(Equal([]string{"impressions:post-1:17"}))
		})
	})

	Context("failure handling", func() {
		It("returns store errors so the bus can redeliver", func() {
			engagement.err = errors.New("deadlock detected")

			evt := bus.ReactionAdded{ID: "evt-1", PostID: "post-1", Type: "LIKE", Time: time.Now()}
			Expect(agg.HandleReactionAdded(ctx, evt)).To(HaveOccurred())
		})

		It("rejects events of the wrong type", func() {
			err := agg.HandlePostCreated(ctx, bus.ReactionAdded{ID: "evt-1", Type: "LIKE"})
			Expect(err).To(HaveOccurred())
		})
	})
})

// fakeEngagement mimics the store's once-per-event-id guarantee: replays
// return applied=false without touching anything.
type fakeEngagement struct {
	applied map[string]string
	calls   int
	err     error
}

func (f *fakeEngagement) apply(eventID, op string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.calls++
	if _, ok := f.applied[eventID]; ok {
		return false, nil
	}
	f.applied[eventID] = op
	return true, nil
}

func (f *fakeEngagement) operations() []string {
	var out []string
	for _, op := range f.applied {
		out = append(out, op)
	}
	return out
}

func (f *fakeEngagement) RecordReplyCreated(ctx context.Context, eventID, parentPostID string, eventTime time.Time) (bool, error) {
	return f.apply(eventID, "reply:"+parentPostID)
}

func (f *fakeEngagement) RecordRepostCreated(ctx context.Context, eventID, targetPostID string) (bool, error) {
	return f.apply(eventID, "repost:"+targetPostID)
}

func (f *fakeEngagement) RecordReactionAdded(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error) {
	return f.apply(eventID, fmt.Sprintf("add:%s:%s", reactionType, postID))
}

func (f *fakeEngagement) RecordReactionRemoved(ctx context.Context, eventID, postID string, reactionType models.ReactionType) (bool, error) {
	return f.apply(eventID, fmt.Sprintf("remove:%s:%s", reactionType, postID))
}

func (f *fakeEngagement) RecordImpressions(ctx context.Context, eventID, postID string, delta int) (bool, error) {
	return f.apply(eventID, fmt.Sprintf("impressions:%s:%d", postID, delta))
}
