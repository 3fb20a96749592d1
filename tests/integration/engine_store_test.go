package integration_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
	"github.com/agorasim/engine-go/pkg/store"
)

var _ = Describe("Engine stores", func() {
	var (
		ctx        context.Context
		database   *gorm.DB
		posts      *store.PostStore
		engagement *store.EngagementStore
		news       *store.NewsStore
		reactions  *store.ReactionStore
		personas   *store.PersonaStore
	)

	BeforeEach(func() {
		database = requireDatabase()
		ctx = context.Background()
		logger := newTestLogger()
		posts = store.NewPostStore(logger, database)
		engagement = store.NewEngagementStore(logger, database)
		news = store.NewNewsStore(logger, database)
		reactions = store.NewReactionStore(logger, database)
		personas = store.NewPersonaStore(logger, database)
	})

	// fixtures carry uuid-derived names so repeated runs against a
	// persistent database never collide
	uniqueName := func(prefix string) string {
		return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	newAccount := func(isPersona bool) *models.UserAccount {
		account := &models.UserAccount{
			ID:          uuid.NewString(),
			Username:    uniqueName("it_"),
			DisplayName: "Integration Account",
			IsPersona:   isPersona,
			IsActive:    true,
		}
		Expect(database.WithContext(ctx).Create(account).Error).NotTo(HaveOccurred())
		return account
	}

	newRootPost := func(author *models.UserAccount) *models.Post {
		post := &models.Post{
			ID:        uuid.NewString(),
			AuthorID:  author.ID,
			Content:   "integration root post",
			CreatedAt: time.Now().UTC(),
		}
		created, err := posts.CreatePostWithThread(ctx, post)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		return post
	}

	Context("publishing posts", func() {
		It("commits a root post together with a fresh thread", func() {
			author := newAccount(false)
			post := newRootPost(author)

			Expect(post.ThreadID).NotTo(BeEmpty())
			Expect(post.Depth).To(Equal(0))

			thread, err := posts.GetThread(ctx, post.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.OriginalPostID).To(Equal(post.ID))
			Expect(thread.PostCount).To(Equal(1))
			Expect(thread.MaxDepth).To(Equal(0))
		})

		It("threads replies under the parent and tracks depth", func() {
			author := newAccount(false)
			root := newRootPost(author)

			reply := &models.Post{
				ID:           uuid.NewString(),
				AuthorID:     author.ID,
				ParentPostID: &root.ID,
				Content:      "integration reply",
				CreatedAt:    time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, reply)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(reply.ThreadID).To(Equal(root.ThreadID))
			Expect(reply.Depth).To(Equal(1))

			nested := &models.Post{
				ID:           uuid.NewString(),
				AuthorID:     author.ID,
				ParentPostID: &reply.ID,
				Content:      "integration nested reply",
				CreatedAt:    time.Now().UTC(),
			}
			created, err = posts.CreatePostWithThread(ctx, nested)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(nested.Depth).To(Equal(2))

			thread, err := posts.GetThread(ctx, root.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.PostCount).To(Equal(3))
			Expect(thread.MaxDepth).To(Equal(2))
		})

		It("rejects replies whose parent does not exist", func() {
			author := newAccount(false)
			missing := uuid.NewString()

			reply := &models.Post{
				ID:           uuid.NewString(),
				AuthorID:     author.ID,
				ParentPostID: &missing,
				Content:      "orphan reply",
				CreatedAt:    time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, reply)
			Expect(created).To(BeFalse())
			Expect(err).To(MatchError(store.ErrInvalidReference))
		})

		It("rejects a post that is both a reply and a repost", func() {
			author := newAccount(false)
			root := newRootPost(author)

			confused := &models.Post{
				ID:           uuid.NewString(),
				AuthorID:     author.ID,
				ParentPostID: &root.ID,
				RepostOfID:   &root.ID,
				Content:      "cannot be both",
				CreatedAt:    time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, confused)
			Expect(created).To(BeFalse())
			Expect(err).To(MatchError(store.ErrInvalidReference))
		})

		It("starts a new thread for a repost", func() {
			author := newAccount(false)
			reposter := newAccount(true)
			root := newRootPost(author)

			repost := &models.Post{
				ID:         uuid.NewString(),
				AuthorID:   reposter.ID,
				RepostOfID: &root.ID,
				CreatedAt:  time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, repost)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(repost.ThreadID).NotTo(Equal(root.ThreadID))
			Expect(repost.Depth).To(Equal(0))
		})

		It("rejects reposts of a missing target", func() {
			author := newAccount(false)
			missing := uuid.NewString()

			repost := &models.Post{
				ID:         uuid.NewString(),
				AuthorID:   author.ID,
				RepostOfID: &missing,
				CreatedAt:  time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, repost)
			Expect(created).To(BeFalse())
			Expect(err).To(MatchError(store.ErrInvalidReference))
		})

		It("replays the same trigger as a no-op returning the committed post", func() {
			author := newAccount(false)
			trigger := uuid.NewString()

			first := &models.Post{
				ID:        uuid.NewString(),
				AuthorID:  author.ID,
				TriggerID: &trigger,
				Content:   "triggered post",
				CreatedAt: time.Now().UTC(),
			}
			created, err := posts.CreatePostWithThread(ctx, first)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			replay := &models.Post{
				ID:        uuid.NewString(),
				AuthorID:  author.ID,
				TriggerID: &trigger,
				Content:   "triggered post retried",
				CreatedAt: time.Now().UTC(),
			}
			created, err = posts.CreatePostWithThread(ctx, replay)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(replay.ID).To(Equal(first.ID))
			Expect(replay.ThreadID).To(Equal(first.ThreadID))
			Expect(replay.Content).To(Equal("triggered post"))
		})
	})

	Context("engagement counters", func() {
		It("applies each event id exactly once", func() {
			post := newRootPost(newAccount(false))
			eventID := uuid.NewString()

			applied, err := engagement.RecordReactionAdded(ctx, eventID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			applied, err = engagement.RecordReactionAdded(ctx, eventID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())

			stored, err := posts.GetPost(ctx, post.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LikeCount).To(Equal(1))
		})

		It("credits influence to human authors only", func() {
			human := newAccount(false)
			humanPost := newRootPost(human)

			applied, err := engagement.RecordReplyCreated(ctx, uuid.NewString(), humanPost.ID, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			stored, err := posts.GetPost(ctx, humanPost.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.CommentCount).To(Equal(1))

			var metrics models.InfluenceMetrics
			err = database.WithContext(ctx).Where("user_id = ?", human.ID).First(&metrics).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.TotalCommentsReceived).To(Equal(1))

			persona := newAccount(true)
			personaPost := newRootPost(persona)

			applied, err = engagement.RecordReplyCreated(ctx, uuid.NewString(), personaPost.ID, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			err = database.WithContext(ctx).Where("user_id = ?", persona.ID).First(&models.InfluenceMetrics{}).Error
			Expect(errors.Is(err, gorm.ErrRecordNotFound)).To(BeTrue())
		})

		It("claims the event id for reactions that do not count", func() {
			post := newRootPost(newAccount(false))

			applied, err := engagement.RecordReactionAdded(ctx, uuid.NewString(), post.ID, models.ReactionBookmark)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			stored, err := posts.GetPost(ctx, post.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LikeCount).To(Equal(0))
		})

		It("clamps like removal at zero", func() {
			post := newRootPost(newAccount(false))

			applied, err := engagement.RecordReactionRemoved(ctx, uuid.NewString(), post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			stored, err := posts.GetPost(ctx, post.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LikeCount).To(Equal(0))
		})

		It("advances thread activity monotonically", func() {
			author := newAccount(false)
			root := newRootPost(author)

			later := time.Now().UTC().Add(time.Hour)
			applied, err := engagement.RecordReplyCreated(ctx, uuid.NewString(), root.ID, later)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			thread, err := posts.GetThread(ctx, root.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.LastActivityAt).To(BeTemporally("~", later, time.Second))

			earlier := later.Add(-30 * time.Minute)
			applied, err = engagement.RecordReplyCreated(ctx, uuid.NewString(), root.ID, earlier)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			thread, err = posts.GetThread(ctx, root.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.LastActivityAt).To(BeTemporally("~", later, time.Second))
		})

		It("accumulates impression deltas", func() {
			post := newRootPost(newAccount(false))

			applied, err := engagement.RecordImpressions(ctx, uuid.NewString(), post.ID, 25)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			applied, err = engagement.RecordImpressions(ctx, uuid.NewString(), post.ID, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			stored, err := posts.GetPost(ctx, post.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ImpressionCount).To(Equal(30))
		})
	})

	Context("news items", func() {
		It("stores each URL once across feeds", func() {
			url := fmt.Sprintf("https://news.example/articles/%s", uuid.NewString())
			item := &models.NewsItem{
				ID:           uuid.NewString(),
				Title:        "Integration headline",
				URL:          url,
				SourceName:   "Integration Wire",
				Content:      "Body of the integration headline.",
				PublishedAt:  time.Now().UTC(),
				DiscoveredAt: time.Now().UTC(),
			}
			created, err := news.CreateNewsItem(ctx, item)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			duplicate := &models.NewsItem{
				ID:           uuid.NewString(),
				Title:        "Integration headline from another feed",
				URL:          url,
				SourceName:   "Second Wire",
				PublishedAt:  time.Now().UTC(),
				DiscoveredAt: time.Now().UTC(),
			}
			created, err = news.CreateNewsItem(ctx, duplicate)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			known, err := news.KnownURLs(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(known).To(HaveKey(url))
		})

		It("marks enrichment exactly once", func() {
			item := &models.NewsItem{
				ID:           uuid.NewString(),
				Title:        "Integration enrichment target",
				URL:          fmt.Sprintf("https://news.example/articles/%s", uuid.NewString()),
				Content:      "Body awaiting enrichment.",
				PublishedAt:  time.Now().UTC(),
				DiscoveredAt: time.Now().UTC(),
			}
			created, err := news.CreateNewsItem(ctx, item)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			marked, err := news.MarkEnriched(ctx, item.ID, "One line summary.", []string{"integration", "wire"})
			Expect(err).NotTo(HaveOccurred())
			Expect(marked).To(BeTrue())

			marked, err = news.MarkEnriched(ctx, item.ID, "A different summary.", []string{"late"})
			Expect(err).NotTo(HaveOccurred())
			Expect(marked).To(BeFalse())

			stored, err := news.GetNewsItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.AISummary).To(Equal("One line summary."))
			Expect(stored.TopicTags).To(BeEquivalentTo([]string{"integration", "wire"}))
			Expect(stored.EnrichedAt).NotTo(BeNil())
		})
	})

	Context("reactions", func() {
		It("stores one reaction per user, post and type", func() {
			reactor := newAccount(false)
			post := newRootPost(newAccount(true))

			reaction := &models.Reaction{
				ID:        uuid.NewString(),
				UserID:    reactor.ID,
				PostID:    post.ID,
				Type:      models.ReactionLike,
				CreatedAt: time.Now().UTC(),
			}
			created, err := reactions.CreateReaction(ctx, reaction)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			again := &models.Reaction{
				ID:        uuid.NewString(),
				UserID:    reactor.ID,
				PostID:    post.ID,
				Type:      models.ReactionLike,
				CreatedAt: time.Now().UTC(),
			}
			created, err = reactions.CreateReaction(ctx, again)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			has, err := reactions.HasReaction(ctx, reactor.ID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())

			removed, err := reactions.DeleteReaction(ctx, reactor.ID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			has, err = reactions.HasReaction(ctx, reactor.ID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeFalse())

			removed, err = reactions.DeleteReaction(ctx, reactor.ID, post.ID, models.ReactionLike)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
		})

		It("rejects reactions to a missing post", func() {
			reactor := newAccount(false)

			reaction := &models.Reaction{
				ID:        uuid.NewString(),
				UserID:    reactor.ID,
				PostID:    uuid.NewString(),
				Type:      models.ReactionLike,
				CreatedAt: time.Now().UTC(),
			}
			created, err := reactions.CreateReaction(ctx, reaction)
			Expect(created).To(BeFalse())
			Expect(err).To(MatchError(store.ErrInvalidReference))
		})
	})

	Context("seeded population", func() {
		It("re-applies a seed without duplicating accounts", func() {
			seeder := store.NewSeeder(newTestLogger(), database)
			alignmentName := uniqueName("integration centrist ")
			username := uniqueName("it_seed_")

			sf := &store.SeedFile{
				PoliticalAlignments: []store.SeedAlignment{{
					Name:         alignmentName,
					EconomicAxis: 5,
					SocialAxis:   -5,
					Description:  "Leans pragmatic on most questions.",
				}},
				Personas: []store.SeedPersona{{
					Username:             username,
					DisplayName:          "Seeded Persona",
					Name:                 "Seeded Persona",
					ToneStyle:            "measured",
					Alignment:            alignmentName,
					ControversyTolerance: 40,
					EngagementFrequency:  55,
					DebateAggression:     30,
					AIProvider:           "openai",
					SystemPrompt:         "Seeded for integration checks.",
					Interests:            []string{"infrastructure"},
					Expertise:            []string{"transit"},
					Timezone:             "UTC",
					PostingSchedule: store.SeedSchedule{
						PostsPerDay: 2,
						Windows:     []store.SeedWindow{{Start: "09:00", End: "17:00"}},
					},
				}},
			}
			Expect(seeder.Apply(ctx, sf)).To(Succeed())

			sf.Personas[0].DisplayName = "Seeded Persona v2"
			sf.Personas[0].EngagementFrequency = 70
			Expect(seeder.Apply(ctx, sf)).To(Succeed())

			var count int64
			err := database.WithContext(ctx).
				Model(&models.UserAccount{}).
				Where("username = ?", username).
				Count(&count).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			var account models.UserAccount
			err = database.WithContext(ctx).Where("username = ?", username).First(&account).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(account.DisplayName).To(Equal("Seeded Persona v2"))
			Expect(account.IsPersona).To(BeTrue())

			persona, err := personas.GetPersonaByUserID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(persona.EngagementFrequency).To(Equal(70))
			Expect(persona.PostingSchedule.PostsPerDay).To(Equal(2))
			Expect(persona.PostingSchedule.Windows).To(HaveLen(1))
			Expect(persona.PoliticalAlignment).NotTo(BeNil())
			Expect(persona.PoliticalAlignment.Name).To(Equal(alignmentName))
		})
	})
})
