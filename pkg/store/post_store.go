package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

const (
	// maxThreadDepth bounds the parent-chain walk when placing a reply.
	// Hitting it means a cycle or corrupted linkage, never a legitimate thread.
	maxThreadDepth = 64

	// duplicateContentWindow is how far back identical content from the same
	// author counts as an accidental double publish rather than a new post.
	duplicateContentWindow = time.Minute

	defaultTxTimeout = 2 * time.Second
)

// PostStore persists posts and their thread linkage. Post and thread always
// commit in the same transaction, so no reader ever observes a post without
// its thread or a thread whose counters miss a committed post.
type PostStore struct {
	logger    *logrus.Logger
	db        *gorm.DB
	txTimeout time.Duration
}

func NewPostStore(logger *logrus.Logger, db *gorm.DB) *PostStore {
	return &PostStore{
		logger:    logger,
		db:        db,
		txTimeout: defaultTxTimeout,
	}
}

// CreatePostWithThread inserts the post and creates or joins its thread in
// one transaction. It reports false without error when the draft turns out
// to be a replay of an already-committed publish, so callers can treat a
// duplicate as success. On success the post's ThreadID and Depth are filled
// in.
func (s *PostStore) CreatePostWithThread(ctx context.Context, post *models.Post) (bool, error) {
	log := s.logger.WithFields(logrus.Fields{
		"method":    "CreatePostWithThread",
		"post_id":   post.ID,
		"author_id": post.AuthorID,
	})

	if post.IsReply() && post.IsRepost() {
		return false, fmt.Errorf("post %s is both a reply and a repost: %w", post.ID, ErrInvalidReference)
	}

	if existing, err := s.findDuplicate(ctx, post); err != nil {
		return false, err
	} else if existing != nil {
		log.WithField("existing_post_id", existing.ID).Debug("Duplicate publish, treating as no-op")
		*post = *existing
		return false, nil
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		switch {
		case post.IsReply():
			return s.insertReply(tx, post)
		case post.IsRepost():
			return s.insertRepost(tx, post)
		default:
			return s.insertRoot(tx, post)
		}
	})
	if err != nil {
		// a concurrent replay can slip past findDuplicate and lose the
		// unique-index race inside the transaction
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, findErr := s.findDuplicate(ctx, post); findErr == nil && existing != nil {
				log.WithField("existing_post_id", existing.ID).Debug("Lost publish race to a replay, treating as no-op")
				*post = *existing
				return false, nil
			}
		}
		return false, fmt.Errorf("failed to publish post %s: %w", post.ID, err)
	}

	log.WithFields(logrus.Fields{
		"thread_id": post.ThreadID,
		"depth":     post.Depth,
	}).Info("Post committed")
	return true, nil
}

// insertRoot creates a fresh thread and the post that starts it.
func (s *PostStore) insertRoot(tx *gorm.DB, post *models.Post) error {
	post.Depth = 0
	post.ThreadID = uuid.NewString()

	thread := models.Thread{
		ID:             post.ThreadID,
		OriginalPostID: post.ID,
		PostCount:      1,
		MaxDepth:       0,
		LastActivityAt: post.CreatedAt,
		CreatedAt:      post.CreatedAt,
	}
	if err := tx.Create(&thread).Error; err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	if err := tx.Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// insertReply places the post under its parent's thread. The parent depth is
// recomputed by walking the chain rather than trusting the stored column.
func (s *PostStore) insertReply(tx *gorm.DB, post *models.Post) error {
	parent, parentDepth, err := s.resolveParent(tx, *post.ParentPostID)
	if err != nil {
		return err
	}

	post.ThreadID = parent.ThreadID
	post.Depth = parentDepth + 1

	if err := tx.Create(post).Error; err != nil {
		return fmt.Errorf("failed to create reply: %w", err)
	}

	result := tx.Model(&models.Thread{}).
		Where("id = ?", parent.ThreadID).
		Updates(map[string]interface{}{
			"post_count": gorm.Expr("post_count + 1"),
			"max_depth":  gorm.Expr("GREATEST(max_depth, ?)", post.Depth),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update thread %s: %w", parent.ThreadID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("thread %s missing for reply: %w", parent.ThreadID, ErrInvalidReference)
	}
	return nil
}

// insertRepost validates the target and starts a new thread for the repost.
func (s *PostStore) insertRepost(tx *gorm.DB, post *models.Post) error {
	var target models.Post
	err := tx.Select("id").Where("id = ?", *post.RepostOfID).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("repost target %s: %w", *post.RepostOfID, ErrInvalidReference)
	}
	if err != nil {
		return fmt.Errorf("failed to check repost target: %w", err)
	}
	return s.insertRoot(tx, post)
}

// resolveParent loads the parent and recomputes its depth with iterative id
// lookups, bounded by maxThreadDepth.
func (s *PostStore) resolveParent(tx *gorm.DB, parentID string) (*models.Post, int, error) {
	var parent models.Post
	err := tx.Where("id = ?", parentID).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, fmt.Errorf("parent post %s: %w", parentID, ErrInvalidReference)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load parent post: %w", err)
	}

	depth := 0
	cursor := parent
	for cursor.ParentPostID != nil && *cursor.ParentPostID != "" {
		if depth >= maxThreadDepth {
			return nil, 0, ErrThreadTooDeep
		}
		var next models.Post
		err := tx.Select("id", "parent_post_id").
			Where("id = ?", *cursor.ParentPostID).
			First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("broken parent chain at %s: %w", *cursor.ParentPostID, ErrInvalidReference)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to walk parent chain: %w", err)
		}
		cursor = next
		depth++
	}
	return &parent, depth, nil
}

// findDuplicate looks for an already-committed post from the same trigger,
// falling back to a content-hash match inside a short window for posts that
// carry no trigger.
func (s *PostStore) findDuplicate(ctx context.Context, post *models.Post) (*models.Post, error) {
	if post.TriggerID != nil && *post.TriggerID != "" {
		var existing models.Post
		err := s.db.WithContext(ctx).
			Where("author_id = ? AND trigger_id = ?", post.AuthorID, *post.TriggerID).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to check trigger dedup: %w", err)
		}
		return nil, nil
	}

	if post.ContentHash == "" {
		return nil, nil
	}
	var existing models.Post
	err := s.db.WithContext(ctx).
		Where("author_id = ? AND content_hash = ? AND created_at > ?",
			post.AuthorID, post.ContentHash, post.CreatedAt.Add(-duplicateContentWindow)).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check content dedup: %w", err)
	}
	return nil, nil
}

// GetPost returns one post by id.
func (s *PostStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", id, err)
	}
	return &post, nil
}

// GetThread returns one thread by id.
func (s *PostStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var thread models.Thread
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", id, err)
	}
	return &thread, nil
}

// RecentPostsByAuthor returns the author's newest posts, newest first. The
// orchestrator feeds these into prompts so personas avoid repeating
// themselves.
func (s *PostStore) RecentPostsByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent posts for %s: %w", authorID, err)
	}
	return posts, nil
}

// RecentCandidatePosts returns recent posts by other authors that a persona
// could reply or react to. Reposts are excluded since they carry no text to
// engage with.
func (s *PostStore) RecentCandidatePosts(ctx context.Context, excludeAuthorID string, since time.Time, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("author_id != ? AND created_at >= ? AND repost_of_id IS NULL", excludeAuthorID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate posts: %w", err)
	}
	return posts, nil
}
