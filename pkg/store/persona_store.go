package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// PersonaStore reads and writes persona profiles and their user accounts.
type PersonaStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewPersonaStore(logger *logrus.Logger, db *gorm.DB) *PersonaStore {
	return &PersonaStore{
		logger: logger,
		db:     db,
	}
}

// LoadActivePersonas returns every persona whose account and profile are both
// active, with the political alignment preloaded. The scheduler calls this
// each tick, so deactivation takes effect on the next tick.
func (s *PersonaStore) LoadActivePersonas(ctx context.Context) ([]models.Persona, error) {
	var personas []models.Persona
	err := s.db.WithContext(ctx).
		Preload("PoliticalAlignment").
		Joins("JOIN user_accounts ON user_accounts.id = personas.user_id").
		Where("personas.is_active = ? AND user_accounts.is_active = ?", true, true).
		Find(&personas).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active personas: %w", err)
	}
	return personas, nil
}

// GetPersona returns one persona by id with its alignment preloaded.
func (s *PersonaStore) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	var persona models.Persona
	err := s.db.WithContext(ctx).
		Preload("PoliticalAlignment").
		Where("id = ?", id).
		First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load persona %s: %w", id, err)
	}
	return &persona, nil
}

// GetPersonaByUserID resolves the persona behind a user account, if any.
// Human accounts have none, which callers treat as a neutral profile.
func (s *PersonaStore) GetPersonaByUserID(ctx context.Context, userID string) (*models.Persona, error) {
	var persona models.Persona
	err := s.db.WithContext(ctx).
		Preload("PoliticalAlignment").
		Where("user_id = ?", userID).
		First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load persona for user %s: %w", userID, err)
	}
	return &persona, nil
}

// LatestPostTimes returns each persona's most recent post time. The scheduler
// uses it to rebuild eligibility state after a restart.
func (s *PersonaStore) LatestPostTimes(ctx context.Context) (map[string]time.Time, error) {
	rows := []struct {
		PersonaID string
		LastPost  time.Time
	}{}
	err := s.db.WithContext(ctx).
		Table("posts").
		Select("persona_id, MAX(created_at) AS last_post").
		Where("persona_id IS NOT NULL").
		Group("persona_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest post times: %w", err)
	}

	latest := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		latest[r.PersonaID] = r.LastPost
	}
	return latest, nil
}

// AlignmentsByUserIDs maps user account ids to the political alignment of
// the persona behind them. Human accounts simply do not appear in the result.
func (s *PersonaStore) AlignmentsByUserIDs(ctx context.Context, userIDs []string) (map[string]models.PoliticalAlignment, error) {
	if len(userIDs) == 0 {
		return map[string]models.PoliticalAlignment{}, nil
	}

	rows := []struct {
		UserID       string
		ID           string
		Name         string
		EconomicAxis int
		SocialAxis   int
		Description  string
	}{}
	err := s.db.WithContext(ctx).
		Table("personas").
		Select("personas.user_id, pa.id, pa.name, pa.economic_axis, pa.social_axis, pa.description").
		Joins("JOIN political_alignments pa ON pa.id = personas.political_alignment_id").
		Where("personas.user_id IN ?", userIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load alignments by user: %w", err)
	}

	byUser := make(map[string]models.PoliticalAlignment, len(rows))
	for _, r := range rows {
		byUser[r.UserID] = models.PoliticalAlignment{
			ID:           r.ID,
			Name:         r.Name,
			EconomicAxis: r.EconomicAxis,
			SocialAxis:   r.SocialAxis,
			Description:  r.Description,
		}
	}
	return byUser, nil
}

// GetUserAccount returns one account by id.
func (s *PersonaStore) GetUserAccount(ctx context.Context, id string) (*models.UserAccount, error) {
	var account models.UserAccount
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user account %s: %w", id, err)
	}
	return &account, nil
}
