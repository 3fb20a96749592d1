package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// SeedFile is the operator-authored definition of the simulated population.
// Alignments are referenced from personas by name; feeds configure the news
// watcher.
type SeedFile struct {
	PoliticalAlignments []SeedAlignment `yaml:"political_alignments"`
	Personas            []SeedPersona   `yaml:"personas"`
	NewsFeeds           []string        `yaml:"news_feeds"`
}

type SeedAlignment struct {
	Name         string `yaml:"name"`
	EconomicAxis int    `yaml:"economic_axis"`
	SocialAxis   int    `yaml:"social_axis"`
	Description  string `yaml:"description"`
}

type SeedPersona struct {
	Username             string       `yaml:"username"`
	DisplayName          string       `yaml:"display_name"`
	Name                 string       `yaml:"name"`
	ToneStyle            string       `yaml:"tone_style"`
	Alignment            string       `yaml:"alignment"`
	ControversyTolerance int          `yaml:"controversy_tolerance"`
	EngagementFrequency  int          `yaml:"engagement_frequency"`
	DebateAggression     int          `yaml:"debate_aggression"`
	AIProvider           string       `yaml:"ai_provider"`
	SystemPrompt         string       `yaml:"system_prompt"`
	Interests            []string     `yaml:"interests"`
	Expertise            []string     `yaml:"expertise"`
	Timezone             string       `yaml:"timezone"`
	PostingSchedule      SeedSchedule `yaml:"posting_schedule"`
}

type SeedSchedule struct {
	Windows     []SeedWindow `yaml:"windows"`
	PostsPerDay int          `yaml:"posts_per_day"`
}

type SeedWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// LoadSeedFile parses and validates the YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var sf SeedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	if err := sf.validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return &sf, nil
}

func (sf *SeedFile) validate() error {
	alignments := make(map[string]bool, len(sf.PoliticalAlignments))
	for _, a := range sf.PoliticalAlignments {
		if a.Name == "" {
			return errors.New("alignment with empty name")
		}
		alignments[a.Name] = true
	}

	for _, p := range sf.Personas {
		if p.Username == "" || p.Name == "" {
			return fmt.Errorf("persona %q must set username and name", p.Username)
		}
		if p.AIProvider == "" {
			return fmt.Errorf("persona %q must set ai_provider", p.Username)
		}
		if !alignments[p.Alignment] {
			return fmt.Errorf("persona %q references unknown alignment %q", p.Username, p.Alignment)
		}
		if p.Timezone != "" {
			if _, err := time.LoadLocation(p.Timezone); err != nil {
				return fmt.Errorf("persona %q timezone: %w", p.Username, err)
			}
		}
		if err := p.schedule().Validate(); err != nil {
			return fmt.Errorf("persona %q schedule: %w", p.Username, err)
		}
	}
	return nil
}

func (p SeedPersona) schedule() models.PostingSchedule {
	schedule := models.PostingSchedule{
		PostsPerDay: p.PostingSchedule.PostsPerDay,
	}
	for _, w := range p.PostingSchedule.Windows {
		schedule.Windows = append(schedule.Windows, models.ScheduleWindow{
			Start: w.Start,
			End:   w.End,
		})
	}
	return schedule
}

// Seeder upserts the seed file's population at startup. Seeding is keyed on
// natural names (alignment name, username), so re-running with an edited
// file updates profiles in place and never duplicates accounts.
type Seeder struct {
	logger *logrus.Logger
	db     *gorm.DB
}

func NewSeeder(logger *logrus.Logger, db *gorm.DB) *Seeder {
	return &Seeder{
		logger: logger,
		db:     db,
	}
}

// Apply upserts alignments, accounts and personas from the seed file.
func (s *Seeder) Apply(ctx context.Context, sf *SeedFile) error {
	log := s.logger.WithField("method", "Apply")

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alignmentIDs := make(map[string]string, len(sf.PoliticalAlignments))
		for _, a := range sf.PoliticalAlignments {
			id, err := s.upsertAlignment(tx, a)
			if err != nil {
				return err
			}
			alignmentIDs[a.Name] = id
		}

		for _, p := range sf.Personas {
			if err := s.upsertPersona(tx, p, alignmentIDs[p.Alignment]); err != nil {
				return err
			}
		}

		log.WithFields(logrus.Fields{
			"alignments": len(sf.PoliticalAlignments),
			"personas":   len(sf.Personas),
		}).Info("Seed applied")
		return nil
	})
}

func (s *Seeder) upsertAlignment(tx *gorm.DB, seed SeedAlignment) (string, error) {
	var existing models.PoliticalAlignment
	err := tx.Where("name = ?", seed.Name).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existing = models.PoliticalAlignment{
			ID:           uuid.NewString(),
			Name:         seed.Name,
			EconomicAxis: seed.EconomicAxis,
			SocialAxis:   seed.SocialAxis,
			Description:  seed.Description,
		}
		if err := tx.Create(&existing).Error; err != nil {
			return "", fmt.Errorf("failed to create alignment %s: %w", seed.Name, err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up alignment %s: %w", seed.Name, err)
	}

	err = tx.Model(&existing).Updates(map[string]interface{}{
		"economic_axis": seed.EconomicAxis,
		"social_axis":   seed.SocialAxis,
		"description":   seed.Description,
	}).Error
	if err != nil {
		return "", fmt.Errorf("failed to update alignment %s: %w", seed.Name, err)
	}
	return existing.ID, nil
}

func (s *Seeder) upsertPersona(tx *gorm.DB, seed SeedPersona, alignmentID string) error {
	now := time.Now()
	timezone := seed.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	var account models.UserAccount
	err := tx.Where("username = ?", seed.Username).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = models.UserAccount{
			ID:          uuid.NewString(),
			Username:    seed.Username,
			DisplayName: seed.DisplayName,
			IsPersona:   true,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&account).Error; err != nil {
			return fmt.Errorf("failed to create account %s: %w", seed.Username, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up account %s: %w", seed.Username, err)
	} else {
		err = tx.Model(&account).Updates(map[string]interface{}{
			"display_name": seed.DisplayName,
			"is_persona":   true,
			"updated_at":   now,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update account %s: %w", seed.Username, err)
		}
	}

	fields := map[string]interface{}{
		"name":                   seed.Name,
		"tone_style":             seed.ToneStyle,
		"controversy_tolerance":  clampDial(seed.ControversyTolerance),
		"engagement_frequency":   clampDial(seed.EngagementFrequency),
		"debate_aggression":      clampDial(seed.DebateAggression),
		"ai_provider":            seed.AIProvider,
		"system_prompt":          seed.SystemPrompt,
		"political_alignment_id": alignmentID,
		"interests":              pq.StringArray(seed.Interests),
		"expertise":              pq.StringArray(seed.Expertise),
		"timezone_preference":    timezone,
		"posting_schedule":       seed.schedule(),
		"updated_at":             now,
	}

	var persona models.Persona
	err = tx.Where("user_id = ?", account.ID).First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fields["id"] = uuid.NewString()
		fields["user_id"] = account.ID
		fields["is_active"] = true
		fields["created_at"] = now
		if err := tx.Table("personas").Create(fields).Error; err != nil {
			return fmt.Errorf("failed to create persona %s: %w", seed.Username, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up persona %s: %w", seed.Username, err)
	}

	if err := tx.Model(&persona).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update persona %s: %w", seed.Username, err)
	}
	return nil
}

func clampDial(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
