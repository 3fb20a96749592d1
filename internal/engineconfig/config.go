package engineconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EngineConfig holds every tunable the engine reads from the environment.
type EngineConfig struct {
	// Scheduling
	SchedulerTick time.Duration

	// News pipeline
	NewsPollInterval   time.Duration
	NewsIngestInterval time.Duration
	EnrichInterval     time.Duration
	NewsFeeds          []string
	EnrichProvider     string

	// Content generation
	LLMRequestsPerMinute int

	// Trends
	TrendInterval time.Duration

	// Seeding
	SeedFile string

	Logger *logrus.Logger
}

func NewEngineConfig(logger *logrus.Logger) (*EngineConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	requestsPerMinute, _ := strconv.Atoi(getEnvOrDefault("LLM_REQUESTS_PER_MINUTE", "60"))

	config := &EngineConfig{
		SchedulerTick:        getEnvDuration("SCHEDULER_TICK", 5*time.Second),
		NewsPollInterval:     getEnvDuration("NEWS_POLL_INTERVAL", 30*time.Second),
		NewsIngestInterval:   getEnvDuration("NEWS_INGEST_INTERVAL", 15*time.Minute),
		EnrichInterval:       getEnvDuration("NEWS_ENRICH_INTERVAL", time.Minute),
		NewsFeeds:            splitList(os.Getenv("NEWS_FEEDS")),
		EnrichProvider:       getEnvOrDefault("NEWS_ENRICH_PROVIDER", "openai"),
		LLMRequestsPerMinute: requestsPerMinute,
		TrendInterval:        getEnvDuration("TREND_INTERVAL", 5*time.Minute),
		SeedFile:             os.Getenv("SEED_FILE"),
		Logger:               logger,
	}

	config.Logger.WithFields(logrus.Fields{
		"scheduler_tick":  config.SchedulerTick.String(),
		"news_feeds":      len(config.NewsFeeds),
		"enrich_provider": config.EnrichProvider,
		"llm_rpm":         config.LLMRequestsPerMinute,
		"seed_file_set":   config.SeedFile != "",
	}).Debug("Engine config initialized")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *EngineConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("scheduler tick must be positive")
	}
	if c.NewsPollInterval <= 0 {
		return fmt.Errorf("news poll interval must be positive")
	}
	if c.NewsIngestInterval <= 0 {
		return fmt.Errorf("news ingest interval must be positive")
	}
	if c.EnrichInterval <= 0 {
		return fmt.Errorf("enrich interval must be positive")
	}
	if c.TrendInterval <= 0 {
		return fmt.Errorf("trend interval must be positive")
	}
	if c.LLMRequestsPerMinute < 1 {
		return fmt.Errorf("llm requests per minute must be positive")
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
