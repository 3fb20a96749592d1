package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/internal/engineconfig"
	engine "github.com/agorasim/engine-go/pkg"
	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/db"
	"github.com/agorasim/engine-go/pkg/llm"
	"github.com/agorasim/engine-go/pkg/llm/gemini"
	"github.com/agorasim/engine-go/pkg/llm/openai"
	"github.com/agorasim/engine-go/pkg/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Get log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := engineconfig.NewEngineConfig(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load engine config")
	}

	database, err := db.SetupDatabase(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up database")
	}

	registry := buildProviderRegistry(ctx, log, config)

	// Apply the seed file before anything starts acting
	if config.SeedFile != "" {
		seedFile, err := store.LoadSeedFile(config.SeedFile)
		if err != nil {
			log.WithError(err).Fatal("Failed to load seed file")
		}
		if err := store.NewSeeder(log, database).Apply(ctx, seedFile); err != nil {
			log.WithError(err).Fatal("Failed to apply seed file")
		}
		config.NewsFeeds = append(config.NewsFeeds, seedFile.NewsFeeds...)
	}

	eventBus := bus.New(bus.Options{
		Logger:  log,
		Journal: store.NewJournalStore(log, database),
	})

	components, err := engineconfig.ConfigureComponents(engineconfig.ComponentConfig{
		Config:   config,
		Logger:   log,
		DB:       database,
		Bus:      eventBus,
		Registry: registry,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure components")
	}

	runner, err := engine.New(engine.Config{Logger: log})
	if err != nil {
		log.WithError(err).Fatal("Failed to create engine")
	}
	for _, component := range components {
		if err := runner.Register(component); err != nil {
			log.WithError(err).Fatal("Failed to register component")
		}
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	log.Info("Starting persona engagement engine")

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("Engine stopped with error")
	}

	log.Info("Engine shutdown complete")
}

// buildProviderRegistry registers every configured backend. Personas name
// their provider, so the engine needs at least one.
func buildProviderRegistry(ctx context.Context, log *logrus.Logger, config *engineconfig.EngineConfig) *llm.Registry {
	registry := llm.NewRegistry(log, config.LLMRequestsPerMinute)
	registered := 0

	if os.Getenv("OPENAI_API_KEY") != "" {
		openaiConfig, err := openai.NewConfig(log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create OpenAI config")
		}
		client, err := openai.NewClient(openaiConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to create OpenAI client")
		}
		registry.Register("openai", client)
		registered++
	}

	if os.Getenv("GEMINI_API_KEY") != "" {
		geminiConfig, err := gemini.NewConfig(log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Gemini config")
		}
		client, err := gemini.NewClient(ctx, geminiConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Gemini client")
		}
		registry.Register("gemini", client)
		registered++
	}

	if registered == 0 {
		log.Fatal("No content provider configured, set OPENAI_API_KEY or GEMINI_API_KEY")
	}
	return registry
}
