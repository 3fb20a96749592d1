package engineconfig

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agorasim/engine-go/pkg/aggregator"
	"github.com/agorasim/engine-go/pkg/bus"
	"github.com/agorasim/engine-go/pkg/components"
	"github.com/agorasim/engine-go/pkg/llm"
	"github.com/agorasim/engine-go/pkg/newswatcher"
	"github.com/agorasim/engine-go/pkg/orchestrator"
	"github.com/agorasim/engine-go/pkg/publisher"
	"github.com/agorasim/engine-go/pkg/scheduler"
	"github.com/agorasim/engine-go/pkg/store"
	"github.com/agorasim/engine-go/pkg/trends"
)

type ComponentConfig struct {
	Config   *EngineConfig
	Logger   *logrus.Logger
	DB       *gorm.DB
	Bus      *bus.Bus
	Registry *llm.Registry
}

// ConfigureComponents builds the stores, wires every handler onto the bus,
// and returns the long-running components for the engine to supervise. The
// bus itself is first in the list so it outlives its producers during
// shutdown draining.
func ConfigureComponents(config ComponentConfig) ([]components.Component, error) {
	personaStore := store.NewPersonaStore(config.Logger, config.DB)
	postStore := store.NewPostStore(config.Logger, config.DB)
	newsStore := store.NewNewsStore(config.Logger, config.DB)
	reactionStore := store.NewReactionStore(config.Logger, config.DB)
	engagementStore := store.NewEngagementStore(config.Logger, config.DB)
	trendStore := store.NewTrendStore(config.Logger, config.DB)

	personaScheduler := scheduler.New(config.Logger, personaStore, config.Bus, scheduler.Options{
		TickInterval: config.Config.SchedulerTick,
	})
	watcher := newswatcher.New(config.Logger, newsStore, config.Bus, newswatcher.Options{
		PollInterval: config.Config.NewsPollInterval,
	})
	ingester := newswatcher.NewIngester(config.Logger, newsStore, config.Config.NewsFeeds, newswatcher.IngesterOptions{
		Interval: config.Config.NewsIngestInterval,
	})
	enricher := newswatcher.NewEnricher(config.Logger, newsStore, config.Registry, config.Config.EnrichProvider, newswatcher.EnricherOptions{
		Interval: config.Config.EnrichInterval,
	})
	scorer := trends.New(config.Logger, trendStore, newsStore, trends.Options{
		Interval: config.Config.TrendInterval,
	})

	contentOrchestrator := orchestrator.New(
		config.Logger,
		personaStore,
		postStore,
		newsStore,
		reactionStore,
		config.Registry,
		config.Bus,
		orchestrator.Options{},
	)
	postPublisher := publisher.New(config.Logger, postStore, reactionStore, config.Bus)
	engagementAggregator := aggregator.New(config.Logger, engagementStore)

	config.Bus.Subscribe(bus.KindNewsDiscovered, personaScheduler.HandleNewsDiscovered)
	config.Bus.Subscribe(bus.KindPersonaShouldAct, contentOrchestrator.HandlePersonaShouldAct)
	config.Bus.Subscribe(bus.KindPostDraftReady, postPublisher.HandlePostDraftReady)
	config.Bus.Subscribe(bus.KindReactionPlanned, postPublisher.HandleReactionPlanned)
	config.Bus.Subscribe(bus.KindPostCreated, engagementAggregator.HandlePostCreated)
	config.Bus.Subscribe(bus.KindReactionAdded, engagementAggregator.HandleReactionAdded)
	config.Bus.Subscribe(bus.KindReactionRemoved, engagementAggregator.HandleReactionRemoved)
	config.Bus.Subscribe(bus.KindImpressionsRecorded, engagementAggregator.HandleImpressionsRecorded)

	return []components.Component{
		config.Bus,
		personaScheduler,
		watcher,
		ingester,
		enricher,
		scorer,
	}, nil
}
