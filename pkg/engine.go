package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agorasim/engine-go/pkg/components"
)

// Engine owns the lifecycle of every registered component. Each component
// runs in its own goroutine; the first failure, or context cancellation,
// stops all of them.
type Engine struct {
	logger     *logrus.Logger
	components map[string]components.Component
	mu         sync.RWMutex
}

type Config struct {
	Logger *logrus.Logger
}

func New(config Config) (*Engine, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Engine{
		logger:     config.Logger,
		components: make(map[string]components.Component),
	}, nil
}

// Register adds a new component to the engine
func (e *Engine) Register(component components.Component) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := component.Name()
	if _, exists := e.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}

	e.components[name] = component
	return nil
}

// Run starts all registered components and blocks until the context is
// cancelled or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting engine with registered components")

	errChan := make(chan error, len(e.components))

	var wg sync.WaitGroup
	for name, component := range e.components {
		wg.Add(1)
		go func(name string, component components.Component) {
			defer wg.Done()

			e.logger.WithField("component", name).Info("Starting component")
			if err := component.Execute(ctx); err != nil && err != context.Canceled {
				e.logger.WithError(err).WithField("component", name).Error("Component failed")
				errChan <- fmt.Errorf("component %s failed: %w", name, err)
			}
		}(name, component)
	}

	// Wait for context cancellation or the first component error
	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Info("Context cancelled, stopping all components")
		runErr = ctx.Err()
	case err := <-errChan:
		e.logger.WithError(err).Error("Component error occurred")
		runErr = err
	}

	e.stopAllComponents()
	wg.Wait()
	return runErr
}

// stopAllComponents cleanly stops all registered components
func (e *Engine) stopAllComponents() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for name, component := range e.components {
		e.logger.WithField("component", name).Info("Stopping component")
		component.Stop()
	}
}
