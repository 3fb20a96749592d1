package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrProviderNotFound is returned when a persona references a provider name
// nothing registered under.
var ErrProviderNotFound = errors.New("llm: provider not registered")

// Registry maps persona provider names to clients. One rate limiter is
// shared across all providers so total request volume stays bounded no
// matter how personas are distributed over backends.
type Registry struct {
	logger  *logrus.Logger
	limiter *rate.Limiter

	mu        sync.RWMutex
	providers map[string]LLM
}

// NewRegistry builds a registry limited to requestsPerMinute across all
// providers.
func NewRegistry(logger *logrus.Logger, requestsPerMinute int) *Registry {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Registry{
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		providers: make(map[string]LLM),
	}
}

// Register adds a named provider. Later registrations under the same name
// replace earlier ones.
func (r *Registry) Register(name string, client LLM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = client
	r.logger.WithField("provider", name).Info("LLM provider registered")
}

// Resolve returns the client registered under name.
func (r *Registry) Resolve(name string) (LLM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return client, nil
}

// Generate resolves the provider, waits for rate-limit headroom, and runs
// the completion. Waiting respects ctx, so caller timeouts still bound the
// whole call.
func (r *Registry) Generate(ctx context.Context, provider, prompt string, opts ...Option) (string, error) {
	client, err := r.Resolve(provider)
	if err != nil {
		return "", err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait aborted: %w", err)
	}

	return client.Generate(ctx, prompt, opts...)
}
