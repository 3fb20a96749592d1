package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPartitions   = 16
	DefaultQueueSize    = 256
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// ErrClosed is returned by Publish once the bus has stopped accepting events.
var ErrClosed = errors.New("event bus is closed")

// Handler consumes one event. Returning an error triggers redelivery with
// backoff; exhausting the attempts dead-letters the event.
type Handler func(ctx context.Context, evt Event) error

// Journal persists events that exhausted their delivery attempts.
type Journal interface {
	JournalEvent(ctx context.Context, evt Event, reason string) error
}

// Options configures a Bus. Zero values fall back to the defaults above.
type Options struct {
	Partitions   int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	Logger       *logrus.Logger
	Journal      Journal
}

// Bus is an in-process event queue. Publish hashes the event's partition key
// onto one of a fixed set of buffered queues; a single goroutine owns each
// queue, so events sharing a key reach every subscriber in publish order.
// Delivery is at-least-once: handlers must tolerate replays.
type Bus struct {
	logger       *logrus.Entry
	journal      Journal
	partitions   []chan Event
	maxAttempts  int
	retryBackoff time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	started  sync.Once
	stopOnce sync.Once
	wg       sync.WaitGroup
	done     chan struct{}
}

// New builds a Bus from opts.
func New(opts Options) *Bus {
	if opts.Partitions <= 0 {
		opts.Partitions = DefaultPartitions
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	partitions := make([]chan Event, opts.Partitions)
	for i := range partitions {
		partitions[i] = make(chan Event, opts.QueueSize)
	}

	return &Bus{
		logger:       opts.Logger.WithField("component", "event-bus"),
		journal:      opts.Journal,
		partitions:   partitions,
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
		handlers:     make(map[string][]Handler),
		done:         make(chan struct{}),
	}
}

// Subscribe registers a handler for one event kind. Subscriptions must be in
// place before the bus starts dispatching.
func (b *Bus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues an event onto its partition. It blocks while the partition
// queue is full, which is the bus's backpressure mechanism, and fails fast
// when ctx is cancelled or the bus has been stopped.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	ch := b.partitions[b.partition(evt.PartitionKey())]
	select {
	case ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name identifies the bus to the engine runner.
func (b *Bus) Name() string {
	return "event-bus"
}

// Execute starts the partition workers and blocks until ctx is cancelled,
// then drains every queued event before returning.
func (b *Bus) Execute(ctx context.Context) error {
	b.start()
	b.logger.WithFields(logrus.Fields{
		"partitions":   len(b.partitions),
		"max_attempts": b.maxAttempts,
	}).Info("event bus running")

	select {
	case <-ctx.Done():
		b.Stop()
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// Stop closes intake and waits for the workers to finish everything already
// queued. Safe to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for _, ch := range b.partitions {
			close(ch)
		}
		b.mu.Unlock()

		b.start() // never started: drain queues without waiting on Execute
		b.wg.Wait()
		close(b.done)
		b.logger.Info("event bus drained and stopped")
	})
}

func (b *Bus) start() {
	b.started.Do(func() {
		for i := range b.partitions {
			b.wg.Add(1)
			go b.runPartition(i)
		}
	})
}

func (b *Bus) runPartition(idx int) {
	defer b.wg.Done()
	// range drains the buffer after close, so Stop never loses queued events
	for evt := range b.partitions[idx] {
		b.dispatch(evt)
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	handlers := b.handlers[evt.Kind()]
	b.mu.RUnlock()

	log := b.logger.WithFields(logrus.Fields{
		"event_id": evt.EventID(),
		"kind":     evt.Kind(),
	})
	if len(handlers) == 0 {
		log.Debug("no subscribers for event kind")
		return
	}

	for _, h := range handlers {
		if err := b.deliver(h, evt); err != nil {
			log.WithError(err).Error("handler exhausted retries, journaling event")
			b.journalEvent(evt, err)
		}
	}
}

// deliver invokes one handler with bounded retry and doubling backoff.
func (b *Bus) deliver(h Handler, evt Event) error {
	backoff := b.retryBackoff
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err = h(context.Background(), evt); err == nil {
			return nil
		}
		if attempt < b.maxAttempts {
			b.logger.WithFields(logrus.Fields{
				"event_id": evt.EventID(),
				"kind":     evt.Kind(),
				"attempt":  attempt,
			}).WithError(err).Warn("handler failed, retrying")
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("after %d attempts: %w", b.maxAttempts, err)
}

func (b *Bus) journalEvent(evt Event, cause error) {
	if b.journal == nil {
		return
	}
	// detached context: journaling must still work during shutdown drain
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.journal.JournalEvent(ctx, evt, cause.Error()); err != nil {
		b.logger.WithFields(logrus.Fields{
			"event_id": evt.EventID(),
			"kind":     evt.Kind(),
		}).WithError(err).Error("failed to journal dead-lettered event")
	}
}

func (b *Bus) partition(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.partitions)))
}
