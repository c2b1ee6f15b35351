package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/logging"
)

// Config holds event bus configuration.
type Config struct {
	// ResetWindow is the per-file throttle for reset-entity-highlights
	// signals. Resets for the same file inside the window are dropped.
	ResetWindow time.Duration
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() *Config {
	return &Config{ResetWindow: 500 * time.Millisecond}
}

// subscription binds a handler to a signal, optionally scoped to one
// file key.
type subscription struct {
	id      uint64
	fileKey string
	handler Handler
}

// Bus dispatches typed events to subscribers. Dispatch is synchronous
// on the publisher's goroutine, mirroring the single-threaded UI event
// loop the engine runs inside; delayed publishes use tracked timers so
// Shutdown can cancel them.
type Bus struct {
	mu     sync.Mutex
	subs   map[Signal][]subscription
	nextID uint64

	lastReset map[string]time.Time
	timers    map[*time.Timer]struct{}

	config *Config
	stats  BusStats
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(config *Config) *Bus {
	if config == nil {
		config = DefaultConfig()
	}
	return &Bus{
		subs:      make(map[Signal][]subscription),
		lastReset: make(map[string]time.Time),
		timers:    make(map[*time.Timer]struct{}),
		config:    config,
		logger:    logging.ForService("event-bus"),
	}
}

// Subscribe registers a handler for one signal. A non-empty fileKey
// restricts delivery to events tagged with that file (plus broadcast
// events, which carry no file key). Returns an unsubscribe function.
func (b *Bus) Subscribe(signal Signal, fileKey string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[signal] = append(b.subs[signal], subscription{
		id:      id,
		fileKey: fileKey,
		handler: handler,
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[signal]
		for i := range subs {
			if subs[i].id == id {
				b.subs[signal] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to every matching subscriber. Reset signals
// are throttled per-file unless the event carries ForceProcess; a
// throttled publish is silently dropped and reported as Throttled in
// the stats. Returns true when the event was dispatched.
func (b *Bus) Publish(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Signal == SignalResetEntityHighlights && !event.ForceProcess && !b.allowReset(event.FileKey) {
		atomic.AddUint64(&b.stats.Throttled, 1)
		b.logger.Debug("reset throttled",
			"file_key", event.FileKey,
			"source", event.Source)
		return false
	}

	atomic.AddUint64(&b.stats.Published, 1)

	b.mu.Lock()
	subs := make([]subscription, len(b.subs[event.Signal]))
	copy(subs, b.subs[event.Signal])
	b.mu.Unlock()

	for _, sub := range subs {
		// Strict file filtering: a component belonging to file A must
		// ignore events for file B. Events without a file key broadcast
		// to everyone.
		if sub.fileKey != "" && event.FileKey != "" && sub.fileKey != event.FileKey {
			continue
		}
		b.deliver(sub, event)
	}
	return true
}

// PublishDelayed schedules a publish after the given delay. The timer
// is tracked and cancelled by Shutdown.
func (b *Bus) PublishDelayed(event Event, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		b.Publish(event)
	})
	b.mu.Lock()
	b.timers[timer] = struct{}{}
	b.mu.Unlock()
}

// allowReset applies the per-file reset throttle. This window is
// distinct from the tracker's per-page throttle: it absorbs reset
// cascades, not page-render bursts.
func (b *Bus) allowReset(fileKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if last, ok := b.lastReset[fileKey]; ok && now.Sub(last) < b.config.ResetWindow {
		return false
	}
	b.lastReset[fileKey] = now
	return true
}

// deliver runs one handler inside a recovery wrapper so a panicking
// subscriber cannot take down the publisher.
func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.stats.HandlerPanics, 1)
			b.logger.Error("event handler panicked",
				"signal", event.Signal,
				"file_key", event.FileKey,
				"panic", r)
		}
	}()
	sub.handler(event)
	atomic.AddUint64(&b.stats.Delivered, 1)
}

// GetStats returns current bus statistics.
func (b *Bus) GetStats() BusStats {
	return BusStats{
		Published:     atomic.LoadUint64(&b.stats.Published),
		Delivered:     atomic.LoadUint64(&b.stats.Delivered),
		Throttled:     atomic.LoadUint64(&b.stats.Throttled),
		HandlerPanics: atomic.LoadUint64(&b.stats.HandlerPanics),
	}
}

// Shutdown cancels pending delayed publishes and drops all
// subscriptions.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.subs = make(map[Signal][]subscription)
}
