// Package tracker records, per (file, page), whether a highlighting
// pass has already run, and throttles rapid repeated triggers for the
// same unit into one actual computation. It is constructed once at
// process start and passed by reference to every consumer; tests build
// their own instances.
package tracker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/yasinhessnawi1/hideme-go/internal/logging"
	"github.com/yasinhessnawi1/hideme-go/internal/observability/metrics"
)

// Config holds tracker timing configuration.
type Config struct {
	// InteractiveWindow is the minimum gap between passes for files the
	// user opened directly.
	InteractiveWindow time.Duration
	// AutoWindow is the shorter gap for auto-processed (bulk pipeline)
	// files, which must converge across a burst of page renders without
	// visible lag.
	AutoWindow time.Duration
}

// DefaultConfig returns the default tracker timing.
func DefaultConfig() Config {
	return Config{
		InteractiveWindow: time.Second,
		AutoWindow:        150 * time.Millisecond,
	}
}

// Tracker is the process-wide processed-page state. Although the
// surrounding runtime presents no true parallelism for page events,
// many independent page views query and update this state within the
// same tick, so check-then-mark is kept atomic under one mutex.
type Tracker struct {
	mu        sync.Mutex
	processed map[string]map[int]struct{}
	lastRun   *gocache.Cache
	auto      map[string]struct{}

	config  Config
	logger  *slog.Logger
	metrics *metrics.HighlightMetrics
}

// New creates a tracker. m may be nil to disable metrics.
func New(config Config, m *metrics.HighlightMetrics) *Tracker {
	if config.InteractiveWindow <= 0 {
		config.InteractiveWindow = DefaultConfig().InteractiveWindow
	}
	if config.AutoWindow <= 0 {
		config.AutoWindow = DefaultConfig().AutoWindow
	}
	return &Tracker{
		processed: make(map[string]map[int]struct{}),
		lastRun:   gocache.New(config.InteractiveWindow, 5*time.Minute),
		auto:      make(map[string]struct{}),
		config:    config,
		logger:    logging.ForService("page-tracker"),
		metrics:   m,
	}
}

// unitKey builds a throttle-cache key. The file key is length-prefixed
// so that "doc" can never be confused with a prefix of "doc-extra".
func unitKey(fileKey string, page int) string {
	return fmt.Sprintf("%d:%s:%d", len(fileKey), fileKey, page)
}

// filePrefix matches every unitKey belonging to fileKey and no other.
func filePrefix(fileKey string) string {
	return fmt.Sprintf("%d:%s:", len(fileKey), fileKey)
}

// IsProcessed reports whether a highlighting pass has completed for the
// unit since the last reset.
func (t *Tracker) IsProcessed(fileKey string, page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[fileKey][page]
	return ok
}

// CanProcess reports whether the unit may be processed now, and if so,
// stamps the attempt. A second call within the throttle window returns
// false; after the window elapses it returns true again. The check and
// the stamp happen atomically so two near-simultaneous triggers cannot
// both decide to process the same unit.
func (t *Tracker) CanProcess(fileKey string, page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := unitKey(fileKey, page)
	if _, throttled := t.lastRun.Get(key); throttled {
		t.metrics.RecordThrottleRejection(t.modeLocked(fileKey))
		return false
	}
	t.lastRun.Set(key, time.Now(), t.windowLocked(fileKey))
	return true
}

// modeLocked returns the metrics label for the file's throttle mode.
func (t *Tracker) modeLocked(fileKey string) string {
	if _, ok := t.auto[fileKey]; ok {
		return "auto"
	}
	return "interactive"
}

func (t *Tracker) windowLocked(fileKey string) time.Duration {
	if _, ok := t.auto[fileKey]; ok {
		return t.config.AutoWindow
	}
	return t.config.InteractiveWindow
}

// MarkProcessed records that a highlighting pass completed for the unit.
func (t *Tracker) MarkProcessed(fileKey string, page int) {
	t.mu.Lock()
	pages, ok := t.processed[fileKey]
	if !ok {
		pages = make(map[int]struct{})
		t.processed[fileKey] = pages
	}
	pages[page] = struct{}{}
	count := t.processedCountLocked()
	t.mu.Unlock()

	t.metrics.SetProcessedPages(count)
}

// MarkAutoProcessed flags a file as belonging to the bulk pipeline, so
// it uses the shorter throttle window and the coordinator's
// force-through rules.
func (t *Tracker) MarkAutoProcessed(fileKey string) {
	t.mu.Lock()
	t.auto[fileKey] = struct{}{}
	t.mu.Unlock()
}

// IsAutoProcessed reports whether the file was flagged auto-processed.
func (t *Tracker) IsAutoProcessed(fileKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.auto[fileKey]
	return ok
}

// ResetFile clears processed-state and throttle stamps for a file. Must
// be called when a new detection mapping is accepted for the file, when
// the user forces a re-scan, and when the file is removed.
func (t *Tracker) ResetFile(fileKey string) {
	t.mu.Lock()
	delete(t.processed, fileKey)

	prefix := filePrefix(fileKey)
	for key := range t.lastRun.Items() {
		if strings.HasPrefix(key, prefix) {
			t.lastRun.Delete(key)
		}
	}
	count := t.processedCountLocked()
	t.mu.Unlock()

	t.metrics.SetProcessedPages(count)
	t.logger.Debug("cleared processed-page state", "file_key", fileKey)
}

// RemoveFile clears all state for a file including its auto-processed
// flag. Called when the file itself is removed.
func (t *Tracker) RemoveFile(fileKey string) {
	t.ResetFile(fileKey)
	t.mu.Lock()
	delete(t.auto, fileKey)
	t.mu.Unlock()
}

// ResetAll clears processed-state and throttle stamps for every file.
// Auto-processed flags survive; they describe how a file entered the
// system, not its processing state.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	t.processed = make(map[string]map[int]struct{})
	t.lastRun.Flush()
	t.mu.Unlock()

	t.metrics.SetProcessedPages(0)
	t.logger.Debug("cleared all processed-page state")
}

// ProcessedCount returns the number of units currently marked processed.
func (t *Tracker) ProcessedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processedCountLocked()
}

func (t *Tracker) processedCountLocked() int {
	count := 0
	for _, pages := range t.processed {
		count += len(pages)
	}
	return count
}
