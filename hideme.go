// Package hideme wires the highlight engine together: the indexed
// highlight store with its optional sqlite mirror, the processed-page
// tracker, the event bus, the detection mapping registry, the three
// source managers and the coordinator on top of them, plus the clients
// for the external detection, search and redaction services. The engine
// is a library-level core with no process boundary; the embedding UI
// calls it in-process.
package hideme

import (
	"context"
	"fmt"

	"github.com/yasinhessnawi1/hideme-go/internal/backend"
	"github.com/yasinhessnawi1/hideme-go/internal/conf"
	"github.com/yasinhessnawi1/hideme-go/internal/coordinator"
	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/events"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight/persist"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
	"github.com/yasinhessnawi1/hideme-go/internal/observability/metrics"
	"github.com/yasinhessnawi1/hideme-go/internal/redaction"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
	"github.com/yasinhessnawi1/hideme-go/internal/tracker"
)

// Engine is the assembled highlight coordination core. All collaborators
// are singletons constructed once here and shared by reference.
type Engine struct {
	Settings    *conf.Settings
	Store       *highlight.Store
	Tracker     *tracker.Tracker
	Registry    *detection.Registry
	Bus         *events.Bus
	Coordinator *coordinator.Coordinator
	Backend     *backend.Client
	Metrics     *metrics.HighlightMetrics

	persist *persist.SQLiteStore
}

// Options configures engine construction. The zero value uses loaded
// settings and no render-layer collaborators; pages without a layout
// provider skip spans that need text resolution.
type Options struct {
	// Settings overrides the configuration; nil loads via conf.Load.
	Settings *conf.Settings
	// SearchProvider supplies current search results per page.
	SearchProvider coordinator.SearchProvider
	// LayoutProvider supplies rendered text layouts per page.
	LayoutProvider coordinator.LayoutProvider
	// Metrics receives engine metrics; nil disables collection.
	Metrics *metrics.HighlightMetrics
}

// New constructs and wires the engine. Persistence failures
// degrade to memory-only operation with a warning; every other
// construction failure is returned.
func New(opts Options) (*Engine, error) {
	settings := opts.Settings
	if settings == nil {
		loaded, err := conf.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		settings = loaded
	}

	logger := logging.ForService("hideme-engine")

	e := &Engine{
		Settings: settings,
		Tracker: tracker.New(tracker.Config{
			InteractiveWindow: settings.Throttle.Interactive,
			AutoWindow:        settings.Throttle.AutoProcessed,
		}, opts.Metrics),
		Registry: detection.NewRegistry(),
		Bus:      events.NewBus(&events.Config{ResetWindow: settings.Throttle.ResetWindow}),
		Backend: backend.NewClient(settings.Backend.BaseURL, settings.Backend.Timeout,
			settings.Backend.RequestsPerSec),
		Metrics: opts.Metrics,
	}

	var persistStore highlight.PersistentStore
	if settings.Persistence.Enabled {
		s, err := persist.Open(settings.Persistence.Path)
		if err != nil {
			logger.Warn("highlight persistence unavailable, running memory-only",
				"path", settings.Persistence.Path,
				"error", err)
		} else {
			e.persist = s
			persistStore = s
		}
	}
	e.Store = highlight.NewStore(persistStore, opts.Metrics)

	e.Coordinator = coordinator.New(coordinator.Deps{
		Store:          e.Store,
		Tracker:        e.Tracker,
		Registry:       e.Registry,
		Bus:            e.Bus,
		SearchManager:  sources.NewSearchManager(settings.Highlight.SearchColor, settings.Highlight.Opacity),
		EntityManager:  sources.NewEntityManager(settings.Highlight.EntityFallback, settings.Highlight.Opacity),
		ManualManager:  sources.NewManualProcessor(settings.Highlight.ManualColor, settings.Highlight.Opacity),
		SearchProvider: opts.SearchProvider,
		LayoutProvider: opts.LayoutProvider,
		Metrics:        opts.Metrics,
	}, coordinator.Config{
		Debounce:     settings.Coordinator.Debounce,
		DelayedReset: settings.Throttle.DelayedReset,
	})

	return e, nil
}

// Detect runs entity detection on the given files, publishes each
// resulting mapping through the bus and announces run completion, which
// triggers the reset/reprocess flow on the coordinator.
func (e *Engine) Detect(ctx context.Context, files []backend.FileRef, opts backend.DetectOptions) error {
	mappings, err := e.Backend.Detect(ctx, files, opts)
	if err != nil {
		return err
	}
	for fileKey, mapping := range mappings {
		e.Bus.Publish(events.Event{
			Signal:  events.SignalApplyDetectionMapping,
			FileKey: fileKey,
			Source:  "detect",
			RunID:   mapping.RunID,
			Mapping: mapping,
		})
		e.Bus.Publish(events.Event{
			Signal:  events.SignalEntityDetectionComplete,
			FileKey: fileKey,
			Source:  "detect",
			RunID:   mapping.RunID,
		})
	}
	return nil
}

// Search runs a batch search and returns the matches per file and page.
// Feeding the matches back into page processing, which replaces the
// SEARCH highlights, is the caller's step.
func (e *Engine) Search(ctx context.Context, files []backend.FileRef, terms []string, opts backend.SearchOptions) (backend.SearchResults, error) {
	return e.Backend.Search(ctx, files, terms, opts)
}

// ExportMapping merges the file's active detection mapping with its
// MANUAL highlights and the given session SEARCH highlights into the
// redaction payload for one file. Returns nil when there is nothing to
// redact.
func (e *Engine) ExportMapping(fileKey string, searchRecords []*highlight.Record) *redaction.ExportMapping {
	b := redaction.NewBuilder()
	b.AddDetection(e.Registry.Get(fileKey))
	b.AddHighlights(e.Store.GetByType(highlight.TypeManual, fileKey))
	b.AddHighlights(searchRecords)
	return b.Build()
}

// Redact exports the merged mappings for the given files and returns
// the redacted documents keyed by file name.
func (e *Engine) Redact(ctx context.Context, files []backend.FileRef, mappings map[string]*redaction.ExportMapping) (map[string][]byte, error) {
	return e.Backend.Redact(ctx, files, mappings)
}

// Close shuts down the coordinator, the bus, and flushes pending
// persistence writes.
func (e *Engine) Close() error {
	e.Coordinator.Close()
	e.Bus.Shutdown()
	e.Store.Flush()
	if e.persist != nil {
		return e.persist.Close()
	}
	return nil
}
