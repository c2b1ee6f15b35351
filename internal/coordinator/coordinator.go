// Package coordinator implements the highlight reconciliation engine:
// for each visible (file, page) it decides which sources need
// (re)processing, applies throttling and processed-page tracking,
// invokes the right source manager, and coalesces change notifications
// so a page with hundreds of detected entities causes one re-render,
// not hundreds.
package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/events"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
	"github.com/yasinhessnawi1/hideme-go/internal/observability/metrics"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
	"github.com/yasinhessnawi1/hideme-go/internal/tracker"
)

// PageState tracks where a mounted page view is in its reconciliation
// pass. Re-entered on every dependency change.
type PageState string

const (
	StateIdle           PageState = "idle"
	StateCheckingSearch PageState = "checking-search"
	StateCheckingEntity PageState = "checking-entity"
	StateReady          PageState = "ready"
)

// SearchProvider supplies the current search results for a page. The
// provider is an external collaborator; the coordinator never issues
// searches itself.
type SearchProvider interface {
	ResultsFor(fileKey string, page int) []sources.SearchMatch
}

// LayoutProvider supplies the rendered text layout for a page, used by
// entity processing for coordinate mapping. May return nil while the
// page is still mounting.
type LayoutProvider interface {
	LayoutFor(fileKey string, page int) *geom.TextLayout
}

// ChangeListener receives the store version after a debounced
// annotations-changed notification.
type ChangeListener func(version uint64)

// Config holds coordinator construction parameters.
type Config struct {
	// Debounce is the coalescing window for change notifications.
	Debounce time.Duration
	// DelayedReset is the delay before the follow-up reset published
	// for auto-processed files on detection-complete.
	DelayedReset time.Duration
}

// DefaultConfig returns the default coordinator timing.
func DefaultConfig() Config {
	return Config{
		Debounce:     100 * time.Millisecond,
		DelayedReset: 400 * time.Millisecond,
	}
}

// Coordinator is the central reconciliation unit. All its collaborators
// are process-wide singletons passed in by reference, which keeps the
// "global state with init lifecycle" contract without module-level
// variables and makes the whole engine mockable in tests.
type Coordinator struct {
	store    *highlight.Store
	tracker  *tracker.Tracker
	registry *detection.Registry
	bus      *events.Bus

	searchMgr *sources.SearchManager
	entityMgr *sources.EntityManager
	manualMgr *sources.ManualProcessor

	searchProvider SearchProvider
	layoutProvider LayoutProvider

	mu         sync.Mutex
	visibility map[highlight.Type]bool
	pageStates map[string]PageState
	mounted    map[string]struct{}
	newFiles   map[string]struct{}
	activeFile string

	notifyMu      sync.Mutex
	notifyTimer   *time.Timer
	notifyPending bool
	listeners     []ChangeListener

	unsubscribe []func()

	config  Config
	logger  *slog.Logger
	metrics *metrics.HighlightMetrics
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Store          *highlight.Store
	Tracker        *tracker.Tracker
	Registry       *detection.Registry
	Bus            *events.Bus
	SearchManager  *sources.SearchManager
	EntityManager  *sources.EntityManager
	ManualManager  *sources.ManualProcessor
	SearchProvider SearchProvider
	LayoutProvider LayoutProvider
	Metrics        *metrics.HighlightMetrics
}

// New creates a coordinator, wires the store's change callback into the
// debounce scheduler and subscribes to the event bus signals.
func New(deps Deps, config Config) *Coordinator {
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.DelayedReset <= 0 {
		config.DelayedReset = DefaultConfig().DelayedReset
	}

	c := &Coordinator{
		store:          deps.Store,
		tracker:        deps.Tracker,
		registry:       deps.Registry,
		bus:            deps.Bus,
		searchMgr:      deps.SearchManager,
		entityMgr:      deps.EntityManager,
		manualMgr:      deps.ManualManager,
		searchProvider: deps.SearchProvider,
		layoutProvider: deps.LayoutProvider,
		visibility: map[highlight.Type]bool{
			highlight.TypeSearch: true,
			highlight.TypeEntity: true,
			highlight.TypeManual: true,
		},
		pageStates: make(map[string]PageState),
		mounted:    make(map[string]struct{}),
		newFiles:   make(map[string]struct{}),
		config:     config,
		logger:     logging.ForService("highlight-coordinator"),
		metrics:    deps.Metrics,
	}

	c.store.SetOnChange(c.scheduleNotify)

	if c.bus != nil {
		c.unsubscribe = append(c.unsubscribe,
			c.bus.Subscribe(events.SignalApplyDetectionMapping, "", c.handleApplyMapping),
			c.bus.Subscribe(events.SignalEntityDetectionComplete, "", c.handleDetectionComplete),
			c.bus.Subscribe(events.SignalResetEntityHighlights, "", c.handleReset),
		)
	}
	return c
}

func pageKey(fileKey string, page int) string {
	return fmt.Sprintf("%s-%d", fileKey, page)
}

// SetActiveFile records which document the user is currently viewing.
// Writers re-validate against this after any asynchronous boundary so
// results for a file the user switched away from are not applied as if
// current.
func (c *Coordinator) SetActiveFile(fileKey string) {
	c.mu.Lock()
	c.activeFile = fileKey
	if _, seen := c.mounted[fileKey]; !seen {
		c.newFiles[fileKey] = struct{}{}
	}
	c.mu.Unlock()
}

// ActiveFile returns the currently viewed document's file key.
func (c *Coordinator) ActiveFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeFile
}

// MountPage registers a page view as visible. The first mount of a file
// clears its "new file" status only after a successful entity pass.
func (c *Coordinator) MountPage(fileKey string, page int) {
	c.mu.Lock()
	c.mounted[pageKey(fileKey, page)] = struct{}{}
	c.pageStates[pageKey(fileKey, page)] = StateIdle
	c.mu.Unlock()
}

// UnmountPage clears per-page view state. When no pages remain mounted,
// any pending debounce timer is cancelled, since nothing would consume
// the notification.
func (c *Coordinator) UnmountPage(fileKey string, page int) {
	key := pageKey(fileKey, page)
	c.mu.Lock()
	delete(c.mounted, key)
	delete(c.pageStates, key)
	remaining := len(c.mounted)
	c.mu.Unlock()

	if remaining == 0 {
		c.cancelPendingNotify()
	}
}

// State returns the reconciliation state of a mounted page view.
func (c *Coordinator) State(fileKey string, page int) PageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.pageStates[pageKey(fileKey, page)]; ok {
		return s
	}
	return StateIdle
}

func (c *Coordinator) setState(fileKey string, page int, s PageState) {
	c.mu.Lock()
	if _, mounted := c.mounted[pageKey(fileKey, page)]; mounted {
		c.pageStates[pageKey(fileKey, page)] = s
	}
	c.mu.Unlock()
}

// SetVisibility toggles rendering of one highlight type. Toggles affect
// reads (GetAnnotations) and whether ProcessPage runs that source.
func (c *Coordinator) SetVisibility(t highlight.Type, visible bool) {
	c.mu.Lock()
	c.visibility[t] = visible
	c.mu.Unlock()
	c.scheduleNotify()
}

func (c *Coordinator) visible(t highlight.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibility[t]
}

// ProcessPage runs one reconciliation pass for a visible page: search
// first (never skipped by the tracker), then entity (tracked and
// throttled, with the new-file and auto-processed force-through rules).
// A failing source is logged and left unmarked so a later trigger
// retries; it never affects other pages.
func (c *Coordinator) ProcessPage(fileKey string, page int) {
	c.setState(fileKey, page, StateCheckingSearch)
	c.processSearch(fileKey, page)

	c.setState(fileKey, page, StateCheckingEntity)
	c.processEntity(fileKey, page)

	c.setState(fileKey, page, StateReady)
}

// processSearch hands current search results to the search manager
// unconditionally. Existing SEARCH records for the page are replaced so
// repeated passes stay idempotent.
func (c *Coordinator) processSearch(fileKey string, page int) {
	if !c.visible(highlight.TypeSearch) || c.searchProvider == nil {
		return
	}
	matches := c.searchProvider.ResultsFor(fileKey, page)
	if len(matches) == 0 {
		return
	}

	start := time.Now()
	err := c.runGuarded(func() {
		staged := c.stage(func(emit sources.EmitFunc) {
			c.searchMgr.Process(page, matches, emit, fileKey, sources.Options{})
		})
		// Replace, not append: clear and insert without an intervening
		// suspension point so no reader observes the empty state.
		c.store.RemoveByType(highlight.TypeSearch, fileKey, page)
		for _, rec := range staged {
			c.store.Add(page, rec, fileKey)
		}
	})
	c.metrics.RecordCoordinatorDuration("search", time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordCoordinatorRun("search", "failed")
		c.logger.Error("search highlight processing failed",
			"file_key", fileKey,
			"page", page,
			"error", err)
		return
	}
	c.metrics.RecordCoordinatorRun("search", "processed")
}

// processEntity runs the entity pipeline for one page, honoring the
// tracker unless the file is new or auto-processed.
func (c *Coordinator) processEntity(fileKey string, page int) {
	if !c.visible(highlight.TypeEntity) {
		return
	}
	mapping := c.registry.Get(fileKey)
	if mapping == nil {
		return
	}

	force := c.isNewFile(fileKey) || c.tracker.IsAutoProcessed(fileKey)
	if !force {
		if c.tracker.IsProcessed(fileKey, page) {
			c.metrics.RecordCoordinatorRun("entity", "skipped")
			return
		}
		if !c.tracker.CanProcess(fileKey, page) {
			c.metrics.RecordCoordinatorRun("entity", "skipped")
			return
		}
	}

	c.EntityPipeline(fileKey, page, mapping, force)
}

// EntityPipeline converts the mapping's page entry into ENTITY records,
// replacing the page's previous ENTITY records on success. force
// bypasses the tracker short-circuit; it is set for newly opened files
// and auto-processed files, where freshly arriving data must win over
// stale "already done" markers.
func (c *Coordinator) EntityPipeline(fileKey string, page int, mapping *detection.Mapping, force bool) {
	// File isolation: a mapping tagged for another file is never
	// applied, except the auto-processed correction case, which is
	// handled at apply time, not here.
	if mapping.FileKey != "" && mapping.FileKey != fileKey {
		c.logger.Warn("detection mapping file key mismatch, skipping",
			"mapping_file", mapping.FileKey,
			"page_file", fileKey)
		c.metrics.RecordCoordinatorRun("entity", "skipped")
		return
	}

	var layout *geom.TextLayout
	if c.layoutProvider != nil {
		layout = c.layoutProvider.LayoutFor(fileKey, page)
	}

	start := time.Now()
	var emitted, skipped int
	err := c.runGuarded(func() {
		staged := c.stage(func(emit sources.EmitFunc) {
			emitted, skipped = c.entityMgr.Process(page, mapping.PageEntry(page), layout, emit, fileKey, sources.Options{ForceReprocess: force})
		})
		// Clearing happens only immediately before successful
		// insertion; a failed normalization above leaves existing
		// highlights untouched.
		c.store.RemoveByType(highlight.TypeEntity, fileKey, page)
		for _, rec := range staged {
			c.store.Add(page, rec, fileKey)
		}
	})
	c.metrics.RecordCoordinatorDuration("entity", time.Since(start).Seconds())

	if err != nil {
		// Not marked processed, so a future trigger retries.
		c.metrics.RecordCoordinatorRun("entity", "failed")
		c.logger.Error("entity highlight processing failed",
			"file_key", fileKey,
			"page", page,
			"error", err)
		return
	}

	c.tracker.MarkProcessed(fileKey, page)
	c.clearNewFile(fileKey)
	c.metrics.RecordCoordinatorRun("entity", "processed")
	c.logger.Debug("entity pass complete",
		"file_key", fileKey,
		"page", page,
		"emitted", emitted,
		"skipped", skipped)
}

// stage collects manager output into a slice so the store mutation can
// happen as one clear-then-insert block after normalization succeeded.
func (c *Coordinator) stage(run func(emit sources.EmitFunc)) []*highlight.Record {
	var staged []*highlight.Record
	run(func(page int, rec *highlight.Record) {
		staged = append(staged, rec)
	})
	return staged
}

// runGuarded converts a panic inside a source manager into an error so
// one bad page cannot crash the coordinator for other pages.
func (c *Coordinator) runGuarded(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source manager panicked: %v", r)
		}
	}()
	fn()
	return nil
}

func (c *Coordinator) isNewFile(fileKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.newFiles[fileKey]
	return ok
}

func (c *Coordinator) clearNewFile(fileKey string) {
	c.mu.Lock()
	delete(c.newFiles, fileKey)
	c.mu.Unlock()
}

// GetAnnotations is the single read path for the render layer: the
// page's records filtered by the current visibility toggles.
func (c *Coordinator) GetAnnotations(page int, fileKey string) []*highlight.Record {
	recs := c.store.GetForPage(page, fileKey)
	out := recs[:0]
	for _, rec := range recs {
		if c.visible(rec.Type) {
			out = append(out, rec)
		}
	}
	return out
}

// Version exposes the store's dirty version counter so consumers can
// diff against their last-seen version.
func (c *Coordinator) Version() uint64 {
	return c.store.Version()
}

// OnAnnotationsChanged registers a listener for debounced change
// notifications.
func (c *Coordinator) OnAnnotationsChanged(fn ChangeListener) {
	c.notifyMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.notifyMu.Unlock()
}

// scheduleNotify arms (or coalesces into) the debounce timer. Bursts of
// store mutations inside one window yield a single notification.
func (c *Coordinator) scheduleNotify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if c.notifyPending {
		c.metrics.RecordNotificationCoalesced()
		return
	}
	c.notifyPending = true
	c.notifyTimer = time.AfterFunc(c.config.Debounce, c.fireNotify)
}

func (c *Coordinator) fireNotify() {
	c.notifyMu.Lock()
	c.notifyPending = false
	listeners := make([]ChangeListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.notifyMu.Unlock()

	version := c.store.Version()
	for _, fn := range listeners {
		fn(version)
	}
}

func (c *Coordinator) cancelPendingNotify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.notifyTimer != nil {
		c.notifyTimer.Stop()
	}
	c.notifyPending = false
}

// Close unsubscribes from the event bus and cancels pending timers.
func (c *Coordinator) Close() {
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.cancelPendingNotify()
}
