package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/events"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
	"github.com/yasinhessnawi1/hideme-go/internal/tracker"
)

func TestMain(m *testing.M) {
	// The tracker's TTL cache runs a janitor goroutine for the life of
	// the cache; it is collected with the tracker, not at test end.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

// stubSearchProvider serves canned matches per (file, page).
type stubSearchProvider struct {
	mu      sync.Mutex
	results map[string][]sources.SearchMatch
}

func (s *stubSearchProvider) set(fileKey string, page int, matches []sources.SearchMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string][]sources.SearchMatch)
	}
	s.results[pageKey(fileKey, page)] = matches
}

func (s *stubSearchProvider) ResultsFor(fileKey string, page int) []sources.SearchMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[pageKey(fileKey, page)]
}

// stubLayoutProvider serves one layout for every page.
type stubLayoutProvider struct {
	layout *geom.TextLayout
}

func (s *stubLayoutProvider) LayoutFor(string, int) *geom.TextLayout {
	return s.layout
}

type testEnv struct {
	coord    *Coordinator
	store    *highlight.Store
	tracker  *tracker.Tracker
	registry *detection.Registry
	bus      *events.Bus
	search   *stubSearchProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: highlight.NewStore(nil, nil),
		tracker: tracker.New(tracker.Config{
			InteractiveWindow: 40 * time.Millisecond,
			AutoWindow:        10 * time.Millisecond,
		}, nil),
		registry: detection.NewRegistry(),
		bus:      events.NewBus(&events.Config{ResetWindow: 30 * time.Millisecond}),
		search:   &stubSearchProvider{},
	}
	env.coord = New(Deps{
		Store:          env.store,
		Tracker:        env.tracker,
		Registry:       env.registry,
		Bus:            env.bus,
		SearchManager:  sources.NewSearchManager("#71c4ff", 0.4),
		EntityManager:  sources.NewEntityManager("#ffd771", 0.4),
		ManualManager:  sources.NewManualProcessor("#00ff15", 0.4),
		SearchProvider: env.search,
		LayoutProvider: &stubLayoutProvider{},
	}, Config{Debounce: 10 * time.Millisecond, DelayedReset: 20 * time.Millisecond})

	t.Cleanup(func() {
		env.coord.Close()
		env.bus.Shutdown()
		env.store.Flush()
		// Let any just-fired timers drain before goleak looks around.
		time.Sleep(50 * time.Millisecond)
	})
	return env
}

func bboxMapping(fileKey, runID string, page, spans int) *detection.Mapping {
	entry := detection.PageMapping{Page: page}
	for i := 0; i < spans; i++ {
		entry.Sensitive = append(entry.Sensitive, detection.Sensitive{
			EntityType: "PERSON",
			Content:    "Jane Doe",
			BBox:       detection.BoundingBox{X0: float64(i * 10), Y0: 100, X1: float64(i*10 + 8), Y1: 112},
			Model:      "presidio",
		})
	}
	return &detection.Mapping{FileKey: fileKey, RunID: runID, Pages: []detection.PageMapping{entry}}
}

func countByType(recs []*highlight.Record, t highlight.Type) int {
	n := 0
	for _, rec := range recs {
		if rec.Type == t {
			n++
		}
	}
	return n
}

func TestProcessPageSearchReplacesNotAppends(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)
	env.search.set("file-a", 1, []sources.SearchMatch{
		{Rect: geom.Rect{X: 10, Y: 10, W: 40, H: 10}, Text: "term"},
		{Rect: geom.Rect{X: 10, Y: 30, W: 40, H: 10}, Text: "term"},
	})

	env.coord.ProcessPage("file-a", 1)
	env.coord.ProcessPage("file-a", 1)
	env.coord.ProcessPage("file-a", 1)

	recs := env.store.GetForPage(1, "file-a")
	assert.Equal(t, 2, countByType(recs, highlight.TypeSearch),
		"repeated passes must replace search records, not stack them")
	assert.Equal(t, StateReady, env.coord.State("file-a", 1))
}

func TestProcessPageEntityThrottledUntilNewMapping(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	require.True(t, env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
		Mapping: bboxMapping("file-a", "run-1", 1, 3),
	}))

	env.coord.ProcessPage("file-a", 1)
	require.Equal(t, 3, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity))

	// The page is marked processed, so another pass does nothing even
	// though the mapping is still registered.
	env.store.RemoveByType(highlight.TypeEntity, "file-a", 1)
	env.coord.ProcessPage("file-a", 1)
	assert.Zero(t, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity),
		"a processed page is skipped until something resets tracking")

	// A new mapping for the file clears tracking and the next pass runs.
	require.True(t, env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
		Mapping: bboxMapping("file-a", "run-2", 1, 5),
	}))
	env.coord.ProcessPage("file-a", 1)
	assert.Equal(t, 5, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity),
		"highlights from the new run replace the old ones")
}

func TestEntityPipelineRejectsForeignMapping(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	env.coord.EntityPipeline("file-a", 1, bboxMapping("file-b", "run-1", 1, 2), true)

	assert.Empty(t, env.store.GetForPage(1, "file-a"),
		"a mapping tagged for another file must never be applied")
	assert.False(t, env.tracker.IsProcessed("file-a", 1))
}

func TestApplyMappingFileKeyMismatch(t *testing.T) {
	env := newTestEnv(t)

	// Interactive file: the mismatched mapping is discarded.
	env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
		Mapping: bboxMapping("file-b", "run-1", 1, 2),
	})
	assert.Nil(t, env.registry.Get("file-a"))
	assert.Nil(t, env.registry.Get("file-b"))

	// Auto-processed file: the event's file key wins and the mapping is
	// corrected in place.
	env.tracker.MarkAutoProcessed("file-auto")
	env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-auto",
		Mapping: bboxMapping("file-other", "run-2", 1, 2),
	})
	got := env.registry.Get("file-auto")
	require.NotNil(t, got)
	assert.Equal(t, "file-auto", got.FileKey)
}

func TestApplyMappingWithoutMapping(t *testing.T) {
	env := newTestEnv(t)

	env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
	})
	assert.Nil(t, env.registry.Get("file-a"))
}

func TestResetStaleRunIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.MarkProcessed("file-a", 1)
	require.True(t, env.registry.Apply(bboxMapping("file-a", "run-2", 1, 1)))

	// A reset from the superseded run-1 must not clear tracking.
	env.bus.Publish(events.Event{
		Signal:  events.SignalResetEntityHighlights,
		FileKey: "file-a",
		RunID:   "run-1",
	})
	assert.True(t, env.tracker.IsProcessed("file-a", 1))

	time.Sleep(40 * time.Millisecond) // reopen the bus reset window

	// The active run's reset goes through.
	env.bus.Publish(events.Event{
		Signal:  events.SignalResetEntityHighlights,
		FileKey: "file-a",
		RunID:   "run-2",
	})
	assert.False(t, env.tracker.IsProcessed("file-a", 1))
}

func TestForceRescanDropsEntityRecords(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)
	require.True(t, env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
		Mapping: bboxMapping("file-a", "run-1", 1, 2),
	}))
	env.coord.ProcessPage("file-a", 1)
	require.Equal(t, 2, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity))

	env.coord.ForceRescan("file-a")

	assert.Zero(t, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity),
		"a full reset drops the file's entity records")
	assert.False(t, env.tracker.IsProcessed("file-a", 1))
}

func TestDetectionCompleteDelayedResetForAutoProcessed(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.MarkAutoProcessed("file-auto")

	var mu sync.Mutex
	var resets int
	env.bus.Subscribe(events.SignalResetEntityHighlights, "", func(events.Event) {
		mu.Lock()
		resets++
		mu.Unlock()
	})

	env.bus.Publish(events.Event{
		Signal:  events.SignalEntityDetectionComplete,
		FileKey: "file-auto",
	})

	mu.Lock()
	immediate := resets
	mu.Unlock()
	assert.Equal(t, 1, immediate)

	// The delayed follow-up fires after DelayedReset once the bus
	// throttle window has reopened.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resets == 2
	}, time.Second, 5*time.Millisecond)
}

func TestGetAnnotationsVisibilityFilter(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	require.True(t, env.coord.AddManualRect("file-a", 1, sources.RectSelection{
		Start: geom.Point{X: 0, Y: 0},
		End:   geom.Point{X: 10, Y: 10},
	}))
	env.search.set("file-a", 1, []sources.SearchMatch{{Rect: geom.Rect{X: 5, Y: 5, W: 5, H: 5}, Text: "t"}})
	env.coord.ProcessPage("file-a", 1)

	require.Len(t, env.coord.GetAnnotations(1, "file-a"), 2)

	env.coord.SetVisibility(highlight.TypeSearch, false)
	got := env.coord.GetAnnotations(1, "file-a")
	require.Len(t, got, 1, "hidden types are filtered out of reads")
	assert.Equal(t, highlight.TypeManual, got[0].Type)

	// Hidden types are also skipped during processing.
	env.store.RemoveByType(highlight.TypeSearch, "file-a", 1)
	env.coord.ProcessPage("file-a", 1)
	assert.Zero(t, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeSearch))

	env.coord.SetVisibility(highlight.TypeSearch, true)
	assert.Len(t, env.coord.GetAnnotations(1, "file-a"), 1)
}

func TestDebouncedNotification(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	var mu sync.Mutex
	var fired int
	var lastVersion uint64
	env.coord.OnAnnotationsChanged(func(version uint64) {
		mu.Lock()
		fired++
		lastVersion = version
		mu.Unlock()
	})

	// A burst of mutations inside one debounce window.
	for i := 0; i < 10; i++ {
		require.True(t, env.coord.AddManualRect("file-a", 1, sources.RectSelection{
			Start: geom.Point{X: float64(i), Y: 0},
			End:   geom.Point{X: float64(i) + 5, Y: 5},
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired > 0
	}, time.Second, 2*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired, "a mutation burst coalesces into one notification")
	assert.Equal(t, env.coord.Version(), lastVersion)
}

func TestDeleteByPositionAcrossFiles(t *testing.T) {
	env := newTestEnv(t)
	sel := sources.RectSelection{Start: geom.Point{X: 100, Y: 200}, End: geom.Point{X: 140, Y: 220}}
	require.True(t, env.coord.AddManualRect("file-a", 1, sel))
	require.True(t, env.coord.AddManualRect("file-b", 1, sel))
	require.True(t, env.coord.AddManualRect("file-a", 1, sources.RectSelection{
		Start: geom.Point{X: 400, Y: 200}, End: geom.Point{X: 440, Y: 220},
	}))

	removed := env.coord.DeleteByPosition(1, geom.Rect{X: 101, Y: 201, W: 40, H: 20}, 5, "")
	assert.Equal(t, 2, removed, "the same visual spot is cleared in every file")
	assert.Len(t, env.store.GetForPage(1, "file-a"), 1)
	assert.Empty(t, env.store.GetForPage(1, "file-b"))
}

func TestRemoveFileDropsAllState(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)
	require.True(t, env.bus.Publish(events.Event{
		Signal:  events.SignalApplyDetectionMapping,
		FileKey: "file-a",
		Mapping: bboxMapping("file-a", "run-1", 1, 2),
	}))
	env.coord.ProcessPage("file-a", 1)
	env.tracker.MarkAutoProcessed("file-a")

	env.coord.RemoveFile("file-a")

	assert.Empty(t, env.store.GetForPage(1, "file-a"))
	assert.False(t, env.tracker.IsProcessed("file-a", 1))
	assert.False(t, env.tracker.IsAutoProcessed("file-a"))
	assert.Nil(t, env.registry.Get("file-a"))
}

func TestSelectAndDeleteCommands(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.coord.AddManualRect("file-a", 1, sources.RectSelection{
		Start: geom.Point{X: 0, Y: 0}, End: geom.Point{X: 10, Y: 10}, Text: "note",
	}))
	recs := env.store.GetForPage(1, "file-a")
	require.Len(t, recs, 1)
	id := recs[0].ID

	require.True(t, env.coord.SelectHighlight(id, true))
	assert.True(t, env.store.Get(id).Selected)
	assert.False(t, env.coord.SelectHighlight("missing", true))

	assert.Equal(t, 1, env.coord.DeleteHighlight(id))
	assert.Equal(t, 0, env.coord.DeleteHighlight(id), "deleting twice is a no-op")
}

func TestNewFileForcesEntityPass(t *testing.T) {
	env := newTestEnv(t)

	// Mark processed before the file is ever opened (stale state from a
	// previous session of the same key).
	env.tracker.MarkProcessed("file-a", 1)

	env.coord.SetActiveFile("file-a")
	env.coord.MountPage("file-a", 1)
	require.True(t, env.registry.Apply(bboxMapping("file-a", "run-1", 1, 2)))

	env.coord.ProcessPage("file-a", 1)
	assert.Equal(t, 2, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity),
		"a newly opened file processes despite stale tracking state")

	// The new-file status is consumed by the successful pass.
	env.store.RemoveByType(highlight.TypeEntity, "file-a", 1)
	env.coord.ProcessPage("file-a", 1)
	assert.Zero(t, countByType(env.store.GetForPage(1, "file-a"), highlight.TypeEntity))
}

func TestProcessPageWithoutMapping(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	env.coord.ProcessPage("file-a", 1)

	assert.Empty(t, env.store.GetForPage(1, "file-a"))
	assert.False(t, env.tracker.IsProcessed("file-a", 1),
		"a page without a mapping is not marked processed")
	assert.Equal(t, StateReady, env.coord.State("file-a", 1))
}

func TestUnmountLastPageCancelsPendingNotify(t *testing.T) {
	env := newTestEnv(t)
	env.coord.MountPage("file-a", 1)

	var mu sync.Mutex
	var fired int
	env.coord.OnAnnotationsChanged(func(uint64) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	require.True(t, env.coord.AddManualRect("file-a", 1, sources.RectSelection{
		Start: geom.Point{X: 0, Y: 0}, End: geom.Point{X: 5, Y: 5},
	}))
	env.coord.UnmountPage("file-a", 1)

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, fired, "unmounting the last page cancels the pending notification")
}
