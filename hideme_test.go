package hideme

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasinhessnawi1/hideme-go/internal/backend"
	"github.com/yasinhessnawi1/hideme-go/internal/conf"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := conf.DefaultSettings()
	s.Backend.BaseURL = "http://backend.test/api"
	s.Backend.RequestsPerSec = 0
	s.Persistence.Path = filepath.Join(t.TempDir(), "highlights.db")
	s.Throttle.Interactive = 20 * time.Millisecond
	s.Throttle.AutoProcessed = 5 * time.Millisecond
	s.Coordinator.Debounce = 5 * time.Millisecond
	return s
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{Settings: testSettings(t)})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestEngineWiring(t *testing.T) {
	e := newTestEngine(t)

	require.NotNil(t, e.Store)
	require.NotNil(t, e.Tracker)
	require.NotNil(t, e.Registry)
	require.NotNil(t, e.Bus)
	require.NotNil(t, e.Coordinator)
	require.NotNil(t, e.Backend)
	assert.NotNil(t, e.persist, "persistence enabled in settings opens the mirror")
}

func TestEngineDetectAppliesMappings(t *testing.T) {
	e := newTestEngine(t)

	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/api/batch/detect",
		httpmock.NewStringResponder(200, `{
			"file-a": {"redaction_mapping": {"pages": [
				{"page": 1, "sensitive": [
					{"entity_type": "PERSON", "content": "Jane Doe",
					 "bbox": {"x0": 10, "y0": 20, "x1": 60, "y1": 32}}
				]}
			]}}
		}`))

	files := []backend.FileRef{{Key: "file-a", Name: "contract.pdf", Data: []byte("%PDF")}}
	require.NoError(t, e.Detect(context.Background(), files, backend.DetectOptions{Threshold: 0.5}))

	mapping := e.Registry.Get("file-a")
	require.NotNil(t, mapping, "the detect flow registers the mapping via the bus")
	assert.Equal(t, 1, mapping.SpanCount())

	// A reconciliation pass now produces the entity highlight.
	e.Coordinator.MountPage("file-a", 1)
	e.Coordinator.ProcessPage("file-a", 1)
	recs := e.Store.GetForPage(1, "file-a")
	require.Len(t, recs, 1)
	assert.Equal(t, highlight.TypeEntity, recs[0].Type)
}

func TestEngineExportMapping(t *testing.T) {
	e := newTestEngine(t)

	require.True(t, e.Coordinator.AddManualRect("file-a", 2, sources.RectSelection{
		Start: geom.Point{X: 40, Y: 100},
		End:   geom.Point{X: 160, Y: 112},
		Text:  "secret clause",
	}))

	searchRecs := []*highlight.Record{
		{ID: "s1", Type: highlight.TypeSearch, Page: 1, Text: "contract",
			Rect: geom.Rect{X: 10, Y: 200, W: 80, H: 12}},
	}

	out := e.ExportMapping("file-a", searchRecs)
	require.NotNil(t, out)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, 1, out.Pages[0].Page)
	assert.Equal(t, "SEARCH", out.Pages[0].Sensitive[0].EntityType)
	assert.Equal(t, 2, out.Pages[1].Page)
	assert.Equal(t, "MANUAL", out.Pages[1].Sensitive[0].EntityType)

	assert.Nil(t, e.ExportMapping("file-empty", nil))
}

func TestEngineMemoryOnlyFallback(t *testing.T) {
	s := testSettings(t)
	s.Persistence.Enabled = false
	e, err := New(Options{Settings: s})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	assert.Nil(t, e.persist)
	require.True(t, e.Coordinator.AddManualRect("file-a", 1, sources.RectSelection{
		Start: geom.Point{X: 0, Y: 0}, End: geom.Point{X: 5, Y: 5},
	}))
	assert.Len(t, e.Store.GetForPage(1, "file-a"), 1)
}
