package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

// collect returns an emit func appending into the given slice.
func collect(out *[]*highlight.Record) EmitFunc {
	return func(_ int, rec *highlight.Record) {
		*out = append(*out, rec)
	}
}

func TestSearchManagerProcess(t *testing.T) {
	t.Parallel()

	m := NewSearchManager("#71c4ff", 0.4)
	matches := []SearchMatch{
		{Rect: geom.Rect{X: 10, Y: 20, W: 50, H: 10}, Text: "contract"},
		{Rect: geom.Rect{}, Text: "no geometry"},
		{Rect: geom.Rect{X: 10, Y: 60, W: 50, H: 10}, Text: "contract"},
	}

	var got []*highlight.Record
	emitted := m.Process(2, matches, collect(&got), "file-a", Options{})

	assert.Equal(t, 2, emitted, "zero-geometry matches are skipped")
	require.Len(t, got, 2)
	for _, rec := range got {
		assert.Equal(t, highlight.TypeSearch, rec.Type)
		assert.Equal(t, "#71c4ff", rec.Color)
		assert.InDelta(t, 0.4, rec.Opacity, 1e-9)
		assert.NotEmpty(t, rec.ID)
	}
	assert.NotEqual(t, got[0].ID, got[1].ID, "same term on the same page still gets distinct IDs")
}

func TestSearchManagerOptionOverrides(t *testing.T) {
	t.Parallel()

	m := NewSearchManager("#71c4ff", 0.4)
	var got []*highlight.Record
	m.Process(1, []SearchMatch{{Rect: geom.Rect{W: 1, H: 1}}}, collect(&got), "file-a",
		Options{Color: "#123456", Opacity: 0.9})

	require.Len(t, got, 1)
	assert.Equal(t, "#123456", got[0].Color)
	assert.InDelta(t, 0.9, got[0].Opacity, 1e-9)
}

func TestEntityManagerProcess(t *testing.T) {
	t.Parallel()

	m := NewEntityManager("#ffd771", 0.4)
	layout := &geom.TextLayout{
		Viewport: geom.Viewport{Width: 800, Height: 600, Scale: 1},
		Runs: []geom.TextRun{
			{Text: "Contact Jane Doe today", Transform: geom.Translate(40, 300), Width: 220, Height: 12},
		},
	}
	entry := &detection.PageMapping{
		Page: 1,
		Sensitive: []detection.Sensitive{
			{
				// Direct geometry: used as-is.
				EntityType: "EMAIL",
				Content:    "jane@example.com",
				BBox:       detection.BoundingBox{X0: 10, Y0: 20, X1: 110, Y1: 32},
				Model:      "presidio",
			},
			{
				// No geometry: resolved against the text layout.
				EntityType: "PERSON",
				Content:    "Jane Doe",
				Model:      "gliner",
			},
			{
				// Unresolvable: no geometry and text absent from the page.
				EntityType: "PHONE",
				Content:    "555-0199",
			},
		},
	}

	var got []*highlight.Record
	emitted, skipped := m.Process(1, entry, layout, collect(&got), "file-a", Options{})

	assert.Equal(t, 2, emitted)
	assert.Equal(t, 1, skipped, "unresolvable spans are skipped, never an error")
	require.Len(t, got, 2)

	email := got[0]
	assert.Equal(t, highlight.TypeEntity, email.Type)
	assert.Equal(t, "EMAIL", email.Entity)
	assert.InDelta(t, 10.0, email.Rect.X, 1e-9)
	assert.InDelta(t, 100.0, email.Rect.W, 1e-9)
	assert.Equal(t, detection.ModelColor("presidio"), email.Color)

	person := got[1]
	assert.Equal(t, "PERSON", person.Entity)
	assert.InDelta(t, 300.0, person.Rect.Y, 1e-9)
	assert.Equal(t, detection.ModelColor("gliner"), person.Color)
}

func TestEntityManagerNotReadyLayout(t *testing.T) {
	t.Parallel()

	m := NewEntityManager("#ffd771", 0.4)
	entry := &detection.PageMapping{
		Page: 1,
		Sensitive: []detection.Sensitive{
			{EntityType: "PERSON", Content: "Jane Doe"},
		},
	}

	var got []*highlight.Record
	emitted, skipped := m.Process(1, entry, nil, collect(&got), "file-a", Options{})

	assert.Zero(t, emitted, "spans needing text resolution wait for the layout")
	assert.Equal(t, 1, skipped)
	assert.Empty(t, got)
}

func TestEntityManagerNilEntry(t *testing.T) {
	t.Parallel()

	m := NewEntityManager("#ffd771", 0.4)
	var got []*highlight.Record
	emitted, skipped := m.Process(1, nil, nil, collect(&got), "file-a", Options{})
	assert.Zero(t, emitted)
	assert.Zero(t, skipped)
}

func TestEntityManagerFallbackColor(t *testing.T) {
	t.Parallel()

	m := NewEntityManager("#ffd771", 0.4)
	entry := &detection.PageMapping{
		Page: 1,
		Sensitive: []detection.Sensitive{
			{EntityType: "PERSON", BBox: detection.BoundingBox{X0: 1, Y0: 1, X1: 2, Y1: 2}},
		},
	}

	var got []*highlight.Record
	m.Process(1, entry, nil, collect(&got), "file-a", Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "#ffd771", got[0].Color, "spans without a model use the fallback color")
}

func TestManualProcessorRect(t *testing.T) {
	t.Parallel()

	p := NewManualProcessor("#00ff15", 0.4)

	var got []*highlight.Record
	ok := p.ProcessRect(3, RectSelection{
		Start: geom.Point{X: 120, Y: 80},
		End:   geom.Point{X: 60, Y: 40},
	}, collect(&got), "file-a")

	require.True(t, ok)
	require.Len(t, got, 1)
	rec := got[0]
	assert.Equal(t, highlight.TypeManual, rec.Type)
	assert.Equal(t, "#00ff15", rec.Color)
	// Corners in any order normalize to the same rectangle.
	assert.InDelta(t, 60.0, rec.Rect.X, 1e-9)
	assert.InDelta(t, 40.0, rec.Rect.Y, 1e-9)
	assert.InDelta(t, 60.0, rec.Rect.W, 1e-9)
	assert.InDelta(t, 40.0, rec.Rect.H, 1e-9)
}

func TestManualProcessorRectZeroArea(t *testing.T) {
	t.Parallel()

	p := NewManualProcessor("#00ff15", 0.4)
	var got []*highlight.Record
	ok := p.ProcessRect(1, RectSelection{
		Start: geom.Point{X: 10, Y: 10},
		End:   geom.Point{X: 10, Y: 50},
	}, collect(&got), "file-a")

	assert.False(t, ok, "zero-width drags produce nothing")
	assert.Empty(t, got)
}

func TestManualProcessorText(t *testing.T) {
	t.Parallel()

	p := NewManualProcessor("#00ff15", 0.4)
	run := geom.TextRun{
		Text:      "confidential",
		Transform: geom.Translate(100, 400),
		Width:     120,
		Height:    12,
	}

	var got []*highlight.Record
	ok := p.ProcessText(2, TextSelection{Run: run, StartRune: 3, EndRune: 7, Color: "#ff0000"},
		collect(&got), "file-a")

	require.True(t, ok)
	require.Len(t, got, 1)
	rec := got[0]
	assert.Equal(t, "fide", rec.Text, "record carries exactly the selected characters")
	assert.Equal(t, "#ff0000", rec.Color)
	// 12 runes over 120 units: 10 units per rune.
	assert.InDelta(t, 130.0, rec.Rect.X, 1e-9)
	assert.InDelta(t, 40.0, rec.Rect.W, 1e-9)

	// An empty span emits nothing.
	got = nil
	assert.False(t, p.ProcessText(2, TextSelection{Run: run, StartRune: 5, EndRune: 5}, collect(&got), "file-a"))
	assert.Empty(t, got)
}
