package sources

import (
	"log/slog"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
)

// RectSelection is a user-drawn rectangle: two opposite corners in
// document space, in any order, with an explicit color and optional
// source text.
type RectSelection struct {
	Start geom.Point
	End   geom.Point
	Color string
	Text  string
}

// TextSelection is a character-precise selection within one text run:
// the sub-span rectangle is computed from text measurement so selecting
// the middle of a run produces a box starting and ending exactly at
// character boundaries, not the full line.
type TextSelection struct {
	Run       geom.TextRun
	StartRune int
	EndRune   int
	Color     string
}

// ManualProcessor normalizes user selections into MANUAL highlight
// records. Each invocation produces exactly one record.
type ManualProcessor struct {
	defaultColor string
	opacity      float64
	logger       *slog.Logger
}

// NewManualProcessor creates a manual highlight processor.
func NewManualProcessor(defaultColor string, opacity float64) *ManualProcessor {
	return &ManualProcessor{
		defaultColor: defaultColor,
		opacity:      opacity,
		logger:       logging.ForService("manual-highlights"),
	}
}

// ProcessRect emits one MANUAL record for a drag selection. Zero-area
// selections are dropped. Returns true when a record was emitted.
func (p *ManualProcessor) ProcessRect(page int, sel RectSelection, emit EmitFunc, fileKey string) bool {
	rect := geom.NormalizedRect(sel.Start.X, sel.Start.Y, sel.End.X, sel.End.Y)
	if rect.IsZero() {
		p.logger.Debug("ignoring zero-area manual selection",
			"file_key", fileKey,
			"page", page)
		return false
	}
	emit(page, p.record(rect, sel.Color, sel.Text))
	return true
}

// ProcessText emits one MANUAL record for a character-precise text
// selection. Empty selections are dropped. Returns true when a record
// was emitted.
func (p *ManualProcessor) ProcessText(page int, sel TextSelection, emit EmitFunc, fileKey string) bool {
	rect := sel.Run.SubSpan(sel.StartRune, sel.EndRune)
	if rect.IsZero() {
		p.logger.Debug("ignoring empty text selection",
			"file_key", fileKey,
			"page", page)
		return false
	}
	emit(page, p.record(rect, sel.Color, sel.Run.SubSpanText(sel.StartRune, sel.EndRune)))
	return true
}

func (p *ManualProcessor) record(rect geom.Rect, color, text string) *highlight.Record {
	if color == "" {
		color = p.defaultColor
	}
	return &highlight.Record{
		ID:        highlight.NewID("manual"),
		Type:      highlight.TypeManual,
		Rect:      rect,
		Color:     color,
		Opacity:   p.opacity,
		Text:      text,
		Timestamp: time.Now(),
	}
}
