package sources

import (
	"log/slog"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
)

// EntityManager converts a detection mapping's page entry into ENTITY
// highlight records, mapping spans from document text-space into the
// store's unscaled coordinate space via the page's text layout.
type EntityManager struct {
	fallbackColor string
	opacity       float64
	logger        *slog.Logger
}

// NewEntityManager creates an entity manager. fallbackColor applies to
// spans whose detection engine has no palette entry.
func NewEntityManager(fallbackColor string, opacity float64) *EntityManager {
	return &EntityManager{
		fallbackColor: fallbackColor,
		opacity:       opacity,
		logger:        logging.ForService("entity-highlights"),
	}
}

// Process emits one ENTITY record per resolvable span in the page
// entry. Spans whose geometry cannot be resolved against the text
// layout (for example while the viewport is not ready yet) are skipped
// with a debug log, never an error. Returns the number of records
// emitted and the number of spans skipped.
func (m *EntityManager) Process(page int, entry *detection.PageMapping, layout *geom.TextLayout, emit EmitFunc, fileKey string, opts Options) (emitted, skipped int) {
	if entry == nil {
		return 0, 0
	}

	for i := range entry.Sensitive {
		span := &entry.Sensitive[i]
		rect, ok := m.resolveSpan(span, layout)
		if !ok {
			skipped++
			m.logger.Debug("skipping unresolvable sensitive span",
				"file_key", fileKey,
				"page", page,
				"entity", span.EntityType)
			continue
		}

		color := opts.Color
		if color == "" {
			if span.Model != "" {
				color = detection.ModelColor(span.Model)
			} else {
				color = m.fallbackColor
			}
		}
		opacity := m.opacity
		if opts.Opacity > 0 {
			opacity = opts.Opacity
		}

		emit(page, &highlight.Record{
			ID:        highlight.NewID("entity"),
			Type:      highlight.TypeEntity,
			Rect:      rect,
			Color:     color,
			Opacity:   opacity,
			Text:      span.Content,
			Entity:    span.EntityType,
			Model:     span.Model,
			Timestamp: time.Now(),
		})
		emitted++
	}
	return emitted, skipped
}

// resolveSpan produces the span's rectangle in unscaled document space.
// A span with usable bbox geometry converts directly; otherwise the
// span's text is located in the page's text layout. Both failing means
// the span is skipped.
func (m *EntityManager) resolveSpan(span *detection.Sensitive, layout *geom.TextLayout) (geom.Rect, bool) {
	if !span.BBox.IsZero() {
		return span.BBox.Rect(), true
	}
	if !layout.Ready() || span.Content == "" {
		return geom.Rect{}, false
	}
	if rects := layout.FindText(span.Content); len(rects) > 0 {
		return rects[0], true
	}
	return geom.Rect{}, false
}
