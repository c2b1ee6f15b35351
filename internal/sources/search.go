package sources

import (
	"log/slog"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
)

// SearchMatch is one bounding-box match for a search term on one page,
// as reported by the search backend.
type SearchMatch struct {
	Rect geom.Rect
	Text string
}

// SearchManager normalizes search matches into SEARCH highlight
// records. Search results are cheap and must always reflect the latest
// query, so search processing is never skipped by the tracker.
type SearchManager struct {
	color   string
	opacity float64
	logger  *slog.Logger
}

// NewSearchManager creates a search manager using the global search
// color.
func NewSearchManager(searchColor string, opacity float64) *SearchManager {
	return &SearchManager{
		color:   searchColor,
		opacity: opacity,
		logger:  logging.ForService("search-highlights"),
	}
}

// Process emits one SEARCH record per match. Record IDs carry a random
// suffix so repeated searches of the same term never collide. Returns
// the number of records emitted.
func (m *SearchManager) Process(page int, matches []SearchMatch, emit EmitFunc, fileKey string, opts Options) int {
	color := m.color
	if opts.Color != "" {
		color = opts.Color
	}
	opacity := m.opacity
	if opts.Opacity > 0 {
		opacity = opts.Opacity
	}

	emitted := 0
	for i := range matches {
		match := &matches[i]
		if match.Rect.IsZero() {
			m.logger.Debug("skipping search match without geometry",
				"file_key", fileKey,
				"page", page,
				"text", match.Text)
			continue
		}
		emit(page, &highlight.Record{
			ID:        highlight.NewID("search"),
			Type:      highlight.TypeSearch,
			Rect:      match.Rect,
			Color:     color,
			Opacity:   opacity,
			Text:      match.Text,
			Timestamp: time.Now(),
		})
		emitted++
	}
	return emitted
}
