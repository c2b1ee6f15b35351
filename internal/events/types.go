// Package events provides the typed in-process signal bus that
// decouples far-apart parts of the UI (a settings panel, a page
// renderer) without direct references. The signal vocabulary is closed;
// handlers switch on Signal instead of comparing event-name strings.
package events

import (
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
)

// Signal names one of the fixed cross-component signals.
type Signal string

const (
	// SignalResetEntityHighlights requests dropping cached entity state
	// for a file. Throttled per-file to absorb cascades where multiple
	// producers independently decide a reset is needed.
	SignalResetEntityHighlights Signal = "reset-entity-highlights"
	// SignalEntityDetectionComplete announces that a detection run
	// finished for a file.
	SignalEntityDetectionComplete Signal = "entity-detection-complete"
	// SignalApplyDetectionMapping carries a new detection mapping to be
	// registered as the file's active mapping.
	SignalApplyDetectionMapping Signal = "apply-detection-mapping"
)

// Event is the payload delivered to subscribers. FileKey scopes the
// event to one file; an empty FileKey means broadcast to all.
type Event struct {
	Signal       Signal
	FileKey      string
	Page         int
	ResetType    string
	Source       string
	ForceProcess bool
	RunID        string
	// Mapping is set only for SignalApplyDetectionMapping.
	Mapping   *detection.Mapping
	Timestamp time.Time
}

// Handler processes one event. Handlers run synchronously on the
// publisher's goroutine; panics are recovered and logged by the bus.
type Handler func(Event)

// BusStats contains runtime counters for monitoring.
type BusStats struct {
	Published     uint64
	Delivered     uint64
	Throttled     uint64
	HandlerPanics uint64
}
