// Package sources contains the three source managers that normalize raw
// producer output (search matches, detection mappings, user selections)
// into highlight records. Managers never mutate the highlight store
// directly; they emit records through a callback so normalization stays
// decoupled from storage.
package sources

import (
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

// EmitFunc receives one normalized record for one page. The coordinator
// supplies an emit that writes into the highlight store.
type EmitFunc func(page int, rec *highlight.Record)

// Options carries the per-invocation flags shared by all managers.
type Options struct {
	// ForceReprocess bypasses the processed-page tracker's
	// short-circuit. Required for newly opened files and auto-processed
	// files, where stale "already processed" state must not block an
	// up-to-date run from taking effect.
	ForceReprocess bool
	// Color overrides the manager's default color when non-empty.
	Color string
	// Opacity overrides the manager's default opacity when positive.
	Opacity float64
}
