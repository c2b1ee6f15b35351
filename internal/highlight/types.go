// Package highlight owns the highlight record model and the indexed
// in-memory store that is the single source of truth for every
// highlight rendered on a page, regardless of which source produced it.
package highlight

import (
	"time"

	"github.com/google/uuid"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
)

// Type categorizes a highlight record by the source that produced it.
// The tag determines which optional fields are meaningful and which
// color rules apply.
type Type string

const (
	// TypeSearch marks highlights produced from search matches
	TypeSearch Type = "SEARCH"
	// TypeEntity marks highlights produced by entity detection
	TypeEntity Type = "ENTITY"
	// TypeManual marks highlights drawn or selected by the user
	TypeManual Type = "MANUAL"
)

// AllTypes lists every highlight type in a stable order.
var AllTypes = []Type{TypeSearch, TypeEntity, TypeManual}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeSearch, TypeEntity, TypeManual:
		return true
	}
	return false
}

// Record is one rectangle of interest on one page of one file.
type Record struct {
	// ID is globally unique within the store
	ID string `json:"id"`
	// FileKey identifies the owning document
	FileKey string `json:"file_key"`
	// Page is the 1-based page number
	Page int `json:"page"`
	// Type categorizes the record
	Type Type `json:"type"`
	// Rect is the highlight geometry in unscaled document space
	Rect geom.Rect `json:"rect"`
	// Original is the geometry snapshot captured the first time the
	// record is stored. Zoom rescaling always derives from this
	// snapshot so repeated rescale events never compound rounding error.
	Original *geom.Rect `json:"original,omitempty"`
	// Color is a rendering hint (CSS color string)
	Color string `json:"color,omitempty"`
	// Opacity is the fill opacity rendering hint
	Opacity float64 `json:"opacity,omitempty"`
	// Text is the verbatim matched or selected string
	Text string `json:"text,omitempty"`
	// Entity is the entity-type label (ENTITY records only)
	Entity string `json:"entity,omitempty"`
	// Model names the detection engine that produced the record
	// (ENTITY records only)
	Model string `json:"model,omitempty"`
	// Selected tracks UI selection state
	Selected bool `json:"selected,omitempty"`
	// Timestamp is the creation time, used for eviction and staleness
	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a highlight ID with a random uuid component. The
// store additionally collision-checks at insertion time.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return prefix + "-" + uuid.New().String()
}

// Clone returns a deep copy of the record so callers can hand copies to
// the render layer without exposing store-owned state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Original != nil {
		orig := *r.Original
		clone.Original = &orig
	}
	return &clone
}

// captureOriginal snapshots the current geometry if no snapshot exists.
func (r *Record) captureOriginal() {
	if r.Original == nil {
		orig := r.Rect
		r.Original = &orig
	}
}

// ScaleTo sets the record geometry to the original snapshot scaled by
// factor. The snapshot is captured on first use so a record created at
// zoom 1.5 still rescales from its own stable basis.
func (r *Record) ScaleTo(factor float64) {
	r.captureOriginal()
	r.Rect = r.Original.Scaled(factor)
}
