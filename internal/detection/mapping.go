// Package detection holds the entity-detection mapping model: the
// per-file structure a detection run produces, the registry that keeps
// the active mapping per file, and the per-engine color palette.
package detection

import (
	"hash/fnv"
	"sync"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
)

// BoundingBox is the backend's span geometry: two opposite corners in
// document text-space.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Rect converts the bounding box to a normalized rectangle.
func (b BoundingBox) Rect() geom.Rect {
	return geom.NormalizedRect(b.X0, b.Y0, b.X1, b.Y1)
}

// IsZero reports whether the box carries no usable geometry.
func (b BoundingBox) IsZero() bool {
	return b.Rect().IsZero()
}

// Sensitive is one detected sensitive span on a page.
type Sensitive struct {
	// EntityType is the detected entity label (e.g. PERSON, EMAIL)
	EntityType string `json:"entity_type"`
	// Content is the matched text
	Content string `json:"content"`
	// BBox is the span's geometry in document text-space
	BBox BoundingBox `json:"bbox"`
	// Score is the detection confidence
	Score float64 `json:"score"`
	// Model names the detection engine that produced the span
	Model string `json:"model,omitempty"`
}

// PageMapping carries the sensitive spans for one page.
type PageMapping struct {
	Page      int         `json:"page"`
	Sensitive []Sensitive `json:"sensitive"`
}

// Mapping is a per-file detection result: an ordered list of pages, each
// with its sensitive spans. It is replaced wholesale when a new
// detection run completes for the file. The FileKey tag is the
// isolation invariant: a mapping must never be applied to a different
// file even when events interleave.
type Mapping struct {
	FileKey string        `json:"file_key"`
	RunID   string        `json:"run_id,omitempty"`
	Pages   []PageMapping `json:"pages"`
}

// PageEntry returns the mapping entry for a page, or nil when the run
// found nothing on that page.
func (m *Mapping) PageEntry(page int) *PageMapping {
	if m == nil {
		return nil
	}
	for i := range m.Pages {
		if m.Pages[i].Page == page {
			return &m.Pages[i]
		}
	}
	return nil
}

// SpanCount returns the total number of sensitive spans in the mapping.
func (m *Mapping) SpanCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for i := range m.Pages {
		n += len(m.Pages[i].Sensitive)
	}
	return n
}

// Registry keeps the active mapping per file. Applying a mapping for a
// file replaces any previous one.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
}

// NewRegistry creates an empty mapping registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]*Mapping)}
}

// Apply stores a mapping as the active one for its file, replacing any
// previous mapping wholesale. Mappings without a file key are rejected.
func (r *Registry) Apply(m *Mapping) bool {
	if m == nil || m.FileKey == "" {
		return false
	}
	r.mu.Lock()
	r.mappings[m.FileKey] = m
	r.mu.Unlock()
	return true
}

// Get returns the active mapping for a file, or nil.
func (r *Registry) Get(fileKey string) *Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[fileKey]
}

// ActiveRunID returns the run ID of the active mapping for a file, or
// empty when no mapping is registered. The coordinator uses this to
// discard results from superseded detection runs.
func (r *Registry) ActiveRunID(fileKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m := r.mappings[fileKey]; m != nil {
		return m.RunID
	}
	return ""
}

// Remove drops the active mapping for a file.
func (r *Registry) Remove(fileKey string) {
	r.mu.Lock()
	delete(r.mappings, fileKey)
	r.mu.Unlock()
}

// modelPalette is the deterministic fallback palette for detection
// engines without an explicit color entry.
var modelPalette = []string{
	"#ffd771", "#ff9e9e", "#9effb0", "#9ec8ff", "#e49eff",
	"#ffc89e", "#9efff4", "#d4ff9e",
}

// knownModelColors maps detection engine names to their fixed colors.
var knownModelColors = map[string]string{
	"presidio": "#ffd771",
	"gliner":   "#ff9e9e",
	"gemini":   "#9ec8ff",
	"hideme":   "#9effb0",
}

// ModelColor returns the display color for a detection engine. Unknown
// engines get a deterministic palette entry so the same engine always
// renders in the same color.
func ModelColor(model string) string {
	if c, ok := knownModelColors[model]; ok {
		return c
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(model))
	return modelPalette[int(h.Sum32())%len(modelPalette)]
}
