// Package redaction builds the export mapping sent to the redaction
// backend. The mapping is derived data: it merges the active detection
// mapping with manual and search highlights and is never persisted by
// itself.
package redaction

import (
	"fmt"
	"sort"

	"github.com/yasinhessnawi1/hideme-go/internal/detection"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

// ExportSpan is one redaction item on a page.
type ExportSpan struct {
	EntityType string                `json:"entity_type"`
	Content    string                `json:"content"`
	BBox       detection.BoundingBox `json:"bbox"`
	Score      float64               `json:"score"`
}

// ExportPage groups the redaction items of one page.
type ExportPage struct {
	Page      int          `json:"page"`
	Sensitive []ExportSpan `json:"sensitive"`
}

// ExportMapping is the per-file payload of a redact request.
type ExportMapping struct {
	Pages []ExportPage `json:"pages"`
}

// Builder accumulates redaction sources for one file and merges them
// into a single export mapping. Duplicate items (same geometry and
// content) collapse to one, whichever source contributed them.
type Builder struct {
	pages map[int]map[string]ExportSpan
}

func NewBuilder() *Builder {
	return &Builder{pages: make(map[int]map[string]ExportSpan)}
}

// AddDetection merges every span of the detection mapping.
func (b *Builder) AddDetection(mapping *detection.Mapping) {
	if mapping == nil {
		return
	}
	for _, page := range mapping.Pages {
		for _, span := range page.Sensitive {
			b.add(page.Page, ExportSpan{
				EntityType: span.EntityType,
				Content:    span.Content,
				BBox:       span.BBox,
				Score:      span.Score,
			})
		}
	}
}

// AddHighlights merges highlight records, typically the MANUAL records
// of the file plus the SEARCH records of the current session. Records
// with empty geometry are skipped.
func (b *Builder) AddHighlights(records []*highlight.Record) {
	for _, rec := range records {
		if rec == nil || rec.Rect.IsZero() {
			continue
		}
		span := ExportSpan{
			EntityType: string(rec.GetType()),
			Content:    rec.Text,
			BBox: detection.BoundingBox{
				X0: rec.Rect.X,
				Y0: rec.Rect.Y,
				X1: rec.Rect.X + rec.Rect.W,
				Y1: rec.Rect.Y + rec.Rect.H,
			},
			Score: 1.0,
		}
		if rec.Entity != "" {
			span.EntityType = rec.Entity
		}
		b.add(rec.Page, span)
	}
}

func (b *Builder) add(page int, span ExportSpan) {
	key := fmt.Sprintf("%.2f:%.2f:%.2f:%.2f:%s",
		span.BBox.X0, span.BBox.Y0, span.BBox.X1, span.BBox.Y1, span.Content)
	spans, ok := b.pages[page]
	if !ok {
		spans = make(map[string]ExportSpan)
		b.pages[page] = spans
	}
	if _, exists := spans[key]; !exists {
		spans[key] = span
	}
}

// Build returns the merged mapping with pages in ascending order.
// Returns nil when nothing was added.
func (b *Builder) Build() *ExportMapping {
	if len(b.pages) == 0 {
		return nil
	}
	pageNums := make([]int, 0, len(b.pages))
	for page := range b.pages {
		pageNums = append(pageNums, page)
	}
	sort.Ints(pageNums)

	out := &ExportMapping{Pages: make([]ExportPage, 0, len(pageNums))}
	for _, page := range pageNums {
		spans := make([]ExportSpan, 0, len(b.pages[page]))
		for _, span := range b.pages[page] {
			spans = append(spans, span)
		}
		sort.Slice(spans, func(i, j int) bool {
			if spans[i].BBox.Y0 != spans[j].BBox.Y0 {
				return spans[i].BBox.Y0 < spans[j].BBox.Y0
			}
			return spans[i].BBox.X0 < spans[j].BBox.X0
		})
		out.Pages = append(out.Pages, ExportPage{Page: page, Sensitive: spans})
	}
	return out
}

// Merge is the one-shot convenience form: detection mapping plus any
// highlight record sets, merged into one export mapping.
func Merge(mapping *detection.Mapping, recordSets ...[]*highlight.Record) *ExportMapping {
	b := NewBuilder()
	b.AddDetection(mapping)
	for _, records := range recordSets {
		b.AddHighlights(records)
	}
	return b.Build()
}
