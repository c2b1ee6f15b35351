package coordinator

import (
	"github.com/yasinhessnawi1/hideme-go/internal/events"
	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
	"github.com/yasinhessnawi1/hideme-go/internal/sources"
)

// Commands issued by the render layer (context menu, selection tools).
// These are thin wrappers over store mutations; the store's change
// callback drives the debounced re-render.

// AddManualRect creates one MANUAL highlight from a drag selection.
func (c *Coordinator) AddManualRect(fileKey string, page int, sel sources.RectSelection) bool {
	return c.manualMgr.ProcessRect(page, sel, c.emitToStore(fileKey), fileKey)
}

// AddManualText creates one MANUAL highlight from a character-precise
// text selection.
func (c *Coordinator) AddManualText(fileKey string, page int, sel sources.TextSelection) bool {
	return c.manualMgr.ProcessText(page, sel, c.emitToStore(fileKey), fileKey)
}

func (c *Coordinator) emitToStore(fileKey string) sources.EmitFunc {
	return func(page int, rec *highlight.Record) {
		c.store.Add(page, rec, fileKey)
	}
}

// SelectHighlight updates a record's selection state.
func (c *Coordinator) SelectHighlight(id string, selected bool) bool {
	return c.store.SetSelected(id, selected)
}

// DeleteHighlight removes one highlight by ID. Returns the count
// removed; deleting an absent ID is a no-op.
func (c *Coordinator) DeleteHighlight(id string) int {
	return c.store.Remove(id)
}

// DeleteByText removes every highlight with the same matched text,
// optionally across all files (fileKey == "").
func (c *Coordinator) DeleteByText(text, fileKey string) int {
	return c.store.RemoveByText(text, fileKey)
}

// DeleteByEntityType removes every ENTITY highlight carrying the given
// entity label, optionally across all files.
func (c *Coordinator) DeleteByEntityType(entityType, fileKey string) int {
	return c.store.RemoveByEntityType(entityType, fileKey)
}

// DeleteByPosition removes every highlight on the page whose center
// lies within tolerance of the query rectangle's center. With an empty
// fileKey this deletes the "same visual spot" across all files, the
// found-word cleanup gesture.
func (c *Coordinator) DeleteByPosition(page int, query geom.Rect, tolerance float64, fileKey string) int {
	removed := 0
	for _, rec := range c.store.FindByPosition(page, query, tolerance, fileKey) {
		removed += c.store.Remove(rec.ID)
	}
	return removed
}

// RemoveFile drops all state for a document: its highlight records, its
// processed-page tracking (including the auto-processed flag) and its
// active detection mapping.
func (c *Coordinator) RemoveFile(fileKey string) {
	c.store.RemoveByFile(fileKey)
	c.tracker.RemoveFile(fileKey)
	c.registry.Remove(fileKey)
	c.clearNewFile(fileKey)
}

// ForceRescan publishes a full reset for a file, used when the user
// explicitly requests re-detection. The reset flows through the bus so
// its per-file throttle still applies.
func (c *Coordinator) ForceRescan(fileKey string) {
	c.bus.Publish(events.Event{
		Signal:    events.SignalResetEntityHighlights,
		FileKey:   fileKey,
		ResetType: ResetFull,
		Source:    "user-rescan",
	})
}
