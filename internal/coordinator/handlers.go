package coordinator

import (
	"github.com/yasinhessnawi1/hideme-go/internal/events"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

// Reset types carried by reset-entity-highlights events.
const (
	// ResetTracking clears processed-page tracking only; records are
	// replaced naturally on the next reconciliation pass.
	ResetTracking = "tracking"
	// ResetFull additionally drops the file's ENTITY records.
	ResetFull = "full"
)

// handleApplyMapping registers a new detection mapping as the active one
// for its file. Tracking state is always cleared before the mapping
// takes effect, so stale "already processed" markers cannot mask the new
// data. A mapping tagged for a different file than the event is
// discarded with a warning, except for auto-processed files, whose
// mapping file key is corrected in place.
func (c *Coordinator) handleApplyMapping(ev events.Event) {
	mapping := ev.Mapping
	if mapping == nil {
		c.logger.Warn("apply-detection-mapping event without mapping",
			"file_key", ev.FileKey,
			"source", ev.Source)
		return
	}

	if ev.FileKey != "" && mapping.FileKey != "" && ev.FileKey != mapping.FileKey {
		if !c.tracker.IsAutoProcessed(ev.FileKey) {
			c.logger.Warn("detection mapping tagged for different file, discarding",
				"event_file", ev.FileKey,
				"mapping_file", mapping.FileKey,
				"source", ev.Source)
			return
		}
		// Auto-processed correction: the bulk pipeline reuses one
		// detection session across files, so the event's file key is
		// authoritative.
		c.logger.Warn("correcting detection mapping file key for auto-processed file",
			"event_file", ev.FileKey,
			"mapping_file", mapping.FileKey)
		mapping.FileKey = ev.FileKey
	}
	if mapping.FileKey == "" {
		mapping.FileKey = ev.FileKey
	}
	if mapping.FileKey == "" {
		c.logger.Warn("detection mapping without file key, discarding",
			"source", ev.Source)
		return
	}

	c.tracker.ResetFile(mapping.FileKey)
	c.registry.Apply(mapping)
	c.logger.Debug("detection mapping applied",
		"file_key", mapping.FileKey,
		"run_id", mapping.RunID,
		"spans", mapping.SpanCount())
	c.scheduleNotify()
}

// handleDetectionComplete reacts to a finished detection run with a
// throttled reset. Auto-processed files get a second, delayed reset as a
// safety net against the run completing before its mapping was applied.
func (c *Coordinator) handleDetectionComplete(ev events.Event) {
	reset := events.Event{
		Signal:    events.SignalResetEntityHighlights,
		FileKey:   ev.FileKey,
		ResetType: ResetTracking,
		Source:    "detection-complete",
		RunID:     ev.RunID,
	}
	c.bus.Publish(reset)

	if c.tracker.IsAutoProcessed(ev.FileKey) {
		// The follow-up lands inside the reset throttle window, so it
		// must force through or it would always be dropped.
		reset.ForceProcess = true
		c.bus.PublishDelayed(reset, c.config.DelayedReset)
	}
}

// handleReset drops cached entity state for a file. Resets carrying a
// run ID that no longer matches the file's active mapping are from a
// superseded run and are ignored.
func (c *Coordinator) handleReset(ev events.Event) {
	if ev.RunID != "" {
		if active := c.registry.ActiveRunID(ev.FileKey); active != "" && active != ev.RunID {
			c.logger.Debug("ignoring reset from superseded detection run",
				"file_key", ev.FileKey,
				"run_id", ev.RunID,
				"active_run_id", active)
			return
		}
	}

	if ev.FileKey == "" {
		// Broadcast: every file's tracking state resets.
		c.tracker.ResetAll()
	} else {
		c.tracker.ResetFile(ev.FileKey)
	}

	if ev.ResetType == ResetFull {
		c.store.RemoveByType(highlight.TypeEntity, ev.FileKey, 0)
	}
}
