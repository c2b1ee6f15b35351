package highlight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/logging"
	"github.com/yasinhessnawi1/hideme-go/internal/observability/metrics"
)

// persistTimeout bounds the fire-and-forget mirror writes so a hung
// database cannot accumulate goroutines.
const persistTimeout = 5 * time.Second

// PersistentStore is the opaque durable key-value collaborator the store
// mirrors every mutation into. All calls are best-effort; a failure is
// logged and never surfaces to the in-memory operation.
type PersistentStore interface {
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
	GetByFile(ctx context.Context, fileKey string) ([]*Record, error)
	GetByType(ctx context.Context, t Type) ([]*Record, error)
	Clear(ctx context.Context) error
}

// Store is the single source of truth for highlight records. It keeps
// secondary indexes by (file, page), by type, and by (file, type) so
// lookups and bulk deletes stay O(results) as record counts grow into
// the thousands.
//
// All mutation happens synchronously under one mutex; consumers observe
// changes through the monotonic version counter and the optional change
// callback.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*Record
	byFilePage map[string]map[int]map[string]*Record
	byType     map[Type]map[string]*Record
	byFileType map[string]map[Type]map[string]*Record

	version  atomic.Uint64
	onChange atomic.Pointer[func()]

	persist PersistentStore
	wg      sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.HighlightMetrics
}

// NewStore creates a highlight store. persist may be nil, in which case
// the store runs memory-only. m may be nil to disable metrics.
func NewStore(persist PersistentStore, m *metrics.HighlightMetrics) *Store {
	return &Store{
		byID:       make(map[string]*Record),
		byFilePage: make(map[string]map[int]map[string]*Record),
		byType:     make(map[Type]map[string]*Record),
		byFileType: make(map[string]map[Type]map[string]*Record),
		persist:    persist,
		logger:     logging.ForService("highlight-store"),
		metrics:    m,
	}
}

// Version returns the store's monotonic mutation counter. Consumers diff
// against their last-seen version to decide whether to re-read.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// SetOnChange registers a callback invoked after every mutation. The
// callback runs synchronously under no lock; it is expected to be cheap
// (the coordinator's debounce scheduler).
func (s *Store) SetOnChange(fn func()) {
	s.onChange.Store(&fn)
}

func (s *Store) notifyChanged() {
	s.version.Add(1)
	if fn := s.onChange.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

// Add inserts a record for the given page and file. A colliding ID is
// logged and the insert is dropped; callers must pre-generate unique
// IDs. Returns true when the record was stored.
func (s *Store) Add(page int, rec *Record, fileKey string) bool {
	if rec == nil || rec.ID == "" || !rec.Type.Valid() {
		s.logger.Warn("rejecting invalid highlight record",
			"file_key", fileKey,
			"page", page)
		s.metrics.RecordStoreOperation("add", string(rec.GetType()), "error")
		return false
	}

	stored := rec.Clone()
	stored.Page = page
	stored.FileKey = fileKey
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	stored.captureOriginal()

	s.mu.Lock()
	if _, exists := s.byID[stored.ID]; exists {
		s.mu.Unlock()
		s.logger.Warn("highlight id collision, record dropped",
			"id", stored.ID,
			"file_key", fileKey,
			"page", page,
			"type", stored.Type)
		s.metrics.RecordStoreOperation("add", string(stored.Type), "error")
		return false
	}
	s.indexLocked(stored)
	size := len(s.byType[stored.Type])
	s.mu.Unlock()

	s.metrics.RecordStoreOperation("add", string(stored.Type), "success")
	s.metrics.SetStoreSize(string(stored.Type), size)
	// The mirror goroutine reads fields without the store lock, so it
	// gets a snapshot, not the indexed record.
	s.persistPut(stored.Clone())
	s.notifyChanged()
	return true
}

// GetType is a nil-safe accessor used by logging paths.
func (r *Record) GetType() Type {
	if r == nil {
		return ""
	}
	return r.Type
}

// indexLocked inserts the record into all indexes. Caller holds mu.
func (s *Store) indexLocked(rec *Record) {
	s.byID[rec.ID] = rec

	pages, ok := s.byFilePage[rec.FileKey]
	if !ok {
		pages = make(map[int]map[string]*Record)
		s.byFilePage[rec.FileKey] = pages
	}
	ids, ok := pages[rec.Page]
	if !ok {
		ids = make(map[string]*Record)
		pages[rec.Page] = ids
	}
	ids[rec.ID] = rec

	typed, ok := s.byType[rec.Type]
	if !ok {
		typed = make(map[string]*Record)
		s.byType[rec.Type] = typed
	}
	typed[rec.ID] = rec

	fileTypes, ok := s.byFileType[rec.FileKey]
	if !ok {
		fileTypes = make(map[Type]map[string]*Record)
		s.byFileType[rec.FileKey] = fileTypes
	}
	ftIds, ok := fileTypes[rec.Type]
	if !ok {
		ftIds = make(map[string]*Record)
		fileTypes[rec.Type] = ftIds
	}
	ftIds[rec.ID] = rec
}

// unindexLocked removes the record from all indexes. Caller holds mu.
func (s *Store) unindexLocked(rec *Record) {
	delete(s.byID, rec.ID)

	if pages, ok := s.byFilePage[rec.FileKey]; ok {
		if ids, ok := pages[rec.Page]; ok {
			delete(ids, rec.ID)
			if len(ids) == 0 {
				delete(pages, rec.Page)
			}
		}
		if len(pages) == 0 {
			delete(s.byFilePage, rec.FileKey)
		}
	}

	if typed, ok := s.byType[rec.Type]; ok {
		delete(typed, rec.ID)
		if len(typed) == 0 {
			delete(s.byType, rec.Type)
		}
	}

	if fileTypes, ok := s.byFileType[rec.FileKey]; ok {
		if ids, ok := fileTypes[rec.Type]; ok {
			delete(ids, rec.ID)
			if len(ids) == 0 {
				delete(fileTypes, rec.Type)
			}
		}
		if len(fileTypes) == 0 {
			delete(s.byFileType, rec.FileKey)
		}
	}
}

// Remove deletes one record by ID. Removing an absent ID is a no-op.
// Returns the count removed (0 or 1).
func (s *Store) Remove(id string) int {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if ok {
		s.unindexLocked(rec)
	}
	s.mu.Unlock()

	if !ok {
		s.metrics.RecordStoreOperation("remove", "", "noop")
		return 0
	}
	s.metrics.RecordStoreOperation("remove", string(rec.Type), "success")
	s.persistDelete(id)
	s.notifyChanged()
	return 1
}

// RemoveByType deletes all records of a type, optionally restricted to a
// file (fileKey != "") and page (page > 0). Returns the count removed.
func (s *Store) RemoveByType(t Type, fileKey string, page int) int {
	s.mu.Lock()
	victims := s.collectByTypeLocked(t, fileKey, page)
	for _, rec := range victims {
		s.unindexLocked(rec)
	}
	s.mu.Unlock()
	return s.finishBulkRemove("remove_by_type", t, victims)
}

// collectByTypeLocked gathers matching records using the narrowest
// available index. Caller holds mu.
func (s *Store) collectByTypeLocked(t Type, fileKey string, page int) []*Record {
	var source map[string]*Record
	if fileKey != "" {
		source = s.byFileType[fileKey][t]
	} else {
		source = s.byType[t]
	}

	var victims []*Record
	for _, rec := range source {
		if page > 0 && rec.Page != page {
			continue
		}
		victims = append(victims, rec)
	}
	return victims
}

// RemoveByText deletes all records whose Text matches exactly,
// optionally restricted to one file. Returns the count removed.
func (s *Store) RemoveByText(text string, fileKey string) int {
	s.mu.Lock()
	var victims []*Record
	for _, rec := range s.candidatesLocked(fileKey) {
		if rec.Text == text {
			victims = append(victims, rec)
		}
	}
	for _, rec := range victims {
		s.unindexLocked(rec)
	}
	s.mu.Unlock()
	return s.finishBulkRemove("remove_by_text", "", victims)
}

// RemoveByEntityType deletes all ENTITY records carrying the given
// entity label, optionally restricted to one file. SEARCH and MANUAL
// records are never touched. Returns the count removed.
func (s *Store) RemoveByEntityType(entityType string, fileKey string) int {
	s.mu.Lock()
	var source map[string]*Record
	if fileKey != "" {
		source = s.byFileType[fileKey][TypeEntity]
	} else {
		source = s.byType[TypeEntity]
	}
	var victims []*Record
	for _, rec := range source {
		if rec.Entity == entityType {
			victims = append(victims, rec)
		}
	}
	for _, rec := range victims {
		s.unindexLocked(rec)
	}
	s.mu.Unlock()
	return s.finishBulkRemove("remove_by_entity", TypeEntity, victims)
}

// RemoveByFile deletes every record belonging to a file. Returns the
// count removed.
func (s *Store) RemoveByFile(fileKey string) int {
	s.mu.Lock()
	var victims []*Record
	for _, ids := range s.byFilePage[fileKey] {
		for _, rec := range ids {
			victims = append(victims, rec)
		}
	}
	for _, rec := range victims {
		s.unindexLocked(rec)
	}
	s.mu.Unlock()
	return s.finishBulkRemove("remove_by_file", "", victims)
}

// candidatesLocked returns the record set to scan for cross-type
// filters: one file's records via the per-file index, or all records.
// Caller holds mu.
func (s *Store) candidatesLocked(fileKey string) []*Record {
	var out []*Record
	if fileKey != "" {
		for _, ids := range s.byFilePage[fileKey] {
			for _, rec := range ids {
				out = append(out, rec)
			}
		}
		return out
	}
	for _, rec := range s.byID {
		out = append(out, rec)
	}
	return out
}

func (s *Store) finishBulkRemove(operation string, t Type, victims []*Record) int {
	if len(victims) == 0 {
		s.metrics.RecordStoreOperation(operation, string(t), "noop")
		return 0
	}
	for _, rec := range victims {
		s.persistDelete(rec.ID)
	}
	s.metrics.RecordStoreOperation(operation, string(t), "success")
	s.updateSizeGauges()
	s.notifyChanged()
	return len(victims)
}

func (s *Store) updateSizeGauges() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	counts := make(map[Type]int, len(AllTypes))
	for _, t := range AllTypes {
		counts[t] = len(s.byType[t])
	}
	s.mu.RUnlock()
	for t, n := range counts {
		s.metrics.SetStoreSize(string(t), n)
	}
}

// GetForPage returns defensive copies of all records on a page. An empty
// fileKey returns the page's records across every file.
func (s *Store) GetForPage(page int, fileKey string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	if fileKey != "" {
		for _, rec := range s.byFilePage[fileKey][page] {
			out = append(out, rec.Clone())
		}
		return out
	}
	for _, pages := range s.byFilePage {
		for _, rec := range pages[page] {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Get returns a copy of one record, or nil when absent.
func (s *Store) Get(id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone()
}

// FindByPosition returns copies of records on the given page whose
// centers lie within tolerance of the query rectangle's center on both
// axes. An empty fileKey searches across all files, which is how
// "delete this highlight at the same spot in every file" works after a
// found-word search.
func (s *Store) FindByPosition(page int, query geom.Rect, tolerance float64, fileKey string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(rec *Record) bool {
		return rec.Page == page && rec.Rect.CenterWithin(query, tolerance)
	}

	var out []*Record
	if fileKey != "" {
		for _, rec := range s.byFilePage[fileKey][page] {
			if match(rec) {
				out = append(out, rec.Clone())
			}
		}
		return out
	}
	for _, pages := range s.byFilePage {
		for _, rec := range pages[page] {
			if match(rec) {
				out = append(out, rec.Clone())
			}
		}
	}
	return out
}

// GetByType returns defensive copies of all records of one type,
// optionally restricted to a file (fileKey != "").
func (s *Store) GetByType(t Type, fileKey string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var source map[string]*Record
	if fileKey != "" {
		source = s.byFileType[fileKey][t]
	} else {
		source = s.byType[t]
	}
	out := make([]*Record, 0, len(source))
	for _, rec := range source {
		out = append(out, rec.Clone())
	}
	return out
}

// SetSelected updates a record's selection state. Returns false when the
// record does not exist.
func (s *Store) SetSelected(id string, selected bool) bool {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if ok {
		rec.Selected = selected
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.notifyChanged()
	return true
}

// RescaleFile sets every record of a file to its original geometry
// scaled by factor. Used on zoom changes; repeated calls never compound
// because scaling always derives from the first-seen snapshot.
func (s *Store) RescaleFile(fileKey string, factor float64) int {
	s.mu.Lock()
	var changed []*Record
	for _, ids := range s.byFilePage[fileKey] {
		for _, rec := range ids {
			rec.ScaleTo(factor)
			changed = append(changed, rec)
		}
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return 0
	}
	for _, rec := range changed {
		s.persistPut(rec.Clone())
	}
	s.notifyChanged()
	return len(changed)
}

// CountByType returns the number of stored records per type, optionally
// restricted to one file. Used for UI badges.
func (s *Store) CountByType(fileKey string) map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Type]int, len(AllTypes))
	for _, t := range AllTypes {
		if fileKey != "" {
			out[t] = len(s.byFileType[fileKey][t])
		} else {
			out[t] = len(s.byType[t])
		}
	}
	return out
}

// Hydrate loads persisted records for a file back into memory, skipping
// IDs already present. Returns the number of records restored.
func (s *Store) Hydrate(ctx context.Context, fileKey string) int {
	if s.persist == nil {
		return 0
	}
	recs, err := s.persist.GetByFile(ctx, fileKey)
	if err != nil {
		s.logger.Warn("failed to hydrate highlights from persistent store",
			"file_key", fileKey,
			"error", err)
		s.metrics.RecordPersistError("get_by_file")
		return 0
	}

	restored := 0
	s.mu.Lock()
	for _, rec := range recs {
		if rec == nil || rec.ID == "" || !rec.Type.Valid() {
			continue
		}
		if _, exists := s.byID[rec.ID]; exists {
			continue
		}
		s.indexLocked(rec.Clone())
		restored++
	}
	s.mu.Unlock()

	if restored > 0 {
		s.updateSizeGauges()
		s.notifyChanged()
	}
	return restored
}

// persistPut mirrors an insert/update to the durable store without
// blocking the caller. Failures are logged only.
func (s *Store) persistPut(rec *Record) {
	if s.persist == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persist.Put(ctx, rec); err != nil {
			s.logger.Warn("failed to persist highlight",
				"id", rec.ID,
				"file_key", rec.FileKey,
				"error", err)
			s.metrics.RecordPersistError("put")
		}
	}()
}

// persistDelete mirrors a delete to the durable store without blocking
// the caller. Failures are logged only.
func (s *Store) persistDelete(id string) {
	if s.persist == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persist.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete persisted highlight",
				"id", id,
				"error", err)
			s.metrics.RecordPersistError("delete")
		}
	}()
}

// Flush waits for in-flight persistence mirror writes. Intended for
// shutdown and tests.
func (s *Store) Flush() {
	s.wg.Wait()
}
