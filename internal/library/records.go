package library

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/zimshelf/internal/domain"
)

// Snapshot is an immutable view of the archive records.
type Snapshot struct {
	records map[string]domain.ArchiveRecord
	ids     []string // Sorted
}

func emptySnapshot() *Snapshot {
	return &Snapshot{records: map[string]domain.ArchiveRecord{}}
}

// Get returns the record with id.
func (s *Snapshot) Get(id string) (domain.ArchiveRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// All returns every record ordered by id. Records share byte slices with
// the snapshot and must not be mutated.
func (s *Snapshot) All() []domain.ArchiveRecord {
	out := make([]domain.ArchiveRecord, len(s.ids))
	for i, id := range s.ids {
		out[i] = s.records[id]
	}
	return out
}

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.ids) }

// Store is the archive record table. Writes are serialized; reads load the
// current immutable snapshot and never wait on writers.
type Store struct {
	persist domain.Store // May be nil
	bus     domain.Publisher
	logger  *slog.Logger

	mu       sync.Mutex // Single writer
	revision uint64
	snap     atomic.Pointer[Snapshot]
}

// NewStore creates an empty record store.
func NewStore(persist domain.Store, bus domain.Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persist: persist, bus: bus, logger: logger}
	s.snap.Store(emptySnapshot())
	return s
}

// Load restores persisted records without publishing events.
// It returns the restored ids so the bus can be seeded with them.
func (s *Store) Load() ([]string, error) {
	if s.persist == nil {
		return nil, nil
	}
	recs, err := s.persist.LoadArchives()
	if err != nil {
		return nil, fmt.Errorf("failed to load archives: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Snapshot{records: make(map[string]domain.ArchiveRecord, len(recs))}
	for _, rec := range recs {
		if strings.TrimSpace(rec.ID) == "" || !rec.OnDeviceState.Valid() {
			s.logger.Warn("skipping corrupt archive record", "id", rec.ID, "state", rec.OnDeviceState)
			continue
		}
		next.records[rec.ID] = rec
		if rec.Revision > s.revision {
			s.revision = rec.Revision
		}
	}
	next.ids = sortedIDs(next.records)
	s.snap.Store(next)

	s.logger.Debug("loaded archives", "count", len(next.ids))
	return next.ids, nil
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Get returns the record with id.
func (s *Store) Get(id string) (domain.ArchiveRecord, bool) {
	return s.snap.Load().Get(id)
}

// All returns a snapshot of every record ordered by id.
func (s *Store) All() []domain.ArchiveRecord {
	return s.snap.Load().All()
}

// Len returns the number of records.
func (s *Store) Len() int {
	return s.snap.Load().Len()
}

// Upsert inserts rec or merges it into the stored record with the same id.
func (s *Store) Upsert(rec domain.ArchiveRecord, opts ...domain.UpsertOption) error {
	return s.UpsertBatch([]domain.ArchiveRecord{rec}, opts...)
}

type change struct {
	inserted bool
	fields   []domain.Field
}

// UpsertBatch applies recs atomically: if any record is invalid nothing is
// written. Repeated updates to one id inside the batch produce a single
// Updated event.
func (s *Store) UpsertBatch(recs []domain.ArchiveRecord, opts ...domain.UpsertOption) error {
	var o domain.UpsertOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	working := make(map[string]domain.ArchiveRecord)
	changes := make(map[string]*change)
	var order []string

	for _, in := range recs {
		in = in.Clone()
		in.ID = strings.TrimSpace(in.ID)
		if in.ID == "" {
			return &domain.ValidationError{Field: "id", Value: in.ID, Reason: "must not be empty"}
		}

		existing, ok := working[in.ID]
		if !ok {
			existing, ok = cur.records[in.ID]
		}

		if !ok && (o.ExistingOnly || o.If != nil) {
			continue
		}
		if ok && o.If != nil && !o.If(existing) {
			continue
		}

		var merged domain.ArchiveRecord
		var fields []domain.Field
		var err error
		if ok {
			merged, fields, err = s.merge(existing, in, o)
		} else {
			merged, err = newRecord(in)
		}
		if err != nil {
			return err
		}

		c, seen := changes[in.ID]
		if !seen {
			c = &change{}
			if _, existed := cur.records[in.ID]; !existed {
				c.inserted = true
			}
		}
		if !ok || len(fields) > 0 {
			if !seen {
				changes[in.ID] = c
				order = append(order, in.ID)
			}
			c.fields = appendFields(c.fields, fields...)
			working[in.ID] = merged
		}
	}

	if len(order) == 0 {
		return nil
	}

	next := &Snapshot{records: make(map[string]domain.ArchiveRecord, len(cur.records)+len(order))}
	for id, rec := range cur.records {
		next.records[id] = rec
	}
	dirty := make([]domain.ArchiveRecord, 0, len(order))
	inserted := false
	for _, id := range order {
		rec := working[id]
		s.revision++
		rec.Revision = s.revision
		next.records[id] = rec
		dirty = append(dirty, rec)
		if changes[id].inserted {
			inserted = true
		}
	}
	if inserted {
		next.ids = sortedIDs(next.records)
	} else {
		next.ids = cur.ids
	}
	s.snap.Store(next)

	if s.persist != nil {
		if err := s.persist.SaveArchives(dirty); err != nil {
			s.logger.Error("failed to save archives", "error", err, "count", len(dirty))
		}
	}

	for _, id := range order {
		c := changes[id]
		if c.inserted {
			s.publish(domain.Inserted(domain.EntityArchive, id))
		} else {
			s.publish(domain.Updated(domain.EntityArchive, id, c.fields...))
		}
	}
	return nil
}

// Remove deletes the records with the given ids. Unknown ids are ignored.
func (s *Store) Remove(ids ...string) {
	s.RemoveIf(ids, nil)
}

// RemoveIf deletes the records with the given ids whose current value
// passes fn, checked under the writer lock. A nil fn removes every known
// id. It returns the removed ids.
func (s *Store) RemoveIf(ids []string, fn func(current domain.ArchiveRecord) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	var gone []string
	for _, id := range ids {
		rec, ok := cur.records[id]
		if ok && (fn == nil || fn(rec)) {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return nil
	}

	next := &Snapshot{records: make(map[string]domain.ArchiveRecord, len(cur.records))}
	for id, rec := range cur.records {
		next.records[id] = rec
	}
	for _, id := range gone {
		delete(next.records, id)
	}
	next.ids = sortedIDs(next.records)
	s.snap.Store(next)

	for _, id := range gone {
		if s.persist != nil {
			if err := s.persist.DeleteArchive(id); err != nil {
				s.logger.Error("failed to delete archive", "error", err, "id", id)
			}
		}
		s.publish(domain.Removed(domain.EntityArchive, id))
	}
	s.logger.Debug("removed archives", "count", len(gone))
	return gone
}

func (s *Store) publish(event domain.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

// newRecord validates a record seen for the first time.
func newRecord(in domain.ArchiveRecord) (domain.ArchiveRecord, error) {
	if in.OnDeviceState == domain.StateUnknown {
		if in.FilePath != "" {
			in.OnDeviceState = domain.StateLocal
		} else {
			in.OnDeviceState = domain.StateCloud
		}
	}
	if !in.OnDeviceState.Valid() {
		return in, &domain.ValidationError{Field: "state", Value: string(in.OnDeviceState), Reason: "unknown state"}
	}
	if in.OnDeviceState == domain.StateLocal && in.FilePath == "" {
		return in, &domain.ValidationError{Field: "filePath", Value: in.ID, Reason: "local archive requires a file path"}
	}
	if in.OnDeviceState != domain.StateLocal && in.FilePath != "" {
		return in, &domain.ValidationError{Field: "filePath", Value: in.FilePath, Reason: "only local archives have a file path"}
	}
	in.Revision = 0
	return in, nil
}

// allowedTransition reports whether a record may move from one state to another.
func allowedTransition(from, to domain.OnDeviceState, o domain.UpsertOptions) bool {
	if from == to {
		return true
	}
	switch {
	case from == domain.StateCloud && to == domain.StateLocal:
		return true
	case from == domain.StateLocal && to == domain.StateMissing:
		return true
	case from == domain.StateMissing && to == domain.StateLocal:
		return true
	case from == domain.StateMissing && to == domain.StateCloud:
		return o.Resync
	}
	return false
}

// merge overlays the provided fields of in onto cur.
func (s *Store) merge(cur, in domain.ArchiveRecord, o domain.UpsertOptions) (domain.ArchiveRecord, []domain.Field, error) {
	out := cur
	var fields []domain.Field

	// The catalog does not know what is on this device
	if o.Resync && cur.OnDeviceState == domain.StateLocal {
		if in.OnDeviceState == domain.StateCloud {
			in.OnDeviceState = domain.StateUnknown
		}
		in.SizeBytes = 0
	}

	if in.Title != "" && in.Title != cur.Title {
		out.Title = in.Title
		fields = append(fields, domain.FieldTitle)
	}
	if in.LanguageCode != "" && in.LanguageCode != cur.LanguageCode {
		out.LanguageCode = in.LanguageCode
		fields = append(fields, domain.FieldLanguage)
	}
	if in.SizeBytes != 0 && in.SizeBytes != cur.SizeBytes {
		out.SizeBytes = in.SizeBytes
		fields = append(fields, domain.FieldSize)
	}
	if !in.CreationDate.IsZero() {
		if cur.CreationDate.IsZero() {
			out.CreationDate = in.CreationDate
			fields = append(fields, domain.FieldCreationDate)
		} else if !in.CreationDate.Equal(cur.CreationDate) {
			s.logger.Debug("ignoring creation date change", "id", cur.ID)
		}
	}
	if in.ArticleCount != nil && (cur.ArticleCount == nil || *cur.ArticleCount != *in.ArticleCount) {
		out.ArticleCount = in.ArticleCount
		fields = append(fields, domain.FieldArticleCount)
	}
	if len(in.FaviconBytes) > 0 && !bytes.Equal(in.FaviconBytes, cur.FaviconBytes) {
		out.FaviconBytes = in.FaviconBytes
		fields = append(fields, domain.FieldFavicon)
	}

	if in.OnDeviceState != domain.StateUnknown && in.OnDeviceState != cur.OnDeviceState {
		if !in.OnDeviceState.Valid() {
			return cur, nil, &domain.ValidationError{Field: "state", Value: string(in.OnDeviceState), Reason: "unknown state"}
		}
		if !allowedTransition(cur.OnDeviceState, in.OnDeviceState, o) {
			return cur, nil, &domain.ValidationError{
				Field:  "state",
				Value:  string(in.OnDeviceState),
				Reason: fmt.Sprintf("transition from %s is not allowed", cur.OnDeviceState),
			}
		}
		out.OnDeviceState = in.OnDeviceState
		fields = append(fields, domain.FieldOnDeviceState)
		if out.OnDeviceState != domain.StateLocal && out.FilePath != "" {
			out.FilePath = ""
			fields = append(fields, domain.FieldFilePath)
		}
	}

	if in.FilePath != "" && in.FilePath != out.FilePath {
		if out.OnDeviceState != domain.StateLocal {
			return cur, nil, &domain.ValidationError{Field: "filePath", Value: in.FilePath, Reason: "only local archives have a file path"}
		}
		out.FilePath = in.FilePath
		fields = append(fields, domain.FieldFilePath)
	}
	if out.OnDeviceState == domain.StateLocal && out.FilePath == "" {
		return cur, nil, &domain.ValidationError{Field: "filePath", Value: cur.ID, Reason: "local archive requires a file path"}
	}

	return out, fields, nil
}

func appendFields(dst []domain.Field, fields ...domain.Field) []domain.Field {
	for _, f := range fields {
		dup := false
		for _, d := range dst {
			if d == f {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, f)
		}
	}
	return dst
}

func sortedIDs(records map[string]domain.ArchiveRecord) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
