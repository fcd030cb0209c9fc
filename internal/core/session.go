package core

// session.go holds one import session's staged rows.
//
// Two locks guard a session:
//   - op serializes mutations (remap, edit, commit). It is only ever
//     TryLock'd, so a second concurrent mutation fails with ErrSessionBusy
//     instead of queueing.
//   - mu guards the row set. Mutations compute their result without mu and
//     swap it in under a short write lock, so readers always observe the
//     state after the last completed mutation.
//
// Headers, records and mapping are only replaced while op is held, so a
// mutation may read them without taking mu.

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// revalidateChunk is the number of rows one revalidation worker handles.
const revalidateChunk = 500

// Session is the staging area for one uploaded file.
type Session struct {
	ID        string
	Scope     string
	FileName  string
	CreatedAt time.Time

	schema *Schema

	op sync.Mutex

	mu        sync.RWMutex
	headers   []string
	records   []RawRecord
	byIndex   map[int]int
	rows      []StagedRow
	mapping   Mapping
	reserved  map[string]int
	stats     ImportStats
	byteSize  int64
	revision  int64
	state     SessionState
	expired   bool
	lastTouch atomic.Int64
}

// SessionSummary describes a session without its rows.
type SessionSummary struct {
	ID        string       `json:"import_id"`
	Scope     string       `json:"scope"`
	FileName  string       `json:"file_name,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Headers   []string     `json:"headers"`
	Mapping   Mapping      `json:"mapping"`
	Stats     ImportStats  `json:"stats"`
	ByteSize  int64        `json:"byte_size"`
	Revision  int64        `json:"revision"`
	State     SessionState `json:"state"`
}

// Snapshot is the durable form of a session. Rows are not stored; they are
// rebuilt from records and mapping on restore.
type Snapshot struct {
	ID           string         `json:"id"`
	Scope        string         `json:"scope"`
	FileName     string         `json:"file_name,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Headers      []string       `json:"headers"`
	Records      []RawRecord    `json:"records"`
	Mapping      Mapping        `json:"mapping"`
	Reserved     map[string]int `json:"reserved,omitempty"`
	ByteSize     int64          `json:"byte_size"`
	Truncated    bool           `json:"truncated"`
	Revision     int64          `json:"revision"`
	State        SessionState   `json:"state"`
}

// persistFunc durably records a session state before it is applied.
type persistFunc func(*Snapshot) error

// sessionParams seeds a new session.
type sessionParams struct {
	ID        string
	Scope     string
	FileName  string
	CreatedAt time.Time
	Parsed    *ParseResult
	Mapping   Mapping
	Workers   int
}

func newSession(schema *Schema, p sessionParams) *Session {
	s := &Session{
		ID:        p.ID,
		Scope:     p.Scope,
		FileName:  p.FileName,
		CreatedAt: p.CreatedAt,
		schema:    schema,
		headers:   p.Parsed.Headers,
		reserved:  ReservedColumns(p.Parsed.Headers, schema),
		byteSize:  p.Parsed.ByteSize,
		state:     StateOpen,
	}
	s.initialize(p.Parsed.Records, p.Mapping, p.Parsed.Stats.Truncated, p.Workers)
	s.touch()
	return s
}

func restoreSession(schema *Schema, snap *Snapshot, workers int) *Session {
	s := &Session{
		ID:        snap.ID,
		Scope:     snap.Scope,
		FileName:  snap.FileName,
		CreatedAt: snap.CreatedAt,
		schema:    schema,
		headers:   snap.Headers,
		reserved:  snap.Reserved,
		byteSize:  snap.ByteSize,
		revision:  snap.Revision,
		state:     snap.State,
	}
	if s.reserved == nil {
		s.reserved = ReservedColumns(snap.Headers, schema)
	}
	s.initialize(snap.Records, snap.Mapping, snap.Truncated, workers)
	s.touch()
	return s
}

// initialize validates every record and computes stats.
func (s *Session) initialize(records []RawRecord, mapping Mapping, truncated bool, workers int) {
	rows := revalidate(s.schema, mapping, records, workers)
	byIndex := make(map[int]int, len(records))
	for i, r := range records {
		byIndex[r.Index] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.byIndex = byIndex
	s.rows = rows
	s.mapping = mapping.Clone()
	s.stats = computeStats(rows, truncated)
}

// revalidate runs Validate over records in parallel chunks, preserving order.
func revalidate(schema *Schema, mapping Mapping, records []RawRecord, workers int) []StagedRow {
	rows := make([]StagedRow, len(records))
	if workers <= 1 || len(records) <= revalidateChunk {
		for i, rec := range records {
			rows[i] = Validate(schema, mapping, rec)
		}
		return rows
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(records); start += revalidateChunk {
		end := min(start+revalidateChunk, len(records))
		g.Go(func() error {
			for i := start; i < end; i++ {
				rows[i] = Validate(schema, mapping, records[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func computeStats(rows []StagedRow, truncated bool) ImportStats {
	st := ImportStats{TotalRows: len(rows), Truncated: truncated}
	for _, r := range rows {
		if r.Valid {
			st.ValidRows++
		} else {
			st.InvalidRows++
		}
	}
	return st
}

func (s *Session) touch() {
	s.lastTouch.Store(time.Now().UnixNano())
}

// LastActivity returns when the session was last read or mutated.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastTouch.Load())
}

// beginMutation claims the session for one mutating operation.
func (s *Session) beginMutation() (release func(), err error) {
	if !s.op.TryLock() {
		return nil, ErrSessionBusy
	}
	if s.expired {
		s.op.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.state == StateCommitted {
		s.op.Unlock()
		return nil, ErrAlreadyCommitted
	}
	s.touch()
	return func() {
		s.touch()
		s.op.Unlock()
	}, nil
}

// tryExpire marks the session expired unless a mutation is in flight or the
// session was active after cutoff. A zero cutoff skips the activity check.
func (s *Session) tryExpire(cutoff time.Time) bool {
	if !s.op.TryLock() {
		return false
	}
	defer s.op.Unlock()
	if !cutoff.IsZero() && s.LastActivity().After(cutoff) {
		return false
	}
	s.expired = true
	return true
}

// snapshot builds the durable form of the session. Caller holds op.
func (s *Session) snapshot(records []RawRecord, mapping Mapping, revision int64, state SessionState) *Snapshot {
	return &Snapshot{
		ID:           s.ID,
		Scope:        s.Scope,
		FileName:     s.FileName,
		CreatedAt:    s.CreatedAt,
		LastActivity: time.Now().UTC(),
		Headers:      s.headers,
		Records:      records,
		Mapping:      mapping,
		Reserved:     s.reserved,
		ByteSize:     s.byteSize,
		Truncated:    s.stats.Truncated,
		Revision:     revision,
		State:        state,
	}
}

// Remap replaces the mapping and revalidates every row. The new state is
// persisted, then swapped in as a whole.
func (s *Session) Remap(mapping Mapping, workers int, persist persistFunc) (ImportStats, error) {
	release, err := s.beginMutation()
	if err != nil {
		return ImportStats{}, err
	}
	defer release()

	if err := ValidateMapping(mapping, s.headers, s.schema); err != nil {
		return ImportStats{}, err
	}
	mapping = mapping.Clone()

	rows := revalidate(s.schema, mapping, s.records, workers)
	stats := computeStats(rows, s.stats.Truncated)

	if persist != nil {
		if err := persist(s.snapshot(s.records, mapping, s.revision+1, s.state)); err != nil {
			return ImportStats{}, err
		}
	}

	s.mu.Lock()
	s.mapping = mapping
	s.rows = rows
	s.stats = stats
	s.revision++
	s.mu.Unlock()

	return stats, nil
}

// EditRow replaces the mapped field values of one row and revalidates it.
// values must only name fields in the current mapping; mapped fields missing
// from values are cleared.
func (s *Session) EditRow(index int, values map[string]string, persist persistFunc) (StagedRow, ImportStats, error) {
	release, err := s.beginMutation()
	if err != nil {
		return StagedRow{}, ImportStats{}, err
	}
	defer release()

	pos, ok := s.byIndex[index]
	if !ok {
		return StagedRow{}, ImportStats{}, ErrRowNotFound
	}

	for key := range values {
		f, known := s.schema.Field(key)
		switch {
		case !known:
			return StagedRow{}, ImportStats{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
		case f.Reserved:
			return StagedRow{}, ImportStats{}, fmt.Errorf("%w: %q", ErrReservedField, key)
		case !s.mapping.Mapped(key):
			return StagedRow{}, ImportStats{}, fmt.Errorf("%w: %q", ErrFieldNotMapped, key)
		}
	}

	rec := s.records[pos].clone()
	if len(rec.Cells) < len(s.headers) {
		rec.Cells = append(rec.Cells, make([]string, len(s.headers)-len(rec.Cells))...)
	}
	for col, key := range s.mapping {
		if key != "" {
			// Edits are taken as typed; only parsed cells are unwrapped.
			rec.Cells[col] = strings.TrimSpace(values[key])
		}
	}

	row := Validate(s.schema, s.mapping, rec)
	stats := s.stats
	if old := s.rows[pos].Valid; old != row.Valid {
		if row.Valid {
			stats.ValidRows++
			stats.InvalidRows--
		} else {
			stats.ValidRows--
			stats.InvalidRows++
		}
	}

	records := slices.Clone(s.records)
	records[pos] = rec

	if persist != nil {
		if err := persist(s.snapshot(records, s.mapping, s.revision+1, s.state)); err != nil {
			return StagedRow{}, ImportStats{}, err
		}
	}

	s.mu.Lock()
	s.records = records
	s.rows[pos] = row
	s.stats = stats
	s.revision++
	s.mu.Unlock()

	return row, stats, nil
}

// ListRows returns one page of rows matching filter, in index order.
// Filtering happens before pagination.
func (s *Session) ListRows(page, pageSize int, filter RowFilter) Page {
	s.touch()
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]StagedRow, 0, len(s.rows))
	for _, r := range s.rows {
		if filter.match(r) {
			matched = append(matched, r)
		}
	}

	total := len(matched)
	p := Page{
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  total,
		TotalPages: (total + pageSize - 1) / pageSize,
		Rows:       []StagedRow{},
	}
	start := (page - 1) * pageSize
	if start < total {
		end := min(start+pageSize, total)
		p.Rows = matched[start:end]
	}
	return p
}

// Row returns the row with the given index.
func (s *Session) Row(index int) (StagedRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byIndex[index]
	if !ok {
		return StagedRow{}, ErrRowNotFound
	}
	return s.rows[pos], nil
}

// Stats returns the current stats.
func (s *Session) Stats() ImportStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Mapping returns a copy of the current mapping.
func (s *Session) Mapping() Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapping.Clone()
}

// Headers returns the file's header row.
func (s *Session) Headers() []string {
	return slices.Clone(s.headers)
}

// Revision returns the number of mutations applied since staging.
func (s *Session) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Summary describes the session without its rows.
func (s *Session) Summary() SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSummary{
		ID:        s.ID,
		Scope:     s.Scope,
		FileName:  s.FileName,
		CreatedAt: s.CreatedAt,
		Headers:   slices.Clone(s.headers),
		Mapping:   s.mapping.Clone(),
		Stats:     s.stats,
		ByteSize:  s.byteSize,
		Revision:  s.revision,
		State:     s.state,
	}
}

// view is a consistent read of rows with their raw records.
type view struct {
	headers []string
	records []RawRecord
	rows    []StagedRow
}

func (s *Session) view() view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{
		headers: s.headers,
		records: s.records,
		rows:    slices.Clone(s.rows),
	}
}

// markCommitted closes the session. Caller holds op.
func (s *Session) markCommitted() {
	s.mu.Lock()
	s.state = StateCommitted
	s.revision++
	s.mu.Unlock()
}
