package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/logging"
)

// DefaultScope is the owner scope of sessions staged without one.
const DefaultScope = "default"

// ServiceConfig tunes the pipeline.
type ServiceConfig struct {
	Limits          ParseLimits
	PreviewRows     int
	DefaultPageSize int
	MaxPageSize     int
	Workers         int
	MaxStages       int
	StageWaitTime   time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.PreviewRows <= 0 {
		c.PreviewRows = 20
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 500
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// Service is the entry point for every import operation.
type Service struct {
	schema  *Schema
	store   *SessionStore
	engine  *CommitEngine
	limiter *StageLimiter
	cfg     ServiceConfig
}

// NewService wires the pipeline around a session store and commit engine.
func NewService(schema *Schema, store *SessionStore, engine *CommitEngine, cfg ServiceConfig) *Service {
	cfg.applyDefaults()
	return &Service{
		schema:  schema,
		store:   store,
		engine:  engine,
		limiter: NewStageLimiter(cfg.MaxStages, cfg.StageWaitTime),
		cfg:     cfg,
	}
}

// Schema returns the target field schema.
func (s *Service) Schema() []TargetField {
	return s.schema.Fields()
}

// StageRequest is an uploaded file to stage.
type StageRequest struct {
	Data     []byte
	FileName string
	Scope    string
}

// StageResult is returned by Stage.
type StageResult struct {
	ImportID         string        `json:"import_id"`
	Scope            string        `json:"scope"`
	Headers          []string      `json:"headers"`
	SuggestedMapping Mapping       `json:"suggested_mapping"`
	Stats            ImportStats   `json:"stats"`
	PreviewRows      []StagedRow   `json:"preview_rows"`
	Schema           []TargetField `json:"schema"`
	ByteSize         int64         `json:"byte_size"`
}

// Stage parses a file, infers a mapping, validates every row and opens a
// session. On ErrMalformedInput no session is created.
func (s *Service) Stage(ctx context.Context, req StageRequest) (res *StageResult, err error) {
	start := time.Now()
	defer func() { observeOp("stage", start, err) }()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	parsed, err := Parse(req.Data, s.cfg.Limits)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	mapping := InferMapping(parsed.Headers, s.schema)
	sess := newSession(s.schema, sessionParams{
		ID:        uuid.NewString(),
		Scope:     scope,
		FileName:  req.FileName,
		CreatedAt: time.Now().UTC(),
		Parsed:    parsed,
		Mapping:   mapping,
		Workers:   s.cfg.Workers,
	})
	if err := s.store.Add(ctx, sess); err != nil {
		return nil, err
	}
	getMetrics().activeSession.Set(float64(s.store.Len()))

	stats := sess.Stats()
	recordStagedRows(stats)

	logging.WithFields(ctx, "import_id", sess.ID, "scope", scope).Info("import staged",
		"file", req.FileName,
		"size", humanize.Bytes(uint64(parsed.ByteSize)),
		"rows", stats.TotalRows,
		"valid", stats.ValidRows,
		"invalid", stats.InvalidRows,
		"truncated", stats.Truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &StageResult{
		ImportID:         sess.ID,
		Scope:            scope,
		Headers:          sess.Headers(),
		SuggestedMapping: mapping.Clone(),
		Stats:            stats,
		PreviewRows:      sess.ListRows(1, s.cfg.PreviewRows, FilterAll).Rows,
		Schema:           s.schema.Fields(),
		ByteSize:         parsed.ByteSize,
	}, nil
}

// RemapResult is returned by Remap.
type RemapResult struct {
	Stats       ImportStats `json:"stats"`
	PreviewRows []StagedRow `json:"preview_rows"`
}

// Remap replaces the session mapping and revalidates every row.
func (s *Service) Remap(ctx context.Context, importID string, mapping Mapping) (res *RemapResult, err error) {
	start := time.Now()
	defer func() { observeOp("remap", start, err) }()

	sess, release, err := s.store.Acquire(ctx, importID)
	if err != nil {
		return nil, err
	}
	defer release()

	stats, err := sess.Remap(mapping, s.cfg.Workers, s.store.persister(ctx))
	if err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "import_id", importID).Info("import remapped",
		"valid", stats.ValidRows,
		"invalid", stats.InvalidRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &RemapResult{
		Stats:       stats,
		PreviewRows: sess.ListRows(1, s.cfg.PreviewRows, FilterAll).Rows,
	}, nil
}

// ListRows returns one page of staged rows. pageSize is clamped to the
// configured maximum; zero selects the default.
func (s *Service) ListRows(ctx context.Context, importID string, page, pageSize int, filter RowFilter) (*Page, error) {
	sess, err := s.store.Get(ctx, importID)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	pageSize = min(pageSize, s.cfg.MaxPageSize)

	p := sess.ListRows(page, pageSize, filter)
	return &p, nil
}

// EditResult is returned by EditRow.
type EditResult struct {
	Row   StagedRow   `json:"row"`
	Stats ImportStats `json:"stats"`
}

// EditRow replaces the mapped field values of one row and revalidates it.
func (s *Service) EditRow(ctx context.Context, importID string, index int, values map[string]string) (res *EditResult, err error) {
	start := time.Now()
	defer func() { observeOp("edit", start, err) }()

	sess, release, err := s.store.Acquire(ctx, importID)
	if err != nil {
		return nil, err
	}
	defer release()

	row, stats, err := sess.EditRow(index, values, s.store.persister(ctx))
	if err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "import_id", importID).Debug("import row edited",
		"row", index,
		"valid", row.Valid,
	)

	return &EditResult{Row: row, Stats: stats}, nil
}

// Commit writes the session's valid rows into the catalog and closes the
// session. Row-level failures are reported, not returned.
func (s *Service) Commit(ctx context.Context, importID string, opts CommitOptions) (report *CommitReport, err error) {
	start := time.Now()
	defer func() { observeOp("commit", start, err) }()

	sess, release, err := s.store.Acquire(ctx, importID)
	if err != nil {
		return nil, err
	}
	defer release()

	report, err = s.engine.Commit(ctx, sess, opts, s.store.persister(ctx))
	if err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "import_id", importID, "scope", report.Scope).Info("import committed",
		"mode", report.Mode,
		"strategy", report.Strategy,
		"created", report.Created,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)

	return report, nil
}

// ExportErrors writes the session's invalid rows as CSV and returns how many
// rows were written.
func (s *Service) ExportErrors(ctx context.Context, importID string, w io.Writer) (int, error) {
	sess, err := s.store.Get(ctx, importID)
	if err != nil {
		return 0, err
	}
	n, err := ExportErrors(sess, w)
	if err != nil {
		return n, fmt.Errorf("export errors for %s: %w", importID, err)
	}
	return n, nil
}

// Summary describes a session without its rows.
func (s *Service) Summary(ctx context.Context, importID string) (*SessionSummary, error) {
	sess, err := s.store.Get(ctx, importID)
	if err != nil {
		return nil, err
	}
	sum := sess.Summary()
	return &sum, nil
}

// Discard drops a session that has no operation in flight.
func (s *Service) Discard(ctx context.Context, importID string) error {
	sess, release, err := s.store.Acquire(ctx, importID)
	if err != nil {
		return err
	}
	defer release()

	if !sess.tryExpire(time.Time{}) {
		return ErrSessionBusy
	}
	if err := s.store.Remove(ctx, importID); err != nil {
		return err
	}
	getMetrics().activeSession.Set(float64(s.store.Len()))

	logging.WithFields(ctx, "import_id", importID).Info("import discarded")
	return nil
}

// StageLimiterStatus returns the stage limiter state.
func (s *Service) StageLimiterStatus() StageLimiterStatus {
	return s.limiter.Status()
}

// WaitForStages blocks until in-flight stages finish or ctx is done.
func (s *Service) WaitForStages(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
