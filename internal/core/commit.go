package core

// commit.go writes a session's valid rows into the catalog.
//
// Every currently-valid row is attempted in index order. A row that fails to
// match or write is recorded in the report and the commit moves on; nothing
// is rolled back. Once a commit has run the session is closed and further
// commits fail with ErrAlreadyCommitted.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CommitEngine applies staged rows to a Catalog.
type CommitEngine struct {
	schema   *Schema
	catalog  Catalog
	recorder CommitRecorder
}

// NewCommitEngine creates a commit engine. recorder may be nil.
func NewCommitEngine(schema *Schema, catalog Catalog, recorder CommitRecorder) *CommitEngine {
	return &CommitEngine{
		schema:   schema,
		catalog:  catalog,
		recorder: recorder,
	}
}

// resolvedCommit is a validated CommitOptions.
type resolvedCommit struct {
	mode     CommitMode
	strategy MatchStrategy
	scope    string
	defaults map[string]Value
}

func (e *CommitEngine) resolve(s *Session, opts CommitOptions) (resolvedCommit, error) {
	rc := resolvedCommit{mode: opts.Mode, strategy: opts.Strategy, scope: opts.Scope}
	if rc.scope == "" {
		rc.scope = s.Scope
	}

	switch opts.Mode {
	case ModeCreate:
		rc.strategy = ""
	case ModeUpdate, ModeUpsert:
		if opts.Strategy == "" {
			return rc, fmt.Errorf("%w: %s mode requires a match strategy", ErrInvalidCommitOptions, opts.Mode)
		}
		if opts.Mode == ModeUpdate && opts.Strategy == MatchNone {
			return rc, fmt.Errorf("%w: update mode cannot use match strategy %q", ErrInvalidCommitOptions, MatchNone)
		}
	default:
		return rc, fmt.Errorf("%w: unknown commit mode %q", ErrInvalidCommitOptions, opts.Mode)
	}

	rc.defaults = make(map[string]Value, len(opts.Defaults))
	for key, raw := range opts.Defaults {
		f, ok := e.schema.Field(key)
		if !ok {
			return rc, fmt.Errorf("%w: default for unknown field %q", ErrInvalidCommitOptions, key)
		}
		if !f.HasDefault() {
			return rc, fmt.Errorf("%w: field %q does not accept a default", ErrInvalidCommitOptions, key)
		}
		v, ferr := CoerceValue(f, CleanCell(raw))
		if ferr != nil || CleanCell(raw) == "" {
			return rc, fmt.Errorf("%w: default for %q: invalid value %q", ErrInvalidCommitOptions, key, raw)
		}
		v.Defaulted = true
		rc.defaults[key] = v
	}
	return rc, nil
}

// Commit writes every valid row of s according to opts. The returned error
// is non-nil only when nothing was written.
func (e *CommitEngine) Commit(ctx context.Context, s *Session, opts CommitOptions, persist persistFunc) (*CommitReport, error) {
	release, err := s.beginMutation()
	if err != nil {
		return nil, err
	}
	defer release()

	rc, err := e.resolve(s, opts)
	if err != nil {
		return nil, err
	}

	var match matcher = func(context.Context, StagedRow, RawRecord) (*CatalogItem, error) {
		return nil, nil
	}
	if rc.mode != ModeCreate {
		idColumn := -1
		if col, ok := s.reserved[KeyID]; ok {
			idColumn = col
		}
		match, err = newMatcher(e.catalog, rc.strategy, rc.scope, idColumn)
		if err != nil {
			return nil, err
		}
	}

	// A commit runs to completion once started.
	ctx = context.WithoutCancel(ctx)

	v := s.view()
	report := &CommitReport{
		ImportID:  s.ID,
		Mode:      rc.mode,
		Strategy:  rc.strategy,
		Scope:     rc.scope,
		Failures:  []RowFailure{},
		StartedAt: time.Now().UTC(),
	}

	for i, row := range v.rows {
		if !row.Valid {
			continue
		}
		e.commitRow(ctx, rc, match, row, v.records[i], report)
	}
	report.TotalProcessed = report.Created + report.Updated + report.Skipped + report.Failed
	report.Duration = time.Since(report.StartedAt)

	if persist != nil {
		if err := persist(s.snapshot(v.records, s.mapping, s.revision+1, StateCommitted)); err != nil {
			slog.Warn("failed to persist committed session", "import_id", s.ID, "error", err)
		}
	}
	s.markCommitted()

	if e.recorder != nil {
		if err := e.recorder.RecordCommit(ctx, report); err != nil {
			slog.Warn("failed to record commit", "import_id", s.ID, "error", err)
		}
	}

	recordCommitMetrics(report)
	return report, nil
}

func (e *CommitEngine) commitRow(ctx context.Context, rc resolvedCommit, match matcher, row StagedRow, rec RawRecord, report *CommitReport) {
	existing, err := match(ctx, row, rec)
	if err != nil {
		code := CodeLookupFailed
		if errors.Is(err, ErrAmbiguousMatch) {
			code = CodeAmbiguousMatch
		}
		report.fail(row, code, err)
		return
	}

	switch {
	case existing != nil:
		if err := e.catalog.Update(ctx, rc.scope, existing.ID, updateFields(row)); err != nil {
			report.fail(row, CodeWriteFailed, err)
			return
		}
		report.Updated++
		report.UpdatedIDs = append(report.UpdatedIDs, existing.ID)

	case rc.mode == ModeUpdate:
		report.Skipped++

	default:
		id, err := e.catalog.Create(ctx, rc.scope, createFields(row, rc.defaults))
		if err != nil {
			report.fail(row, CodeWriteFailed, err)
			return
		}
		report.Created++
		report.CreatedIDs = append(report.CreatedIDs, id)
	}
}

func (r *CommitReport) fail(row StagedRow, code string, err error) {
	ue := NewUserError(err)
	if !IsUserFacing(err) {
		slog.Warn("unclassified commit row failure", "import_id", r.ImportID, "row", row.Index, "error", err)
	}

	r.Failed++
	r.Failures = append(r.Failures, RowFailure{
		Index:       row.Index,
		Title:       displayTitle(row),
		Code:        code,
		ErrorCode:   ue.User.Code,
		Message:     ue.Technical.Error(),
		UserMessage: FormatUserError(err),
	})
}

func displayTitle(row StagedRow) string {
	if t := valueString(row, KeyTitle); t != "" {
		return t
	}
	return fmt.Sprintf("Row %d", row.Index)
}

// createFields returns every value of row, with commit defaults replacing
// schema defaults the file did not override.
func createFields(row StagedRow, defaults map[string]Value) ItemFields {
	values := make(map[string]Value, len(row.Values)+len(defaults))
	for k, v := range row.Values {
		values[k] = v
	}
	for k, d := range defaults {
		if cur, ok := values[k]; !ok || cur.Defaulted {
			values[k] = d
		}
	}
	return ItemFields{Values: values}
}

// updateFields returns only the values taken from the file.
func updateFields(row StagedRow) ItemFields {
	values := make(map[string]Value, len(row.Values))
	for k, v := range row.Values {
		if !v.Defaulted {
			values[k] = v
		}
	}
	return ItemFields{Values: values}
}
