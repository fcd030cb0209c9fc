// Package catalog provides the catalog stores an import commits into.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the subset of pgxpool.Pool used by Postgres. A pgx.Tx also satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// writableColumns lists item fields in the order they appear in SQL.
var writableColumns = []string{
	core.KeyTitle,
	core.KeyAuthor,
	core.KeyPrice,
	core.KeyQuantity,
	core.KeyISBN,
	core.KeyLegacyRef,
	core.KeyDescription,
	core.KeyCategory,
	core.KeyCondition,
	core.KeyStatus,
	core.KeyFeatured,
}

const selectItem = `SELECT id::text, scope, title, author, isbn, legacy_ref FROM catalog_items`

// Postgres is a core.Catalog and core.CommitRecorder backed by PostgreSQL.
type Postgres struct {
	db DBTX
}

// NewPostgres wraps db.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the catalog tables when they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

// findOne returns the single item matching where. More than one match is
// ErrAmbiguousMatch; an exact key that is not unique never picks a row.
func (p *Postgres) findOne(ctx context.Context, where string, args ...any) (*core.CatalogItem, error) {
	items, err := p.query(ctx, selectItem+" WHERE "+where+" ORDER BY created_at LIMIT 2", args...)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, core.ErrItemNotFound
	case 1:
		return &items[0], nil
	default:
		return nil, fmt.Errorf("%w: more than one catalog item has this key", core.ErrAmbiguousMatch)
	}
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]core.CatalogItem, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find catalog item: %w", err)
	}
	defer rows.Close()

	var items []core.CatalogItem
	for rows.Next() {
		var it core.CatalogItem
		if err := rows.Scan(&it.ID, &it.Scope, &it.Title, &it.Author, &it.ISBN, &it.LegacyRef); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find catalog item: %w", err)
	}
	return items, nil
}

// FindByID looks up an item by its internal id.
func (p *Postgres) FindByID(ctx context.Context, scope, id string) (*core.CatalogItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.ErrItemNotFound
	}
	return p.findOne(ctx, "scope = $1 AND id = $2", scope, id)
}

// FindByISBN looks up an item by ISBN.
func (p *Postgres) FindByISBN(ctx context.Context, scope, isbn string) (*core.CatalogItem, error) {
	return p.findOne(ctx, "scope = $1 AND isbn = $2", scope, isbn)
}

// FindByLegacyRef looks up an item by the reference it carried in a previous system.
func (p *Postgres) FindByLegacyRef(ctx context.Context, scope, ref string) (*core.CatalogItem, error) {
	return p.findOne(ctx, "scope = $1 AND legacy_ref = $2", scope, ref)
}

// FindByTitleAuthor returns every item whose title and author match case-insensitively.
func (p *Postgres) FindByTitleAuthor(ctx context.Context, scope, title, author string) ([]core.CatalogItem, error) {
	return p.query(ctx,
		selectItem+" WHERE scope = $1 AND lower(title) = lower($2) AND lower(author) = lower($3) ORDER BY created_at",
		scope, title, author)
}

// Create inserts a new item and returns its id.
func (p *Postgres) Create(ctx context.Context, scope string, fields core.ItemFields) (string, error) {
	id := uuid.NewString()
	cols := []string{"id", "scope"}
	args := []any{id, scope}
	for _, key := range writableColumns {
		if v, ok := fields.Values[key]; ok {
			cols = append(cols, key)
			args = append(args, sqlValue(v))
		}
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO catalog_items (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert catalog item: %w", err)
	}
	return id, nil
}

// Update writes only the fields present in fields.
func (p *Postgres) Update(ctx context.Context, scope, id string, fields core.ItemFields) error {
	var sets []string
	args := []any{scope, id}
	for _, key := range writableColumns {
		if v, ok := fields.Values[key]; ok {
			args = append(args, sqlValue(v))
			sets = append(sets, fmt.Sprintf("%s = $%d", key, len(args)))
		}
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE catalog_items SET %s WHERE scope = $1 AND id = $2", strings.Join(sets, ", "))
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update catalog item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrItemNotFound
	}
	return nil
}

// RecordCommit appends the report to import_commits.
func (p *Postgres) RecordCommit(ctx context.Context, report *core.CommitReport) error {
	failures, err := json.Marshal(report.Failures)
	if err != nil {
		return fmt.Errorf("encode commit failures: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO import_commits
			(id, import_id, scope, mode, strategy, created, updated, skipped, failed,
			 failures, client_ip, user_agent, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.NewString(), report.ImportID, report.Scope, string(report.Mode), string(report.Strategy),
		report.Created, report.Updated, report.Skipped, report.Failed,
		failures, core.ClientIPFromContext(ctx), core.UserAgentFromContext(ctx),
		report.StartedAt, report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", report.ImportID, err)
	}
	return nil
}

// sqlValue converts a typed value to a pgx argument.
func sqlValue(v core.Value) any {
	switch v.Kind {
	case core.FieldNumber:
		return v.Num
	case core.FieldBoolean:
		return v.Bool
	default:
		return v.Str
	}
}
