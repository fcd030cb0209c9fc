package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// testPostgres connects to DATABASE_TEST_URL or skips.
func testPostgres(t *testing.T) (*Postgres, string) {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	pg := NewPostgres(pool)
	require.NoError(t, pg.EnsureSchema(ctx))

	scope := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM catalog_items WHERE scope = $1", scope)
		_, _ = pool.Exec(context.Background(), "DELETE FROM import_commits WHERE scope = $1", scope)
	})
	return pg, scope
}

func str(s string) core.Value { return core.Value{Kind: core.FieldString, Str: s} }

func TestSQLValue(t *testing.T) {
	assert.Equal(t, "Dune", sqlValue(str("Dune")))
	assert.Equal(t, true, sqlValue(core.Value{Kind: core.FieldBoolean, Bool: true}))
	num := decimal.RequireFromString("9.99")
	assert.Equal(t, num, sqlValue(core.Value{Kind: core.FieldNumber, Num: num}))
	assert.Equal(t, "published", sqlValue(core.Value{Kind: core.FieldEnum, Str: "published"}))
}

func TestPostgres_FindByID_InvalidUUID(t *testing.T) {
	pg := NewPostgres(nil)
	_, err := pg.FindByID(context.Background(), "s", "not-a-uuid")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

// stubDB answers every query with the same item rows.
type stubDB struct {
	items []core.CatalogItem
	sql   string
}

func (d *stubDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (d *stubDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	d.sql = sql
	return &stubRows{items: d.items, pos: -1}, nil
}

func (d *stubDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

type stubRows struct {
	items []core.CatalogItem
	pos   int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.pos++
	return r.pos < len(r.items)
}

func (r *stubRows) Scan(dest ...any) error {
	it := r.items[r.pos]
	for i, v := range []string{it.ID, it.Scope, it.Title, it.Author, it.ISBN, it.LegacyRef} {
		*dest[i].(*string) = v
	}
	return nil
}

func TestPostgres_FindByLegacyRef_Duplicates(t *testing.T) {
	ctx := context.Background()
	db := &stubDB{items: []core.CatalogItem{
		{ID: "a", Scope: "s", Title: "Dune", LegacyRef: "OLD-1"},
		{ID: "b", Scope: "s", Title: "Dune Messiah", LegacyRef: "OLD-1"},
	}}
	pg := NewPostgres(db)

	_, err := pg.FindByLegacyRef(ctx, "s", "OLD-1")
	assert.ErrorIs(t, err, core.ErrAmbiguousMatch)
	assert.Contains(t, db.sql, "LIMIT 2")

	db.items = db.items[:1]
	it, err := pg.FindByLegacyRef(ctx, "s", "OLD-1")
	require.NoError(t, err)
	assert.Equal(t, "a", it.ID)

	db.items = nil
	_, err = pg.FindByISBN(ctx, "s", "9780441013593")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestPostgres_CreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	pg, scope := testPostgres(t)

	id, err := pg.Create(ctx, scope, core.ItemFields{Values: map[string]core.Value{
		core.KeyTitle:  str("Dune"),
		core.KeyAuthor: str("Frank Herbert"),
		core.KeyISBN:   str("9780441013593"),
		core.KeyPrice:  {Kind: core.FieldNumber, Num: decimal.RequireFromString("9.99")},
	}})
	require.NoError(t, err)

	it, err := pg.FindByISBN(ctx, scope, "9780441013593")
	require.NoError(t, err)
	assert.Equal(t, id, it.ID)

	items, err := pg.FindByTitleAuthor(ctx, scope, "DUNE", "frank herbert")
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, pg.Update(ctx, scope, id, core.ItemFields{Values: map[string]core.Value{
		core.KeyLegacyRef: str("OLD-1"),
	}}))
	it, err = pg.FindByLegacyRef(ctx, scope, "OLD-1")
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", it.Author)

	err = pg.Update(ctx, scope, uuid.NewString(), core.ItemFields{Values: map[string]core.Value{core.KeyTitle: str("x")}})
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestPostgres_DuplicateLegacyRefIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	pg, scope := testPostgres(t)

	for _, title := range []string{"Dune", "Dune Messiah"} {
		_, err := pg.Create(ctx, scope, core.ItemFields{Values: map[string]core.Value{
			core.KeyTitle:     str(title),
			core.KeyPrice:     {Kind: core.FieldNumber, Num: decimal.RequireFromString("5.00")},
			core.KeyLegacyRef: str("OLD-7"),
		}})
		require.NoError(t, err)
	}

	_, err := pg.FindByLegacyRef(ctx, scope, "OLD-7")
	assert.ErrorIs(t, err, core.ErrAmbiguousMatch)
}

func TestPostgres_RecordCommit(t *testing.T) {
	pg, scope := testPostgres(t)
	ctx := core.ContextWithClient(context.Background(), "10.0.0.1", "importctl")

	err := pg.RecordCommit(ctx, &core.CommitReport{
		ImportID:  uuid.NewString(),
		Mode:      core.ModeCreate,
		Scope:     scope,
		Created:   2,
		Failures:  []core.RowFailure{},
		StartedAt: time.Now(),
		Duration:  150 * time.Millisecond,
	})
	require.NoError(t, err)
}
