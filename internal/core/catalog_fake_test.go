package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCatalog is an in-memory Catalog for commit tests.
type fakeCatalog struct {
	mu      sync.Mutex
	items   map[string]*fakeItem
	nextID  int
	creates int
	updates int

	// failTitles makes Create and Update fail with the given error for rows
	// with these titles.
	failTitles map[string]error
}

type fakeItem struct {
	CatalogItem
	Fields ItemFields
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{items: map[string]*fakeItem{}, failTitles: map[string]error{}}
}

func (c *fakeCatalog) seed(scope, title, author, isbn, legacyRef string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("item-%d", c.nextID)
	c.items[id] = &fakeItem{CatalogItem: CatalogItem{
		ID: id, Scope: scope, Title: title, Author: author, ISBN: isbn, LegacyRef: legacyRef,
	}}
	return id
}

func (c *fakeCatalog) find(scope string, pred func(*fakeItem) bool) []CatalogItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CatalogItem
	for _, it := range c.items {
		if it.Scope == scope && pred(it) {
			out = append(out, it.CatalogItem)
		}
	}
	return out
}

func (c *fakeCatalog) one(scope string, pred func(*fakeItem) bool) (*CatalogItem, error) {
	items := c.find(scope, pred)
	if len(items) == 0 {
		return nil, ErrItemNotFound
	}
	return &items[0], nil
}

func (c *fakeCatalog) FindByID(_ context.Context, scope, id string) (*CatalogItem, error) {
	return c.one(scope, func(it *fakeItem) bool { return it.ID == id })
}

func (c *fakeCatalog) FindByISBN(_ context.Context, scope, isbn string) (*CatalogItem, error) {
	return c.one(scope, func(it *fakeItem) bool { return it.ISBN == isbn })
}

func (c *fakeCatalog) FindByLegacyRef(_ context.Context, scope, ref string) (*CatalogItem, error) {
	return c.one(scope, func(it *fakeItem) bool { return it.LegacyRef == ref })
}

func (c *fakeCatalog) FindByTitleAuthor(_ context.Context, scope, title, author string) ([]CatalogItem, error) {
	return c.find(scope, func(it *fakeItem) bool {
		return strings.EqualFold(it.Title, title) && strings.EqualFold(it.Author, author)
	}), nil
}

func (c *fakeCatalog) Create(_ context.Context, scope string, fields ItemFields) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failTitles[fields.String(KeyTitle)]; err != nil {
		return "", err
	}
	c.nextID++
	c.creates++
	id := fmt.Sprintf("item-%d", c.nextID)
	c.items[id] = &fakeItem{
		CatalogItem: CatalogItem{
			ID:        id,
			Scope:     scope,
			Title:     fields.String(KeyTitle),
			Author:    fields.String(KeyAuthor),
			ISBN:      fields.String(KeyISBN),
			LegacyRef: fields.String(KeyLegacyRef),
		},
		Fields: fields,
	}
	return id, nil
}

func (c *fakeCatalog) Update(_ context.Context, scope, id string, fields ItemFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failTitles[fields.String(KeyTitle)]; err != nil {
		return err
	}
	it, ok := c.items[id]
	if !ok || it.Scope != scope {
		return ErrItemNotFound
	}
	c.updates++
	it.Fields = fields
	return nil
}

func (c *fakeCatalog) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates + c.updates
}

// fakeRecorder collects recorded commits.
type fakeRecorder struct {
	mu      sync.Mutex
	reports []*CommitReport
}

func (r *fakeRecorder) RecordCommit(_ context.Context, report *CommitReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// stageSession parses csv and opens a session with the inferred mapping.
func stageSession(t *testing.T, csv string) *Session {
	t.Helper()
	parsed, err := Parse([]byte(csv), ParseLimits{})
	require.NoError(t, err)
	schema := CatalogItemSchema()
	return newSession(schema, sessionParams{
		ID:      "imp-test",
		Scope:   "vendor-a",
		Parsed:  parsed,
		Mapping: InferMapping(parsed.Headers, schema),
		Workers: 2,
	})
}
