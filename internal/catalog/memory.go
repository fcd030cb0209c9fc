package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// Item is a catalog item held by Memory, with every field written to it.
type Item struct {
	core.CatalogItem
	Values map[string]core.Value
	seq    int
}

// Memory is an in-process catalog used for dry runs and tests.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]*Item
	seq     int
	commits []*core.CommitReport
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*Item)}
}

// Seed adds an existing item and returns its id.
func (m *Memory) Seed(scope string, values map[string]string) string {
	fields := core.ItemFields{Values: make(map[string]core.Value, len(values))}
	for k, v := range values {
		fields.Values[k] = core.Value{Kind: core.FieldString, Str: v}
	}
	id, _ := m.Create(context.Background(), scope, fields)
	return id
}

func (m *Memory) find(scope string, pred func(*Item) bool) []core.CatalogItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*Item
	for _, it := range m.items {
		if it.Scope == scope && pred(it) {
			hits = append(hits, it)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]core.CatalogItem, len(hits))
	for i, it := range hits {
		out[i] = it.CatalogItem
	}
	return out
}

func (m *Memory) findOne(scope string, pred func(*Item) bool) (*core.CatalogItem, error) {
	items := m.find(scope, pred)
	switch len(items) {
	case 0:
		return nil, core.ErrItemNotFound
	case 1:
		return &items[0], nil
	default:
		return nil, fmt.Errorf("%w: %d catalog items have this key", core.ErrAmbiguousMatch, len(items))
	}
}

func (m *Memory) FindByID(_ context.Context, scope, id string) (*core.CatalogItem, error) {
	return m.findOne(scope, func(it *Item) bool { return it.ID == id })
}

func (m *Memory) FindByISBN(_ context.Context, scope, isbn string) (*core.CatalogItem, error) {
	return m.findOne(scope, func(it *Item) bool { return it.ISBN == isbn })
}

func (m *Memory) FindByLegacyRef(_ context.Context, scope, ref string) (*core.CatalogItem, error) {
	return m.findOne(scope, func(it *Item) bool { return it.LegacyRef == ref })
}

func (m *Memory) FindByTitleAuthor(_ context.Context, scope, title, author string) ([]core.CatalogItem, error) {
	return m.find(scope, func(it *Item) bool {
		return strings.EqualFold(it.Title, title) && strings.EqualFold(it.Author, author)
	}), nil
}

func (m *Memory) Create(_ context.Context, scope string, fields core.ItemFields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	it := &Item{
		CatalogItem: core.CatalogItem{ID: uuid.NewString(), Scope: scope},
		Values:      make(map[string]core.Value, len(fields.Values)),
		seq:         m.seq,
	}
	it.apply(fields)
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *Memory) Update(_ context.Context, scope, id string, fields core.ItemFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok || it.Scope != scope {
		return core.ErrItemNotFound
	}
	it.apply(fields)
	return nil
}

func (it *Item) apply(fields core.ItemFields) {
	for k, v := range fields.Values {
		it.Values[k] = v
	}
	it.Title = it.value(core.KeyTitle)
	it.Author = it.value(core.KeyAuthor)
	it.ISBN = it.value(core.KeyISBN)
	it.LegacyRef = it.value(core.KeyLegacyRef)
}

func (it *Item) value(key string) string {
	if v, ok := it.Values[key]; ok {
		return v.String()
	}
	return ""
}

// RecordCommit keeps the report in memory.
func (m *Memory) RecordCommit(_ context.Context, report *core.CommitReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, report)
	return nil
}

// Get returns a copy of the item with id.
func (m *Memory) Get(id string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, false
	}
	cp := *it
	cp.Values = make(map[string]core.Value, len(it.Values))
	for k, v := range it.Values {
		cp.Values[k] = v
	}
	return cp, true
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Commits returns the recorded commit reports.
func (m *Memory) Commits() []*core.CommitReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.CommitReport, len(m.commits))
	copy(out, m.commits)
	return out
}
