package core

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrItemNotFound is returned by catalog lookups that find nothing.
var ErrItemNotFound = errors.New("catalog item not found")

// CatalogItem is an existing item in the catalog.
type CatalogItem struct {
	ID        string
	Scope     string
	Title     string
	Author    string
	ISBN      string
	LegacyRef string
}

// ItemFields carries the typed values written to a catalog item. Only keys
// present in Values are written on update.
type ItemFields struct {
	Values map[string]Value
}

// String returns the string value of key, or "".
func (f ItemFields) String(key string) string {
	v, ok := f.Values[key]
	if !ok {
		return ""
	}
	return v.String()
}

// Number returns the numeric value of key.
func (f ItemFields) Number(key string) (decimal.Decimal, bool) {
	v, ok := f.Values[key]
	if !ok || v.Kind != FieldNumber {
		return decimal.Decimal{}, false
	}
	return v.Num, true
}

// Bool returns the boolean value of key.
func (f ItemFields) Bool(key string) (value, ok bool) {
	v, ok := f.Values[key]
	if !ok || v.Kind != FieldBoolean {
		return false, false
	}
	return v.Bool, true
}

// Has reports whether key is set.
func (f ItemFields) Has(key string) bool {
	_, ok := f.Values[key]
	return ok
}

// CatalogFinder locates existing catalog items within a scope.
// Exact lookups return ErrItemNotFound when nothing matches.
type CatalogFinder interface {
	FindByID(ctx context.Context, scope, id string) (*CatalogItem, error)
	FindByISBN(ctx context.Context, scope, isbn string) (*CatalogItem, error)
	FindByLegacyRef(ctx context.Context, scope, ref string) (*CatalogItem, error)
	// FindByTitleAuthor matches title and author case-insensitively and
	// returns every match.
	FindByTitleAuthor(ctx context.Context, scope, title, author string) ([]CatalogItem, error)
}

// CatalogWriter creates and updates catalog items.
type CatalogWriter interface {
	Create(ctx context.Context, scope string, fields ItemFields) (string, error)
	Update(ctx context.Context, scope, id string, fields ItemFields) error
}

// Catalog is the write target of a commit.
type Catalog interface {
	CatalogFinder
	CatalogWriter
}

// CommitRecorder optionally records finished commits.
type CommitRecorder interface {
	RecordCommit(ctx context.Context, report *CommitReport) error
}
