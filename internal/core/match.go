package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// matcher resolves the existing catalog item a row refers to.
// It returns (nil, nil) when there is no match.
type matcher func(ctx context.Context, row StagedRow, rec RawRecord) (*CatalogItem, error)

// newMatcher builds the matcher for strategy. idColumn is the source column
// holding the reserved internal id, or -1.
func newMatcher(finder CatalogFinder, strategy MatchStrategy, scope string, idColumn int) (matcher, error) {
	switch strategy {
	case MatchNone:
		return func(context.Context, StagedRow, RawRecord) (*CatalogItem, error) {
			return nil, nil
		}, nil

	case MatchExternalID:
		return exactMatcher(func(ctx context.Context, row StagedRow, _ RawRecord) (*CatalogItem, error) {
			isbn := valueString(row, KeyISBN)
			if isbn == "" {
				return nil, ErrItemNotFound
			}
			return finder.FindByISBN(ctx, scope, isbn)
		}), nil

	case MatchLegacyRef:
		return exactMatcher(func(ctx context.Context, row StagedRow, _ RawRecord) (*CatalogItem, error) {
			ref := valueString(row, KeyLegacyRef)
			if ref == "" {
				return nil, ErrItemNotFound
			}
			return finder.FindByLegacyRef(ctx, scope, ref)
		}), nil

	case MatchInternalID:
		if idColumn < 0 {
			return nil, fmt.Errorf("%w: %s strategy needs an internal id column in the file", ErrInvalidCommitOptions, strategy)
		}
		return exactMatcher(func(ctx context.Context, _ StagedRow, rec RawRecord) (*CatalogItem, error) {
			id := strings.TrimSpace(rec.Cell(idColumn))
			if id == "" {
				return nil, ErrItemNotFound
			}
			return finder.FindByID(ctx, scope, id)
		}), nil

	case MatchComposite:
		return func(ctx context.Context, row StagedRow, _ RawRecord) (*CatalogItem, error) {
			title := valueString(row, KeyTitle)
			author := valueString(row, KeyAuthor)
			if title == "" || author == "" {
				return nil, nil
			}
			items, err := finder.FindByTitleAuthor(ctx, scope, title, author)
			if err != nil {
				return nil, err
			}
			switch len(items) {
			case 0:
				return nil, nil
			case 1:
				return &items[0], nil
			default:
				return nil, fmt.Errorf("%w: %d catalog items match title %q and author %q", ErrAmbiguousMatch, len(items), title, author)
			}
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown match strategy %q", ErrInvalidCommitOptions, strategy)
}

// exactMatcher adapts a lookup that returns ErrItemNotFound into a matcher.
func exactMatcher(lookup matcher) matcher {
	return func(ctx context.Context, row StagedRow, rec RawRecord) (*CatalogItem, error) {
		item, err := lookup(ctx, row, rec)
		if errors.Is(err, ErrItemNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
}

func valueString(row StagedRow, key string) string {
	v, ok := row.Values[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}
