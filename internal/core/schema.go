package core

import (
	"fmt"
	"sync"
)

// Catalog item field keys.
const (
	KeyID          = "id"
	KeyTitle       = "title"
	KeyAuthor      = "author"
	KeyPrice       = "price"
	KeyQuantity    = "quantity"
	KeyISBN        = "isbn"
	KeyLegacyRef   = "legacy_ref"
	KeyDescription = "description"
	KeyCategory    = "category"
	KeyCondition   = "condition"
	KeyStatus      = "status"
	KeyFeatured    = "featured"
)

// Schema is an immutable, ordered set of target fields.
type Schema struct {
	fields []TargetField
	byKey  map[string]int
}

// NewSchema builds a schema from fields. Keys must be unique and enum
// fields must list their allowed values.
func NewSchema(fields []TargetField) (*Schema, error) {
	s := &Schema{
		fields: make([]TargetField, len(fields)),
		byKey:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Key == "" {
			return nil, fmt.Errorf("field %d: empty key", i)
		}
		if _, dup := s.byKey[f.Key]; dup {
			return nil, fmt.Errorf("field %q: duplicate key", f.Key)
		}
		if f.Type == FieldEnum && len(f.Allowed) == 0 {
			return nil, fmt.Errorf("field %q: enum without allowed values", f.Key)
		}
		if f.Reserved && f.Required {
			return nil, fmt.Errorf("field %q: reserved fields cannot be required", f.Key)
		}
		s.fields[i] = f
		s.byKey[f.Key] = i
	}
	return s, nil
}

// Fields returns all fields in schema order.
func (s *Schema) Fields() []TargetField {
	out := make([]TargetField, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by key.
func (s *Schema) Field(key string) (TargetField, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return TargetField{}, false
	}
	return s.fields[i], true
}

// Mappable returns the fields a source column may be assigned to.
func (s *Schema) Mappable() []TargetField {
	out := make([]TargetField, 0, len(s.fields))
	for _, f := range s.fields {
		if !f.Reserved {
			out = append(out, f)
		}
	}
	return out
}

// Reserved returns fields that can never be a mapping target.
func (s *Schema) Reserved() []TargetField {
	var out []TargetField
	for _, f := range s.fields {
		if f.Reserved {
			out = append(out, f)
		}
	}
	return out
}

var catalogItemSchema = sync.OnceValue(func() *Schema {
	s, err := NewSchema([]TargetField{
		{Key: KeyID, Label: "Internal ID", Type: FieldString, Reserved: true,
			Aliases: []string{"item id", "catalog id"}},
		{Key: KeyTitle, Label: "Title", Type: FieldString, Required: true,
			Aliases: []string{"name", "product name", "item name"}},
		{Key: KeyAuthor, Label: "Author", Type: FieldString,
			Aliases: []string{"creator", "writer", "artist", "by"}},
		{Key: KeyPrice, Label: "Price", Type: FieldNumber, Required: true,
			Aliases: []string{"cost", "amount", "unit price", "list price"}},
		{Key: KeyQuantity, Label: "Quantity", Type: FieldNumber, Default: "1",
			Aliases: []string{"qty", "stock", "inventory", "count"}},
		{Key: KeyISBN, Label: "ISBN", Type: FieldString,
			Aliases: []string{"isbn13", "isbn10", "ean", "upc", "sku"}},
		{Key: KeyLegacyRef, Label: "Legacy Reference", Type: FieldString,
			Aliases: []string{"legacy id", "legacy ref", "old id", "external ref"}},
		{Key: KeyDescription, Label: "Description", Type: FieldString,
			Aliases: []string{"desc", "details", "summary"}},
		{Key: KeyCategory, Label: "Category", Type: FieldString,
			Aliases: []string{"genre", "section"}},
		{Key: KeyCondition, Label: "Condition", Type: FieldEnum, Default: "new",
			Allowed: []string{"new", "like_new", "good", "fair", "poor"}},
		{Key: KeyStatus, Label: "Status", Type: FieldEnum, Default: "draft",
			Allowed: []string{"draft", "published", "archived"},
			Aliases: []string{"publication status", "state"}},
		{Key: KeyFeatured, Label: "Featured", Type: FieldBoolean, Default: "false",
			Aliases: []string{"is featured", "highlight"}},
	})
	if err != nil {
		panic(fmt.Sprintf("catalog item schema: %v", err))
	}
	return s
})

// CatalogItemSchema returns the shared catalog item schema.
func CatalogItemSchema() *Schema {
	return catalogItemSchema()
}
