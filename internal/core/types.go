package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the primitive type of a target field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
)

// TargetField describes one field of the catalog item schema.
type TargetField struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Type     FieldType `json:"type"`
	Allowed  []string  `json:"allowed,omitempty"`
	Default  string    `json:"default,omitempty"`
	Reserved bool      `json:"reserved,omitempty"`
	Aliases  []string  `json:"-"`
}

// HasDefault reports whether the field permits a default value.
func (f TargetField) HasDefault() bool {
	return f.Default != ""
}

// Mapping assigns each source column, by position, to a target field key.
// An empty entry means the column is ignored.
type Mapping []string

// Clone returns an independent copy of m.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	copy(out, m)
	return out
}

// ColumnFor returns the column mapped to key, or -1 if key is unmapped.
func (m Mapping) ColumnFor(key string) int {
	for i, k := range m {
		if k == key {
			return i
		}
	}
	return -1
}

// Mapped reports whether key is assigned to any column.
func (m Mapping) Mapped(key string) bool {
	return m.ColumnFor(key) >= 0
}

// RawRecord is one data record as read from the file.
// Index is the 1-based ordinal of the record after the header; Line is the
// physical line the record starts on.
type RawRecord struct {
	Index int      `json:"index"`
	Line  int      `json:"line"`
	Cells []string `json:"cells"`
}

// Cell returns the cell at col, or "" when the record is shorter than col.
func (r RawRecord) Cell(col int) string {
	if col < 0 || col >= len(r.Cells) {
		return ""
	}
	return r.Cells[col]
}

func (r RawRecord) clone() RawRecord {
	cells := make([]string, len(r.Cells))
	copy(cells, r.Cells)
	return RawRecord{Index: r.Index, Line: r.Line, Cells: cells}
}

// Value is a typed field value. Only the member matching Kind is meaningful.
type Value struct {
	Kind      FieldType
	Str       string
	Num       decimal.Decimal
	Bool      bool
	Defaulted bool
}

// String renders the value the way it would be written back to a file.
func (v Value) String() string {
	switch v.Kind {
	case FieldNumber:
		return v.Num.String()
	case FieldBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return v.Str
	}
}

// Equal reports whether v and o hold the same typed value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Defaulted != o.Defaulted {
		return false
	}
	switch v.Kind {
	case FieldNumber:
		return v.Num.Equal(o.Num)
	case FieldBoolean:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

// MarshalJSON encodes the value as a bare JSON string, number or boolean.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FieldNumber:
		return []byte(v.Num.String()), nil
	case FieldBoolean:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON decodes a bare JSON value. Strings decode as FieldString;
// enum and defaulted information is not carried on the wire.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case json.Number:
		num, err := decimal.NewFromString(t.String())
		if err != nil {
			return fmt.Errorf("decode number value: %w", err)
		}
		*v = Value{Kind: FieldNumber, Num: num}
	case bool:
		*v = Value{Kind: FieldBoolean, Bool: t}
	case string:
		*v = Value{Kind: FieldString, Str: t}
	default:
		return fmt.Errorf("unsupported value %s", data)
	}
	return nil
}

// FieldError is a validation error attached to one field of a staged row.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StagedRow is one validated record in an import session.
type StagedRow struct {
	Index  int              `json:"index"`
	Line   int              `json:"line"`
	Values map[string]Value `json:"values"`
	Errors []FieldError     `json:"errors"`
	Valid  bool             `json:"valid"`
}

// Equal reports whether two rows carry the same index, values and errors.
func (r StagedRow) Equal(o StagedRow) bool {
	if r.Index != o.Index || r.Line != o.Line || r.Valid != o.Valid {
		return false
	}
	if len(r.Values) != len(o.Values) || len(r.Errors) != len(o.Errors) {
		return false
	}
	for k, v := range r.Values {
		ov, ok := o.Values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	for i := range r.Errors {
		if r.Errors[i] != o.Errors[i] {
			return false
		}
	}
	return true
}

// ErrorSummary joins the row's error messages for display.
func (r StagedRow) ErrorSummary() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// ImportStats aggregates row validity for a session.
type ImportStats struct {
	TotalRows   int  `json:"total_rows"`
	ValidRows   int  `json:"valid_rows"`
	InvalidRows int  `json:"invalid_rows"`
	Truncated   bool `json:"truncated"`
}

// RowFilter selects rows by validity when listing.
type RowFilter string

const (
	FilterAll     RowFilter = "all"
	FilterValid   RowFilter = "valid"
	FilterInvalid RowFilter = "invalid"
)

// ParseRowFilter parses a filter name. An empty string means all rows.
func ParseRowFilter(s string) (RowFilter, error) {
	switch RowFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterValid:
		return FilterValid, nil
	case FilterInvalid:
		return FilterInvalid, nil
	}
	return "", fmt.Errorf("unknown row filter %q", s)
}

func (f RowFilter) match(row StagedRow) bool {
	switch f {
	case FilterValid:
		return row.Valid
	case FilterInvalid:
		return !row.Valid
	default:
		return true
	}
}

// Page is one page of staged rows.
type Page struct {
	Rows       []StagedRow `json:"rows"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalRows  int         `json:"total_rows"`
	TotalPages int         `json:"total_pages"`
}

// CommitMode controls whether commit creates, updates, or both.
type CommitMode string

const (
	ModeCreate CommitMode = "create"
	ModeUpdate CommitMode = "update"
	ModeUpsert CommitMode = "upsert"
)

// ParseCommitMode parses a commit mode name.
func ParseCommitMode(s string) (CommitMode, error) {
	switch m := CommitMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCreate, ModeUpdate, ModeUpsert:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown commit mode %q", ErrInvalidCommitOptions, s)
}

// MatchStrategy selects how an existing catalog item is located during
// update and upsert commits.
type MatchStrategy string

const (
	MatchNone       MatchStrategy = "none"
	MatchExternalID MatchStrategy = "external_id"
	MatchInternalID MatchStrategy = "internal_id"
	MatchComposite  MatchStrategy = "composite"
	MatchLegacyRef  MatchStrategy = "legacy_ref"
)

var strategyNames = map[string]MatchStrategy{
	"none":                   MatchNone,
	"external_id":            MatchExternalID,
	"by-external-identifier": MatchExternalID,
	"isbn":                   MatchExternalID,
	"internal_id":            MatchInternalID,
	"by-internal-id":         MatchInternalID,
	"id":                     MatchInternalID,
	"composite":              MatchComposite,
	"by-composite-heuristic": MatchComposite,
	"title_author":           MatchComposite,
	"legacy_ref":             MatchLegacyRef,
	"by-legacy-reference":    MatchLegacyRef,
}

// ParseMatchStrategy parses a strategy name. An empty string yields "".
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	if ms, ok := strategyNames[s]; ok {
		return ms, nil
	}
	return "", fmt.Errorf("%w: unknown match strategy %q", ErrInvalidCommitOptions, s)
}

// CommitOptions configures a commit.
type CommitOptions struct {
	Mode     CommitMode
	Strategy MatchStrategy
	// Defaults overrides schema defaults for fields the file left empty.
	Defaults map[string]string
	// Scope overrides the session's owner scope when set.
	Scope string
}

// RowFailure records a row that could not be written during commit.
// Code is the failure kind; ErrorCode and UserMessage come from MapError,
// Message is the technical error.
type RowFailure struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Code        string `json:"code"`
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	UserMessage string `json:"user_message"`
}

// CommitReport is the outcome of one commit.
type CommitReport struct {
	ImportID       string        `json:"import_id"`
	Mode           CommitMode    `json:"mode"`
	Strategy       MatchStrategy `json:"strategy,omitempty"`
	Scope          string        `json:"scope"`
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	TotalProcessed int           `json:"total_processed"`
	Failures       []RowFailure  `json:"failures"`
	CreatedIDs     []string      `json:"created_ids,omitempty"`
	UpdatedIDs     []string      `json:"updated_ids,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// SessionState is the lifecycle state of an import session.
type SessionState string

const (
	StateOpen      SessionState = "open"
	StateCommitted SessionState = "committed"
)
