package core

import "errors"

// Fatal errors. These abort the call and leave session state untouched.
var (
	ErrMalformedInput       = errors.New("malformed input")
	ErrSessionNotFound      = errors.New("import session not found")
	ErrRowNotFound          = errors.New("row not found")
	ErrSessionBusy          = errors.New("import session busy")
	ErrAlreadyCommitted     = errors.New("import session already committed")
	ErrMappingConflict      = errors.New("mapping conflict")
	ErrReservedField        = errors.New("reserved field cannot be mapped")
	ErrUnknownField         = errors.New("unknown target field")
	ErrFieldNotMapped       = errors.New("field not mapped")
	ErrInvalidCommitOptions = errors.New("invalid commit options")
	ErrTooManyStages        = errors.New("too many concurrent imports, please try again later")
)

// ErrAmbiguousMatch is never returned from an operation. It is recorded on a
// failed row in the CommitReport.
var ErrAmbiguousMatch = errors.New("ambiguous match")

// Field error codes attached to staged rows.
const (
	CodeRequired       = "Required"
	CodeInvalidNumber  = "InvalidNumber"
	CodeInvalidBoolean = "InvalidBoolean"
	CodeInvalidEnum    = "InvalidEnum"
)

// Row failure codes recorded in a CommitReport.
const (
	CodeAmbiguousMatch = "AmbiguousMatch"
	CodeWriteFailed    = "WriteFailed"
	CodeLookupFailed   = "LookupFailed"
)
