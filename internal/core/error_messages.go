package core

// error_messages.go maps errors to user-facing messages with a support code.
//
// Import errors (IMP001-IMP099) are matched by identity with errors.Is.
// Everything else falls through to case-insensitive substring patterns, in
// order, first match wins.
//
//	IMP001 Malformed file          ErrMalformedInput
//	IMP002 Import not found        ErrSessionNotFound
//	IMP003 Row not found           ErrRowNotFound
//	IMP004 Import busy             ErrSessionBusy
//	IMP005 Already committed       ErrAlreadyCommitted
//	IMP006 Mapping conflict        ErrMappingConflict
//	IMP007 Reserved field          ErrReservedField
//	IMP008 Unknown field           ErrUnknownField
//	IMP009 Field not mapped        ErrFieldNotMapped
//	IMP010 Invalid commit options  ErrInvalidCommitOptions
//	IMP011 System busy             ErrTooManyStages
//	IMP012 Ambiguous match         ErrAmbiguousMatch
//	IMP013 Catalog item not found  ErrItemNotFound
//
//	DB001-DB007   database constraint and connectivity errors
//	UPL004-UPL005 request cancelled or timed out
//	RATE001       rate limited
//	ERR000        fallback; check the logs for the technical error

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrMalformedInput, UserMessage{
		Message: "The file could not be read as CSV",
		Action:  "Save the file as UTF-8 CSV with a header row and try again",
		Code:    "IMP001",
	}},
	{ErrSessionNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please upload the file again",
		Code:    "IMP002",
	}},
	{ErrRowNotFound, UserMessage{
		Message: "Row not found in this import",
		Action:  "Reload the rows and try again",
		Code:    "IMP003",
	}},
	{ErrSessionBusy, UserMessage{
		Message: "This import is being changed by another request",
		Action:  "Wait for the other change to finish and try again",
		Code:    "IMP004",
	}},
	{ErrAlreadyCommitted, UserMessage{
		Message: "This import has already been committed",
		Action:  "Upload the file again to start a new import",
		Code:    "IMP005",
	}},
	{ErrMappingConflict, UserMessage{
		Message: "The column mapping is not valid",
		Action:  "Map each field to at most one column",
		Code:    "IMP006",
	}},
	{ErrReservedField, UserMessage{
		Message: "This field is managed by the catalog and cannot be imported",
		Action:  "Leave the column unmapped",
		Code:    "IMP007",
	}},
	{ErrUnknownField, UserMessage{
		Message: "Unknown catalog field",
		Action:  "Check the field name against the import schema",
		Code:    "IMP008",
	}},
	{ErrFieldNotMapped, UserMessage{
		Message: "This field is not mapped to a column",
		Action:  "Map the field to a column before editing it",
		Code:    "IMP009",
	}},
	{ErrInvalidCommitOptions, UserMessage{
		Message: "The commit options are not valid",
		Action:  "Choose a commit mode and a match strategy that fit together",
		Code:    "IMP010",
	}},
	{ErrTooManyStages, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP011",
	}},
	{ErrAmbiguousMatch, UserMessage{
		Message: "More than one catalog item matches this row",
		Action:  "Use a more specific match strategy or remove the duplicate catalog items",
		Code:    "IMP012",
	}},
	{ErrItemNotFound, UserMessage{
		Message: "The matched catalog item no longer exists",
		Action:  "Commit the row again in upsert mode",
		Code:    "IMP013",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A catalog item with this identifier already exists",
			Action:  "Commit in upsert mode or remove the duplicate rows",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Ensure the referenced records exist first",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the catalog",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Catalog connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The catalog was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Import sentinels are
// matched first, then technical error text. Unmatched errors get ERR000.
//
//	msg := MapError(fmt.Errorf("remap: %w", ErrMappingConflict))
//	// msg.Code == "IMP006"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
