package core

// convert.go coerces user-provided cell text into typed values.
//
// Spreadsheet exports are messy: numbers carry currency symbols, thousands
// separators and accounting parentheses, and cells may be wrapped in Excel
// formula syntax (="value"). These helpers undo that before typing.

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// numericRegex matches integers, decimals, and scientific notation after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// currencySymbols are stripped from numeric cells.
var currencySymbols = strings.NewReplacer(
	"$", "",
	"€", "", // Euro
	"£", "", // Pound
	"¥", "", // Yen
	",", "",
	" ", "",
)

// ParseNumber parses a finite decimal from s.
// Accepts currency symbols, thousands separators, and accounting format
// "(123.45)" for negatives.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = currencySymbols.Replace(s)
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseBool parses the boolean tokens true/false, yes/no and 1/0, case-insensitively.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}

// CleanCell removes common CSV artifacts from a cell value:
// surrounding whitespace, the Excel formula wrapper (="..."), and a leading '='.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(s)
}
