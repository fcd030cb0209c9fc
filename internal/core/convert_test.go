package core

import "testing"

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
	}{
		{name: "positive integer", input: "123", wantValid: true, wantValue: "123"},
		{name: "zero", input: "0", wantValid: true, wantValue: "0"},
		{name: "negative integer", input: "-456", wantValid: true, wantValue: "-456"},
		{name: "decimal number", input: "123.45", wantValid: true, wantValue: "123.45"},
		{name: "leading decimal point", input: ".99", wantValid: true, wantValue: "0.99"},
		{name: "dollar sign", input: "$1,234.56", wantValid: true, wantValue: "1234.56"},
		{name: "euro sign", input: "€1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "pound sign", input: "£1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "thousands separator", input: "1,234,567.89", wantValid: true, wantValue: "1234567.89"},
		{name: "accounting negative", input: "(123.45)", wantValid: true, wantValue: "-123.45"},
		{name: "accounting negative with currency", input: "($1,234.56)", wantValid: true, wantValue: "-1234.56"},
		{name: "accounting negative with spaces", input: "( 999.99 )", wantValid: true, wantValue: "-999.99"},
		{name: "scientific notation", input: "1.5e3", wantValid: true, wantValue: "1500"},
		{name: "surrounding whitespace", input: "  42  ", wantValid: true, wantValue: "42"},

		{name: "empty", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "mixed", input: "12abc", wantValid: false},
		{name: "two decimal points", input: "1.2.3", wantValid: false},
		{name: "infinity", input: "Inf", wantValid: false},
		{name: "not a number", input: "NaN", wantValid: false},
		{name: "bare sign", input: "-", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got.String() != tt.wantValue {
				t.Errorf("ParseNumber(%q) = %s, want %s", tt.input, got.String(), tt.wantValue)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{" yes ", true, true},
		{"false", true, false},
		{"No", true, false},
		{"0", true, false},
		{"FALSE", true, false},

		{"", false, false},
		{"t", false, false},
		{"y", false, false},
		{"on", false, false},
		{"2", false, false},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseBool(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseBool(%q) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if got != tt.want {
				t.Errorf("ParseBool(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  hello  ", want: "hello"},
		{name: "Excel formula with quotes", input: `="hello"`, want: "hello"},
		{name: "Excel formula number as text", input: `="12345"`, want: "12345"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},
		{name: "embedded equals kept", input: "a=b", want: "a=b"},
		{name: "inner quotes kept", input: `say "hi"`, want: `say "hi"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
