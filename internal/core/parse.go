package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// utf8BOM is the byte order mark Excel prepends to UTF-8 CSV exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseLimits caps how much of a file is staged. Zero disables a ceiling.
type ParseLimits struct {
	MaxRows  int
	MaxBytes int64
}

// ParseStats summarizes a parse.
type ParseStats struct {
	// TotalRows is the number of non-blank data records kept.
	TotalRows int `json:"total_rows"`
	// TotalParsed is the number of data records read, blank ones included.
	TotalParsed int  `json:"total_parsed"`
	Truncated   bool `json:"truncated"`
}

// ParseResult holds the header and records of a delimited file.
type ParseResult struct {
	Headers     []string
	Records     []RawRecord
	Stats       ParseStats
	ByteSize    int64
	ContentType string
}

// Parse reads comma-delimited data with a mandatory header row.
//
// Duplicate header names are kept as distinct columns. Rows past either
// ceiling are dropped and Stats.Truncated is set. Data that is not text, has
// no header, or has no data records fails with ErrMalformedInput.
func Parse(data []byte, limits ParseLimits) (*ParseResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedInput)
	}

	mtype := mimetype.Detect(data)
	if !isText(mtype) {
		return nil, fmt.Errorf("%w: invalid csv: detected %s", ErrMalformedInput, mtype.String())
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("\uFFFD"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid csv header: %v", ErrMalformedInput, err)
	}

	headers := make([]string, len(header))
	blank := true
	for i, h := range header {
		headers[i] = CleanCell(h)
		if headers[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, fmt.Errorf("%w: header row is blank", ErrMalformedInput)
	}

	res := &ParseResult{
		Headers:     headers,
		ByteSize:    int64(len(data)),
		ContentType: mtype.String(),
	}

	ordinal := 0
	for {
		if limits.MaxRows > 0 && len(res.Records) >= limits.MaxRows {
			if _, err := r.Read(); err != io.EOF {
				res.Stats.Truncated = true
			}
			break
		}

		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, fmt.Errorf("%w: invalid csv at line %d: %v", ErrMalformedInput, perr.StartLine, perr.Err)
			}
			return nil, fmt.Errorf("%w: invalid csv: %v", ErrMalformedInput, err)
		}

		if limits.MaxBytes > 0 && r.InputOffset() > limits.MaxBytes {
			res.Stats.Truncated = true
			break
		}

		ordinal++
		res.Stats.TotalParsed++
		if isBlankRecord(record) {
			continue
		}

		line, _ := r.FieldPos(0)
		cells := make([]string, len(record))
		for i, c := range record {
			cells[i] = CleanCell(c)
		}
		res.Records = append(res.Records, RawRecord{Index: ordinal, Line: line, Cells: cells})
	}

	if len(res.Records) == 0 {
		return nil, fmt.Errorf("%w: empty file: no data rows after header", ErrMalformedInput)
	}
	res.Stats.TotalRows = len(res.Records)

	return res, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") || strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}

func isBlankRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
