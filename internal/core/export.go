package core

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ErrorsColumn is the column appended to exported invalid rows.
const ErrorsColumn = "_errors"

// ExportErrors writes the session's currently-invalid rows as CSV: the
// original header row plus an ErrorsColumn, then each invalid row's cells
// (as last edited) with its error messages joined by "; ".
func ExportErrors(s *Session, w io.Writer) (int, error) {
	v := s.view()

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(v.headers)+1)
	header = append(header, v.headers...)
	header = append(header, ErrorsColumn)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	written := 0
	for i, row := range v.rows {
		if row.Valid {
			continue
		}
		rec := v.records[i]
		out := make([]string, len(v.headers)+1)
		for col := range v.headers {
			out[col] = rec.Cell(col)
		}
		out[len(v.headers)] = row.ErrorSummary()
		if err := cw.Write(out); err != nil {
			return written, fmt.Errorf("write row %d: %w", row.Index, err)
		}
		written++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("flush: %w", err)
	}
	return written, nil
}
