package datanorm

import (
	"fmt"
	"strings"
)

// Strategy records which view of the sheet produced the header map.
type Strategy string

const (
	StrategyObject Strategy = "object"
	StrategyArray  Strategy = "array"
)

// ResolvedSheet is a sheet whose labels have been mapped to canonical
// columns.
type ResolvedSheet struct {
	Rows     []RawRow
	Lines    []int // 1-based sheet line of each entry in Rows
	Headers  HeaderMap
	Detected []string // every non-empty label in the header row
	Strategy Strategy
}

// MissingHeaderError reports an unconditionally required column that no
// label maps to.
type MissingHeaderError struct {
	Header string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("missing required header %q", e.Header)
}

// Resolve maps the sheet's labels to canonical columns. Object inference
// runs first; when none of its labels is canonical the sheet is re-read as
// a positional grid with row 0 as the header.
func Resolve(src SheetSource) (*ResolvedSheet, error) {
	table, err := src.Objects()
	if err != nil {
		return nil, err
	}
	headers := DetectHeaders(table.Labels)
	strategy := StrategyObject

	if len(headers) == 0 {
		table, err = src.Grid()
		if err != nil {
			return nil, err
		}
		if len(table.Rows) == 0 {
			return nil, ErrNoDataFound
		}
		headers = DetectHeaders(table.Labels)
		strategy = StrategyArray
	}

	if !headers.Has(ColSegment) {
		return nil, &MissingHeaderError{Header: ColSegment.Label()}
	}
	if len(table.Rows) == 0 {
		return nil, ErrNoDataFound
	}

	return &ResolvedSheet{
		Rows:     table.Rows,
		Lines:    table.Lines,
		Headers:  headers,
		Detected: table.Labels,
		Strategy: strategy,
	}, nil
}

// String summarizes the resolution for logs.
func (r *ResolvedSheet) String() string {
	return fmt.Sprintf("%s strategy, %d rows, columns [%s]",
		r.Strategy, len(r.Rows), strings.Join(r.Headers.Canonical(), ", "))
}

// line is the sheet line of Rows[i]. Sources that do not report lines
// fall back to the data row position after the header.
func (r *ResolvedSheet) line(i int) int {
	if i < len(r.Lines) {
		return r.Lines[i]
	}
	return i + 2
}
