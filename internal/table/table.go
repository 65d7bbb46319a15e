// Package table reads accident records from tabular files into a generic
// in-memory table.
package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInput marks failures caused by the input file rather than the program.
var ErrInput = errors.New("invalid input table")

// InputError reports an unreadable or malformed input table.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input table %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInput) match any InputError.
func (e *InputError) Is(target error) bool { return target == ErrInput }

// Table is a row-oriented table of string cells. Column types are not
// inferred; consumers parse the cells they need.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// New builds a table and indexes its columns. Rows shorter than the header
// are padded with missing cells.
func New(columns []string, rows [][]string) *Table {
	t := &Table{Columns: columns, Rows: rows}
	for i, r := range t.Rows {
		if len(r) < len(columns) {
			padded := make([]string, len(columns))
			copy(padded, r)
			t.Rows[i] = padded
		}
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of the named column.
func (t *Table) Column(name string) (int, bool) {
	if t == nil {
		return 0, false
	}
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[name]
	return i, ok
}

// MissingColumns returns the names that are absent from the table.
func (t *Table) MissingColumns(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Cell returns the raw value at row r, column c.
func (t *Table) Cell(r, c int) string {
	row := t.Rows[r]
	if c >= len(row) {
		return ""
	}
	return row[c]
}

// Float parses the cell at row r, column c. ok is false for missing or
// non-numeric cells.
func (t *Table) Float(r, c int) (v float64, ok bool) {
	return ParseFloat(t.Cell(r, c))
}

// IsMissing reports whether a cell holds no value. Empty cells and the
// usual NaN spellings written by spreadsheet and dataframe exports count
// as missing.
func IsMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "na", "n/a", "null", "none", "<na>":
		return true
	}
	return false
}

// ParseFloat parses a numeric cell. A decimal comma is accepted when the
// cell has no dot.
func ParseFloat(s string) (float64, bool) {
	if IsMissing(s) {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
