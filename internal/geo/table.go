// Package geo attaches point geometry to accident tables and provides the
// filtering and extent helpers used by the map renderers.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/table"
)

// ErrInput matches every InputError via errors.Is.
var ErrInput = errors.New("invalid input")

// InputError reports a table that cannot be geocoded or filtered: a
// required column is absent or the CRS is unknown.
type InputError struct {
	Column string
	Reason string
}

func (e *InputError) Error() string {
	if e.Column == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: column %q: %s", e.Column, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInput }

// Options controls MakeGeo.
type Options struct {
	XColumn string
	YColumn string
	CRS     string
}

// DefaultOptions matches the police accident export: easting in column
// "d", northing in column "e", S-JTSK Krovak East North.
func DefaultOptions() Options {
	return Options{XColumn: "d", YColumn: "e", CRS: CRSKrovak}
}

// Feature is one accident with its location. Attrs holds every input
// column, geometry columns included, in Table.Columns order.
type Feature struct {
	Point orb.Point
	Attrs []string
}

// Table is a geometry table: the input table narrowed to rows with a
// location, each carrying its point.
type Table struct {
	CRS      string
	Columns  []string
	Features []Feature

	index map[string]int
}

// NewTable builds a geometry table over the given columns.
func NewTable(crs string, columns []string, features []Feature) *Table {
	t := &Table{CRS: crs, Columns: columns, Features: features}
	t.index = make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	return t
}

// RequireColumns fails with an InputError naming the first absent column.
func RequireColumns(t *table.Table, names ...string) error {
	if t == nil || len(t.Columns) == 0 {
		return nil
	}
	if missing := t.MissingColumns(names...); len(missing) > 0 {
		return &InputError{Column: missing[0], Reason: "required column is missing"}
	}
	return nil
}

// MakeGeo converts t into a geometry table. Rows whose X or Y cell is
// missing or not a number are dropped. A table without any columns (an
// empty input file) yields an empty geometry table.
func MakeGeo(t *table.Table, opts Options) (*Table, error) {
	crs := normalizeCRS(opts.CRS)
	if !IsSupportedCRS(crs) {
		return nil, &InputError{Reason: fmt.Sprintf("unsupported CRS %q", opts.CRS)}
	}
	if t == nil || len(t.Columns) == 0 {
		return NewTable(crs, nil, nil), nil
	}
	if err := RequireColumns(t, opts.XColumn, opts.YColumn); err != nil {
		return nil, err
	}
	xi, _ := t.Column(opts.XColumn)
	yi, _ := t.Column(opts.YColumn)

	features := make([]Feature, 0, t.Len())
	var unparsable int
	for r, row := range t.Rows {
		xs, ys := t.Cell(r, xi), t.Cell(r, yi)
		if table.IsMissing(xs) || table.IsMissing(ys) {
			continue
		}
		x, okX := table.ParseFloat(xs)
		y, okY := table.ParseFloat(ys)
		if !okX || !okY || math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			unparsable++
			continue
		}
		features = append(features, Feature{Point: orb.Point{x, y}, Attrs: row})
	}
	if unparsable > 0 {
		monitoring.Warnf("dropped %d rows with non-numeric coordinates in %s/%s", unparsable, opts.XColumn, opts.YColumn)
	}
	return NewTable(crs, t.Columns, features), nil
}

// Len returns the number of features.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Features)
}

// Column returns the index of the named attribute.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Attr returns attribute col of feature i, or "" when absent.
func (t *Table) Attr(i int, name string) string {
	c, ok := t.Column(name)
	if !ok || c >= len(t.Features[i].Attrs) {
		return ""
	}
	return t.Features[i].Attrs[c]
}

// Filter returns the features for which keep is true. The receiver is
// not modified.
func (t *Table) Filter(keep func(Feature) bool) *Table {
	out := make([]Feature, 0, len(t.Features))
	for _, f := range t.Features {
		if keep(f) {
			out = append(out, f)
		}
	}
	return NewTable(t.CRS, t.Columns, out)
}

// FilterRegion keeps features whose region attribute equals code. An
// absent code yields an empty table. Callers check the column exists with
// RequireGeoColumns first; an absent column also yields an empty table.
func (t *Table) FilterRegion(column, code string) *Table {
	c, ok := t.Column(column)
	if !ok {
		return NewTable(t.CRS, t.Columns, nil)
	}
	return t.Filter(func(f Feature) bool {
		return c < len(f.Attrs) && CodeEqual(f.Attrs[c], code)
	})
}

// SplitByLocation partitions the table by location category into
// in-town, out-of-town and unrecognised subsets. The three are disjoint
// and together hold every feature.
func (t *Table) SplitByLocation(column, inCode, outCode string) (in, out, other *Table) {
	c, ok := t.Column(column)
	var inF, outF, otherF []Feature
	for _, f := range t.Features {
		var v string
		if ok && c < len(f.Attrs) {
			v = f.Attrs[c]
		}
		switch {
		case ok && CodeEqual(v, inCode):
			inF = append(inF, f)
		case ok && CodeEqual(v, outCode):
			outF = append(outF, f)
		default:
			otherF = append(otherF, f)
		}
	}
	return NewTable(t.CRS, t.Columns, inF),
		NewTable(t.CRS, t.Columns, outF),
		NewTable(t.CRS, t.Columns, otherF)
}

// RequireGeoColumns fails with an InputError naming the first attribute
// column the geometry table lacks. An empty, column-less table passes.
func RequireGeoColumns(t *Table, names ...string) error {
	if t == nil || len(t.Columns) == 0 {
		return nil
	}
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			return &InputError{Column: n, Reason: "required column is missing"}
		}
	}
	return nil
}

// Points returns the feature locations in order.
func (t *Table) Points() []orb.Point {
	pts := make([]orb.Point, len(t.Features))
	for i, f := range t.Features {
		pts[i] = f.Point
	}
	return pts
}

// Bound returns the bounding box of all features. ok is false for an
// empty table.
func (t *Table) Bound() (b orb.Bound, ok bool) {
	if t.Len() == 0 {
		return orb.Bound{}, false
	}
	return orb.MultiPoint(t.Points()).Bound(), true
}

// CodeEqual compares category codes. Codes that both parse as numbers
// compare numerically so "1" matches "1.0"; others compare as trimmed
// strings.
func CodeEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}
