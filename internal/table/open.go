package table

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// OpenOptions selects the part of a container file to read.
type OpenOptions struct {
	// Table is the SQLite table name. Defaults to "accidents".
	Table string
	// Sheet is the XLSX sheet name. Defaults to the first sheet.
	Sheet string
}

// Format identifies a supported input encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatCSVGz  Format = "csv.gz"
	FormatSQLite Format = "sqlite"
	FormatXLSX   Format = "xlsx"
)

// DetectFormat chooses a reader from the file extension.
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") {
		return FormatCSVGz, nil
	}
	switch filepath.Ext(lower) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported table format %q", filepath.Ext(path))
}

// Open loads the table at path. Reader failures are wrapped in InputError.
func Open(ctx context.Context, path string, opts OpenOptions) (*Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, &InputError{Path: path, Err: err}
	}

	var t *Table
	switch format {
	case FormatCSV:
		t, err = ReadCSVFile(path, false)
	case FormatCSVGz:
		t, err = ReadCSVFile(path, true)
	case FormatSQLite:
		name := opts.Table
		if name == "" {
			name = "accidents"
		}
		t, err = ReadSQLite(ctx, path, name)
	case FormatXLSX:
		t, err = ReadXLSX(path, opts.Sheet)
	}
	if err != nil {
		return nil, &InputError{Path: path, Err: err}
	}
	return t, nil
}
