package table

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads one worksheet. The first row is the header; an empty
// sheet name selects the first sheet in the workbook.
func ReadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return New(nil, nil), nil
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return New(nil, nil), nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	body := rows[1:]
	for i, r := range body {
		if len(r) > len(header) {
			body[i] = r[:len(header)]
		}
	}
	// GetRows drops trailing empty cells; New pads them back as missing.
	return New(header, body), nil
}
