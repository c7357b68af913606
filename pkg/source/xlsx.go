package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"
)

// XLSXSource reads a tab of an .xlsx workbook from a URL or a file path.
type XLSXSource struct {
	Location string
	// SheetName selects the tab; empty means the first tab.
	SheetName string
	Client    *http.Client
}

// Fetch implements Source. Raw content is the workbook bytes.
func (s *XLSXSource) Fetch(ctx context.Context) (*Result, error) {
	raw, err := readLocation(ctx, s.Client, s.Location)
	if err != nil {
		return nil, err
	}
	cells, tab, err := ReadWorkbook(raw, s.SheetName)
	if err != nil {
		return nil, fmt.Errorf("xlsx %s: %w", s.Location, err)
	}
	return &Result{Raw: raw, Grid: Flatten(cells), Kind: KindXLSX, Descriptor: s.Location + "#" + tab}, nil
}

// ReadWorkbook returns the flattened cells of the selected tab and its title.
// Hyperlinks are only looked up where they would be inlined.
func ReadWorkbook(raw []byte, sheetName string) ([][]Cell, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	tab, err := pickSheet(f.GetSheetList(), sheetName)
	if err != nil {
		return nil, "", err
	}
	rows, err := f.GetRows(tab)
	if err != nil {
		return nil, "", fmt.Errorf("read rows: %w", err)
	}

	out := make([][]Cell, len(rows))
	for r, row := range rows {
		cells := make([]Cell, len(row))
		for c, v := range row {
			cells[c] = Cell{Value: v}
			if !InlineLinks(r, c) {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, "", err
			}
			ok, link, err := f.GetCellHyperLink(tab, ref)
			if err != nil {
				return nil, "", fmt.Errorf("hyperlink %s: %w", ref, err)
			}
			if ok {
				cells[c].AddLink(link)
			}
		}
		out[r] = cells
	}
	return out, tab, nil
}
