package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	titleFields = googleapi.Field("sheets.properties.title")
	gridFields  = googleapi.Field("sheets.data.rowData.values(formattedValue,hyperlink,textFormatRuns.format.link.uri)")
)

var spreadsheetIDRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID accepts a full Google Sheets URL or a bare id.
func SpreadsheetID(s string) string {
	s = strings.TrimSpace(s)
	if m := spreadsheetIDRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// SheetsSource reads a tab through the Google Sheets API, keeping each cell's
// hyperlinks.
type SheetsSource struct {
	// Spreadsheet is a URL or id.
	Spreadsheet string
	// SheetName selects the tab; empty means the first tab.
	SheetName string

	APIKey string
	// CredentialsFile is a service-account JSON path, used when APIKey is empty.
	CredentialsFile string

	// HTTPClient and Endpoint override transport and base URL. When HTTPClient
	// is set no credentials are attached.
	HTTPClient *http.Client
	Endpoint   string
}

func (s *SheetsSource) service(ctx context.Context) (*sheets.Service, error) {
	var opts []option.ClientOption
	switch {
	case s.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	case s.APIKey != "":
		opts = append(opts, option.WithAPIKey(s.APIKey))
	case s.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile), option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	default:
		return nil, fmt.Errorf("sheets: no credentials (set SHEETS_API_KEY or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return srv, nil
}

// Fetch implements Source. Raw content is the JSON of the flattened cells.
func (s *SheetsSource) Fetch(ctx context.Context) (*Result, error) {
	id := SpreadsheetID(s.Spreadsheet)
	if id == "" {
		return nil, fmt.Errorf("sheets: empty spreadsheet id")
	}
	srv, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	meta, err := srv.Spreadsheets.Get(id).Fields(titleFields).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: get %s: %w", id, err)
	}
	titles := make([]string, 0, len(meta.Sheets))
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	tab, err := pickSheet(titles, s.SheetName)
	if err != nil {
		return nil, err
	}

	doc, err := srv.Spreadsheets.Get(id).Ranges(quoteSheet(tab)).IncludeGridData(true).Fields(gridFields).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: get grid %s/%s: %w", id, tab, err)
	}
	cells := flattenSpreadsheet(doc)
	raw, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("sheets: encode cells: %w", err)
	}
	return &Result{Raw: raw, Grid: Flatten(cells), Kind: KindSheet, Descriptor: id + "/" + tab}, nil
}

// quoteSheet renders a tab title as an A1 range.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func flattenSpreadsheet(doc *sheets.Spreadsheet) [][]Cell {
	var rows [][]Cell
	for _, sh := range doc.Sheets {
		for _, data := range sh.Data {
			for _, rd := range data.RowData {
				row := make([]Cell, 0, len(rd.Values))
				for _, v := range rd.Values {
					row = append(row, flattenCell(v))
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}

func flattenCell(v *sheets.CellData) Cell {
	if v == nil {
		return Cell{}
	}
	c := Cell{Value: v.FormattedValue}
	c.AddLink(v.Hyperlink)
	for _, run := range v.TextFormatRuns {
		if run == nil || run.Format == nil || run.Format.Link == nil {
			continue
		}
		c.AddLink(run.Format.Link.Uri)
	}
	return c
}
