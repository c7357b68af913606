package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/japaniel/sheetsync/pkg/sheet"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSource reads a delimited export from a URL or a file path.
type CSVSource struct {
	Location string
	// Client is used for URL locations. nil means a client with DefaultTimeout.
	Client *http.Client
}

// Fetch implements Source.
func (s *CSVSource) Fetch(ctx context.Context) (*Result, error) {
	raw, err := readLocation(ctx, s.Client, s.Location)
	if err != nil {
		return nil, err
	}
	grid, err := ParseCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Location, err)
	}
	return &Result{Raw: raw, Grid: grid, Kind: KindCSV, Descriptor: s.Location}, nil
}

// ParseCSV parses raw into a Grid. A leading BOM is dropped, rows may have
// differing lengths, stray quotes are tolerated and blank lines are skipped.
func ParseCSV(raw []byte) (sheet.Grid, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var grid sheet.Grid
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if blankRecord(rec) {
			continue
		}
		grid = append(grid, rec)
	}
	if len(grid) < 2 {
		return nil, sheet.ErrTooFewRows
	}
	return grid, nil
}

// blankRecord matches lines such as ",,,," that encoding/csv does not skip itself.
func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
