// Package source fetches the leaderboard table from a CSV export, the Google
// Sheets API or an .xlsx workbook and normalizes it into a sheet.Grid.
package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/japaniel/sheetsync/pkg/sheet"
)

// Kind names the origin of a fetched table.
type Kind string

const (
	KindCSV   Kind = "csv"
	KindSheet Kind = "sheet"
	KindXLSX  Kind = "xlsx"
)

// Ext is the file extension used when archiving raw content of this kind.
func (k Kind) Ext() string {
	switch k {
	case KindSheet:
		return "json"
	case KindXLSX:
		return "xlsx"
	default:
		return "csv"
	}
}

// MaxBodyBytes caps how much of an HTTP response is read.
const MaxBodyBytes = 10 << 20

// DefaultTimeout is used when a source is built without an HTTP client.
const DefaultTimeout = 30 * time.Second

var (
	// ErrSheetNotFound is returned when the requested tab does not exist.
	ErrSheetNotFound = errors.New("source: sheet not found")
	// ErrBodyTooLarge is returned when a download exceeds MaxBodyBytes.
	ErrBodyTooLarge = fmt.Errorf("source: response larger than %d bytes", MaxBodyBytes)
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.StatusCode, e.Status)
}

// Result is one fetched table.
type Result struct {
	// Raw is the content the fingerprint is computed over.
	Raw  []byte
	Grid sheet.Grid
	Kind Kind
	// Descriptor is the URL, path or spreadsheet id the table came from.
	Descriptor string
}

// Source fetches a table.
type Source interface {
	Fetch(ctx context.Context) (*Result, error)
}

// Cell is a flattened spreadsheet cell: its display value and the
// hyperlinks attached to it, in order, without duplicates.
type Cell struct {
	Value string   `json:"value"`
	Links []string `json:"links,omitempty"`
}

// AddLink appends uri unless it is empty or already present.
func (c *Cell) AddLink(uri string) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return
	}
	for _, l := range c.Links {
		if l == uri {
			return
		}
	}
	c.Links = append(c.Links, uri)
}

// InlineLinks reports whether links of the cell at (row, col) are appended to
// its text. The header row and the name/metadata columns stay clean so they
// parse; the video column and player columns carry their links inline.
func InlineLinks(row, col int) bool {
	if row == 0 {
		return false
	}
	return col == sheet.ColVideo || col >= sheet.ColFirstPlayer
}

// Flatten converts cell rows into a Grid, appending links as space separated
// tokens where InlineLinks allows. A link already present in the text is not
// repeated.
func Flatten(rows [][]Cell) sheet.Grid {
	grid := make(sheet.Grid, len(rows))
	for r, cells := range rows {
		out := make([]string, len(cells))
		for c, cell := range cells {
			text := cell.Value
			if InlineLinks(r, c) {
				for _, l := range cell.Links {
					if strings.Contains(text, l) {
						continue
					}
					if text == "" {
						text = l
					} else {
						text += " " + l
					}
				}
			}
			out[c] = text
		}
		grid[r] = out
	}
	return grid
}

func isURL(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// readLocation returns the bytes at loc, which is either an http(s) URL or a
// filesystem path.
func readLocation(ctx context.Context, client *http.Client, loc string) ([]byte, error) {
	if !isURL(loc) {
		b, err := os.ReadFile(loc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", loc, err)
		}
		return b, nil
	}
	return download(ctx, defaultClient(client), loc)
}

func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", "sheetsync/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	reader, err := decodedBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(reader, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// decodedBody undoes Content-Encoding. Setting Accept-Encoding by hand turns
// off the transport's transparent gzip handling, so both are handled here.
func decodedBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// pickSheet returns want if it is among titles, or the first title when want
// is empty.
func pickSheet(titles []string, want string) (string, error) {
	if len(titles) == 0 {
		return "", fmt.Errorf("%w: document has no sheets", ErrSheetNotFound)
	}
	if want == "" {
		return titles[0], nil
	}
	for _, t := range titles {
		if t == want {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q (have %s)", ErrSheetNotFound, want, strings.Join(titles, ", "))
}
