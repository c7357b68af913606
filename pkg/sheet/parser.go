package sheet

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// Column layout of the leaderboard table.
const (
	ColMapName     = 0
	ColVideo       = 3
	ColFirstPlayer = 4
)

var (
	// ErrTooFewRows is returned for a grid without a header and at least one data row.
	ErrTooFewRows = errors.New("sheet: grid has fewer than two rows")
	// ErrNoSentinel is returned when the first real map row never shows up.
	ErrNoSentinel = fmt.Errorf("sheet: sentinel row %q not found", SentinelTitle)
)

// Grid is a rectangular-ish table of cells, header first.
type Grid [][]string

// ParsedRow is one accepted map row.
type ParsedRow struct {
	// Line is the 1-based row number in the grid, header included.
	Line              int
	MapName           string
	CreatorName       string
	Difficulty        int
	CanonicalVideoURL string
	// PlayerCells maps a player handle to the raw cell text. Blank cells are absent.
	PlayerCells map[string]string
}

// Parser turns a Grid into ParsedRows.
type Parser struct {
	// Logger receives row-level warnings. nil means no logging.
	Logger *log.Logger
}

// PlayerColumns returns the non-empty header names from the first player column on,
// sorted alphabetically, and whether the header was already in that order.
func PlayerColumns(header []string) (players []string, ordered bool) {
	for i := ColFirstPlayer; i < len(header); i++ {
		if name := NormalizeName(header[i]); name != "" {
			players = append(players, name)
		}
	}
	ordered = sort.StringsAreSorted(players)
	sort.Strings(players)
	return players, ordered
}

// Parse walks the grid once and returns the accepted rows. The last accepted
// row is the table's summary row and is always dropped.
func (p *Parser) Parse(grid Grid) ([]ParsedRow, error) {
	if len(grid) < 2 {
		return nil, ErrTooFewRows
	}

	players, ordered := PlayerColumns(grid[0])
	if !ordered {
		p.logf("Warning: player header is not alphabetical; cells are matched to the sorted handle list")
	}

	var out []ParsedRow
	state := InitialState()
	seenSentinel := false

	for i := 1; i < len(grid); i++ {
		row := grid[i]
		next, action := Step(state, row)
		switch action {
		case Accept:
			seenSentinel = true
			out = append(out, buildRow(i+1, row, next.Difficulty, players))
		case Malformed:
			p.logf("Warning: row %d: %q does not name a map, skipping", i+1, strings.TrimSpace(cell(row, ColMapName)))
		}
		state = next
	}

	if !seenSentinel {
		return nil, ErrNoSentinel
	}

	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func buildRow(line int, row []string, difficulty int, players []string) ParsedRow {
	mapName, creator := SplitMapCreator(cell(row, ColMapName))

	var video string
	if urls := ExtractURLs(cell(row, ColVideo)); len(urls) > 0 {
		video = urls[0]
	}

	cells := make(map[string]string)
	for j, handle := range players {
		idx := ColFirstPlayer + j
		if idx >= len(row) {
			break
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			cells[handle] = v
		}
	}

	return ParsedRow{
		Line:              line,
		MapName:           mapName,
		CreatorName:       creator,
		Difficulty:        difficulty,
		CanonicalVideoURL: video,
		PlayerCells:       cells,
	}
}

func (p *Parser) logf(format string, args ...interface{}) {
	if p != nil && p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
