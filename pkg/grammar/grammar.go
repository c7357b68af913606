// Package grammar interprets the free-text player cells of the leaderboard.
//
// A cell such as "fc1 fc2 https://youtu.be/abc" or "g & fc" is reduced to one
// clear category plus the evidence links it carries. Rules are evaluated in a
// fixed order and the first match wins.
package grammar

import (
	"log"
	"regexp"
	"strings"

	"github.com/japaniel/sheetsync/pkg/sheet"
)

// ClearType is the stored category of a clear.
type ClearType string

const (
	CreatorClear           ClearType = "CREATOR_CLEAR"
	CreatorFullClear       ClearType = "CREATOR_FULL_CLEAR"
	CreatorGolden          ClearType = "CREATOR_GOLDEN"
	CreatorGoldenFullClear ClearType = "CREATOR_GOLDEN_FULL_CLEAR"
	GoldenAndFullClear     ClearType = "GOLDEN_AND_FULL_CLEAR"
	GoldenFullClear        ClearType = "GOLDEN_FULL_CLEAR"
	Golden                 ClearType = "GOLDEN"
	DeathlessSegment       ClearType = "DEATHLESS_SEGMENT"
	ClearVideoAndFullClear ClearType = "CLEAR_VIDEO_AND_FULL_CLEAR"
	ClearVideo             ClearType = "CLEAR_VIDEO"
	FullClearVideo         ClearType = "FULL_CLEAR_VIDEO"
	// FullClear is a full clear claimed without a video.
	FullClear ClearType = "FULL_CLEAR"
	// Clear is a clear claimed without a video.
	Clear ClearType = "CLEAR"
)

// AllTypes lists every category in rule precedence order.
var AllTypes = []ClearType{
	CreatorGoldenFullClear, CreatorGolden, CreatorFullClear, CreatorClear,
	GoldenAndFullClear, GoldenFullClear, Golden,
	DeathlessSegment,
	ClearVideoAndFullClear, ClearVideo,
	FullClearVideo,
	FullClear, Clear,
}

// Valid reports whether t is a known category.
func (t ClearType) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// NoEvidence is the single evidence entry of a clear claimed without a link.
const NoEvidence = ""

// ClearRecord is an interpreted cell.
type ClearRecord struct {
	Type         ClearType
	EvidenceURLs []string
}

// Cell is a player cell split into lowercased text (links removed) and its links.
type Cell struct {
	Raw  string
	Text string
	URLs []string
}

// NewCell tokenises raw cell text.
func NewCell(raw string) Cell {
	return Cell{
		Raw:  raw,
		Text: strings.ToLower(sheet.NormalizeName(sheet.StripURLs(raw))),
		URLs: sheet.ExtractURLs(raw),
	}
}

var (
	fcRe        = regexp.MustCompile(`\bfc\d*\b|full ?clear`)
	deathlessRe = regexp.MustCompile(`\bs\d*\b|deathless|segment`)
	videoRe     = regexp.MustCompile(`\bv\d*\b|video|vidya|vibeo`)
	noVideoRe   = regexp.MustCompile(`\bnv\d*\b|no video|without video`)
)

// Creator reports the "creator" marker.
func (c Cell) Creator() bool { return strings.Contains(c.Text, "creator") }

// Golden reports the golden marker. Any "g" counts, except inside "not good enough"
// which suppresses the golden reading of the whole cell.
func (c Cell) Golden() bool {
	return strings.Contains(c.Text, "g") && !strings.Contains(c.Text, "not good enough")
}

// FullClear reports an "fc" token (optionally numbered) or the words "full clear".
func (c Cell) FullClear() bool { return fcRe.MatchString(c.Text) }

// Conjunction reports an explicit "&" bundling two claims.
func (c Cell) Conjunction() bool { return strings.Contains(c.Text, "&") }

// Deathless reports an "s" segment token or the words "deathless"/"segment".
func (c Cell) Deathless() bool { return deathlessRe.MatchString(c.Text) }

// NoVideo reports "nv" or the phrases "no video"/"without video".
func (c Cell) NoVideo() bool { return noVideoRe.MatchString(c.Text) }

// Video reports a "v" token, "video", or one of the joke spellings. A "no video"
// phrase does not count as a video marker.
func (c Cell) Video() bool {
	return videoRe.MatchString(noVideoRe.ReplaceAllString(c.Text, " "))
}

// HasURL reports whether the cell carried at least one link.
func (c Cell) HasURL() bool { return len(c.URLs) > 0 }

// Rule maps a predicate over a Cell to a category.
type Rule struct {
	Name  string
	Match func(Cell) bool
	Type  ClearType
}

// DefaultRules is the leaderboard grammar in precedence order.
var DefaultRules = []Rule{
	{"creator-golden-fc", func(c Cell) bool { return c.Creator() && c.Golden() && c.FullClear() }, CreatorGoldenFullClear},
	{"creator-golden", func(c Cell) bool { return c.Creator() && c.Golden() }, CreatorGolden},
	{"creator-fc", func(c Cell) bool { return c.Creator() && c.FullClear() }, CreatorFullClear},
	{"creator", Cell.Creator, CreatorClear},
	{"golden-and-fc", func(c Cell) bool { return c.FullClear() && c.Golden() && c.Conjunction() }, GoldenAndFullClear},
	{"golden-fc", func(c Cell) bool { return c.Golden() && c.FullClear() }, GoldenFullClear},
	{"golden", Cell.Golden, Golden},
	{"deathless", Cell.Deathless, DeathlessSegment},
	{"video-fc", func(c Cell) bool { return c.Video() && c.FullClear() }, ClearVideoAndFullClear},
	{"video", Cell.Video, ClearVideo},
	{"fc-video", func(c Cell) bool { return c.FullClear() && c.HasURL() && !c.NoVideo() }, FullClearVideo},
	{"nv-fc", func(c Cell) bool { return c.NoVideo() && c.FullClear() }, FullClear},
	{"nv", Cell.NoVideo, Clear},
}

// Interpreter applies a rule table to cells.
type Interpreter struct {
	// Rules defaults to DefaultRules when nil.
	Rules []Rule
	// Logger receives unrecognised cells. nil means no logging.
	Logger *log.Logger
}

// Match returns the first rule matching c.
func (in *Interpreter) Match(c Cell) (Rule, bool) {
	rules := DefaultRules
	if in != nil && in.Rules != nil {
		rules = in.Rules
	}
	for _, r := range rules {
		if r.Match(c) {
			return r, true
		}
	}
	return Rule{}, false
}

// Interpret returns the clear described by raw, or nil for an empty or
// unrecognised cell.
func (in *Interpreter) Interpret(raw string) *ClearRecord {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	c := NewCell(raw)
	r, ok := in.Match(c)
	if !ok {
		if in != nil && in.Logger != nil {
			in.Logger.Printf("Warning: invalid run %q, ignoring", raw)
		}
		return nil
	}
	urls := c.URLs
	if len(urls) == 0 {
		urls = []string{NoEvidence}
	}
	return &ClearRecord{Type: r.Type, EvidenceURLs: urls}
}
