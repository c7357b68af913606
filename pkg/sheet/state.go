package sheet

import (
	"regexp"
	"strings"
)

const (
	// MaxDifficulty is the difficulty of the first section of the table.
	MaxDifficulty = 8
	// MinDifficulty is the floor of the section counter.
	MinDifficulty = 1
	// SentinelTitle is the map name of the table's first real entry.
	SentinelTitle = "Reach for the Stars"
)

// Phase is the coarse position of the parser in the table.
type Phase int

const (
	// Seeking discards front matter until the sentinel map is seen.
	Seeking Phase = iota
	// InSection accepts map rows under the current difficulty.
	InSection
)

func (p Phase) String() string {
	switch p {
	case Seeking:
		return "seeking"
	case InSection:
		return "in-section"
	default:
		return "unknown"
	}
}

// State is the full parser state between rows. The zero value is not valid, use InitialState.
type State struct {
	Phase      Phase
	Difficulty int
	// Accepted counts maps accepted since the last section total.
	Accepted int
}

// InitialState returns the state before the first row after the header.
func InitialState() State {
	return State{Phase: Seeking, Difficulty: MaxDifficulty}
}

// Action tells the parser what to do with the row it just stepped over.
type Action int

const (
	// Discard drops front matter.
	Discard Action = iota
	// Banner drops a blank, star, or numeric banner row.
	Banner
	// SectionTotal drops a "total:" row; the counter may have moved.
	SectionTotal
	// Malformed drops a row whose first column has no map name.
	Malformed
	// Accept turns the row into a ParsedRow at the state's difficulty.
	Accept
)

func (a Action) String() string {
	switch a {
	case Discard:
		return "discard"
	case Banner:
		return "banner"
	case SectionTotal:
		return "section-total"
	case Malformed:
		return "malformed"
	case Accept:
		return "accept"
	default:
		return "unknown"
	}
}

var numericRe = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)

// Step is the transition function of the row classifier. It never mutates its input.
func Step(s State, row []string) (State, Action) {
	first := strings.TrimSpace(cell(row, 0))

	if s.Phase == Seeking {
		name, _ := SplitMapCreator(first)
		if name != "" && strings.EqualFold(name, SentinelTitle) {
			return State{Phase: InSection, Difficulty: s.Difficulty, Accepted: 1}, Accept
		}
		return s, Discard
	}

	if isTotal(first) || isTotal(cell(row, 1)) {
		if s.Accepted > 0 {
			s.Difficulty--
			if s.Difficulty < MinDifficulty {
				s.Difficulty = MinDifficulty
			}
			s.Accepted = 0
		}
		return s, SectionTotal
	}

	if first == "" || strings.ContainsAny(first, "★☆⭐") || numericRe.MatchString(first) {
		return s, Banner
	}

	if name, _ := SplitMapCreator(first); name == "" {
		return s, Malformed
	}

	s.Accepted++
	return s, Accept
}

func isTotal(v string) bool {
	return strings.Contains(strings.ToLower(v), "total:")
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
