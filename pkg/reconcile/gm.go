package reconcile

import "github.com/japaniel/sheetsync/pkg/sheet"

// GM colors, in rank order within a tier.
const (
	GMGreen  = "GREEN"
	GMYellow = "YELLOW"
	GMRed    = "RED"
)

var gmColors = [...]string{GMGreen, GMYellow, GMRed}

// GM is the grandmaster classification derived from a difficulty.
type GM struct {
	Color string
	Tier  int
}

// ClassifyGM splits difficulties 1..8 into tiers of three ranks (1-3, 4-6,
// 7-8) and colors each rank by its position in the tier. Anything outside
// the range has no classification and yields the zero GM.
func ClassifyGM(difficulty int) GM {
	if difficulty < sheet.MinDifficulty || difficulty > sheet.MaxDifficulty {
		return GM{}
	}
	rank := difficulty - 1
	return GM{Color: gmColors[rank%3], Tier: rank/3 + 1}
}
