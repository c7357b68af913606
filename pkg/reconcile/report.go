package reconcile

import (
	"fmt"
	"io"
)

// DetailCap bounds how many items per category a dry-run report lists.
const DetailCap = 10

// Pair names a (map, player) clear edge.
type Pair struct {
	Map    string
	Player string
}

func (p Pair) String() string { return p.Map + " / " + p.Player }

// ClearChange is a planned clear create or replace.
type ClearChange struct {
	Pair
	Type string
}

// BlockedHandle is a new handle that differs from an existing one only by case.
type BlockedHandle struct {
	Handle   string
	Existing string
}

// MapChange is a planned map update with the fields that differ.
type MapChange struct {
	Name   string
	Fields []string
}

// Report is the change set of one reconciliation. In a live run it is what
// was applied; in a dry run it is what would have been.
type Report struct {
	DryRun bool

	CreatorsCreated []string
	PlayersCreated  []string
	PlayersBlocked  []BlockedHandle
	MapsCreated     []string
	MapsUpdated     []MapChange
	// MapsSkipped lists rows that could not get a map (no creator, no free slug).
	MapsSkipped []string

	ClearsCreated   []ClearChange
	ClearsReplaced  []ClearChange
	ClearsUnchanged int
	// Unresolved lists pairs whose map or player could not be resolved after the retry.
	Unresolved []Pair
}

// Mutations counts the planned or applied writes.
func (r *Report) Mutations() int {
	return len(r.CreatorsCreated) + len(r.PlayersCreated) + len(r.MapsCreated) +
		len(r.MapsUpdated) + len(r.ClearsCreated) + len(r.ClearsReplaced)
}

// Print writes a human summary. Dry runs list up to DetailCap items per
// category; blocked handles and unresolved pairs are always listed in full.
func (r *Report) Print(w io.Writer) {
	verb := "Created"
	if r.DryRun {
		verb = "Would create"
	}
	section(w, r.DryRun, verb+" creators", r.CreatorsCreated)
	section(w, r.DryRun, verb+" players", r.PlayersCreated)
	section(w, r.DryRun, verb+" maps", r.MapsCreated)

	updates := make([]string, len(r.MapsUpdated))
	for i, u := range r.MapsUpdated {
		updates[i] = fmt.Sprintf("%s (%v)", u.Name, u.Fields)
	}
	if r.DryRun {
		section(w, true, "Would update maps", updates)
	} else {
		section(w, false, "Updated maps", updates)
	}

	section(w, r.DryRun, verb+" clears", changeLines(r.ClearsCreated))
	if r.DryRun {
		section(w, true, "Would replace clears", changeLines(r.ClearsReplaced))
	} else {
		section(w, false, "Replaced clears", changeLines(r.ClearsReplaced))
	}
	fmt.Fprintf(w, "Unchanged clears: %d\n", r.ClearsUnchanged)

	if len(r.MapsSkipped) > 0 {
		fmt.Fprintf(w, "Skipped maps: %d\n", len(r.MapsSkipped))
		for _, m := range r.MapsSkipped {
			fmt.Fprintf(w, "  - %s\n", m)
		}
	}
	if len(r.PlayersBlocked) > 0 {
		fmt.Fprintf(w, "Blocked players (case-insensitive match): %d\n", len(r.PlayersBlocked))
		for _, b := range r.PlayersBlocked {
			fmt.Fprintf(w, "  - %s (existing %s)\n", b.Handle, b.Existing)
		}
	}
	if len(r.Unresolved) > 0 {
		fmt.Fprintf(w, "Unresolved clears: %d\n", len(r.Unresolved))
		for _, p := range r.Unresolved {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}
}

func changeLines(cs []ClearChange) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = fmt.Sprintf("%s: %s", c.Pair, c.Type)
	}
	return out
}

func section(w io.Writer, detail bool, title string, items []string) {
	fmt.Fprintf(w, "%s: %d\n", title, len(items))
	if !detail {
		return
	}
	for i, it := range items {
		if i == DetailCap {
			fmt.Fprintf(w, "  ... and %d more\n", len(items)-DetailCap)
			break
		}
		fmt.Fprintf(w, "  - %s\n", it)
	}
}
