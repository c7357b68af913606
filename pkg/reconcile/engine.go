// Package reconcile computes and applies the changes that bring the store in
// line with a parsed leaderboard: creators, players, maps and one clear per
// (map, player) pair.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/japaniel/sheetsync/pkg/db"
	"github.com/japaniel/sheetsync/pkg/grammar"
	"github.com/japaniel/sheetsync/pkg/sheet"
)

const (
	DefaultMapWorkers = 16
	DefaultClearBatch = 200
)

// Row is a parsed map row together with its interpreted player cells.
type Row struct {
	sheet.ParsedRow
	// Clears maps a player handle to its interpreted cell. Cells the grammar
	// rejected are absent.
	Clears map[string]grammar.ClearRecord
}

// DateLookup finds when the video behind an evidence URL was published.
// ok is false for URLs the lookup does not handle.
type DateLookup interface {
	UploadDate(ctx context.Context, videoURL string) (t time.Time, ok bool, err error)
}

// Engine reconciles rows against a Gateway.
type Engine struct {
	Gateway db.Gateway
	// DryRun computes the same report but makes no mutating Gateway call.
	DryRun bool
	// Logger receives warnings. nil means no logging.
	Logger *log.Logger

	// MapWorkers bounds concurrent map updates. 0 means DefaultMapWorkers.
	MapWorkers int
	// ClearBatchSize is the chunk size for clear creates. 0 means DefaultClearBatch.
	ClearBatchSize int
	// Dates, when set, fills AchievedAt on clears written by a live run.
	Dates DateLookup
}

// Run reconciles rows and returns what changed (or would change).
func (e *Engine) Run(ctx context.Context, rows []Row) (*Report, error) {
	rep := &Report{DryRun: e.DryRun}
	res := NewIdentityResolver()
	var err error

	if res, err = e.syncCreators(ctx, rows, res, rep); err != nil {
		return nil, err
	}
	if res, err = e.syncPlayers(ctx, rows, res, rep); err != nil {
		return nil, err
	}
	if res, err = e.syncMaps(ctx, rows, res, rep); err != nil {
		return nil, err
	}
	if err := e.syncClears(ctx, rows, res, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// appendUnique appends v to list unless seen already has it.
func appendUnique(list []string, seen map[string]bool, v string) []string {
	if v == "" || seen[v] {
		return list
	}
	seen[v] = true
	return append(list, v)
}

func sortedHandles(cells map[string]string) []string {
	hs := make([]string, 0, len(cells))
	for h := range cells {
		hs = append(hs, h)
	}
	sort.Strings(hs)
	return hs
}

func (e *Engine) syncCreators(ctx context.Context, rows []Row, res IdentityResolver, rep *Report) (IdentityResolver, error) {
	var names []string
	seen := map[string]bool{}
	for _, r := range rows {
		names = appendUnique(names, seen, r.CreatorName)
	}
	existing, err := e.Gateway.FindCreatorsByName(ctx, names)
	if err != nil {
		return res, err
	}
	res, _ = res.WithCreators(existing)

	var missing []string
	for _, n := range names {
		if _, ok := res.Creator(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}
	rep.CreatorsCreated = missing
	if e.DryRun {
		res, _ = res.WithPending(KindCreator, missing)
		return res, nil
	}
	if _, err := e.Gateway.CreateCreators(ctx, missing); err != nil {
		return res, err
	}
	created, err := e.Gateway.FindCreatorsByName(ctx, missing)
	if err != nil {
		return res, err
	}
	res, _ = res.WithCreators(created)
	return res, nil
}

func (e *Engine) syncPlayers(ctx context.Context, rows []Row, res IdentityResolver, rep *Report) (IdentityResolver, error) {
	var handles []string
	seen := map[string]bool{}
	for _, r := range rows {
		for _, h := range sortedHandles(r.PlayerCells) {
			handles = appendUnique(handles, seen, h)
		}
	}
	existing, err := e.Gateway.FindPlayersByHandle(ctx, handles)
	if err != nil {
		return res, err
	}
	res, _ = res.WithPlayers(existing)

	var missing []string
	for _, h := range handles {
		if _, ok := res.Player(h); !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}

	// A new handle that equals a stored or earlier new handle up to case is
	// not created; its clears stay unresolved until the sheet is fixed.
	folded, err := e.Gateway.FindPlayersByHandleFold(ctx, missing)
	if err != nil {
		return res, err
	}
	taken := map[string]string{}
	for _, p := range folded {
		if _, ok := taken[strings.ToLower(p.Handle)]; !ok {
			taken[strings.ToLower(p.Handle)] = p.Handle
		}
	}
	var create []string
	for _, h := range missing {
		key := strings.ToLower(h)
		if other, ok := taken[key]; ok {
			rep.PlayersBlocked = append(rep.PlayersBlocked, BlockedHandle{Handle: h, Existing: other})
			e.logf("Warning: player %q differs from %q only by case, not creating", h, other)
			continue
		}
		taken[key] = h
		create = append(create, h)
	}
	if len(create) == 0 {
		return res, nil
	}
	rep.PlayersCreated = create
	if e.DryRun {
		res, _ = res.WithPending(KindPlayer, create)
		return res, nil
	}
	if _, err := e.Gateway.CreatePlayers(ctx, create); err != nil {
		return res, err
	}
	created, err := e.Gateway.FindPlayersByHandle(ctx, create)
	if err != nil {
		return res, err
	}
	res, _ = res.WithPlayers(created)
	return res, nil
}

// latestRows returns map names in first-seen order and the last row for each.
func latestRows(rows []Row) ([]string, map[string]Row) {
	var names []string
	seen := map[string]bool{}
	latest := make(map[string]Row, len(rows))
	for _, r := range rows {
		names = appendUnique(names, seen, r.MapName)
		latest[r.MapName] = r
	}
	return names, latest
}

func mapDiff(have db.Map, want db.Map) []string {
	var fields []string
	if have.Difficulty != want.Difficulty {
		fields = append(fields, "difficulty")
	}
	if have.GMColor != want.GMColor {
		fields = append(fields, "gmColor")
	}
	if have.GMTier != want.GMTier {
		fields = append(fields, "gmTier")
	}
	if have.CanonicalVideoURL != want.CanonicalVideoURL {
		fields = append(fields, "canonicalVideoUrl")
	}
	return fields
}

func desiredMap(r Row) db.Map {
	gm := ClassifyGM(r.Difficulty)
	return db.Map{
		Name:              r.MapName,
		Difficulty:        r.Difficulty,
		GMColor:           gm.Color,
		GMTier:            gm.Tier,
		CanonicalVideoURL: r.CanonicalVideoURL,
	}
}

func (e *Engine) syncMaps(ctx context.Context, rows []Row, res IdentityResolver, rep *Report) (IdentityResolver, error) {
	names, latest := latestRows(rows)
	existing, err := e.Gateway.FindMapsByName(ctx, names)
	if err != nil {
		return res, err
	}
	byName := make(map[string]db.Map, len(existing))
	for _, m := range existing {
		byName[m.Name] = m
	}
	res, _ = res.WithMaps(existing)

	var creates, updates []db.Map
	for _, name := range names {
		want := desiredMap(latest[name])
		if have, ok := byName[name]; ok {
			fields := mapDiff(have, want)
			if len(fields) == 0 {
				continue
			}
			want.ID, want.Slug, want.CreatorID = have.ID, have.Slug, have.CreatorID
			updates = append(updates, want)
			rep.MapsUpdated = append(rep.MapsUpdated, MapChange{Name: name, Fields: fields})
			continue
		}
		cid, ok := res.Creator(latest[name].CreatorName)
		if !ok {
			rep.MapsSkipped = append(rep.MapsSkipped, fmt.Sprintf("%s (creator %q unresolved)", name, latest[name].CreatorName))
			e.logf("Warning: map %q has no resolvable creator %q, skipping", name, latest[name].CreatorName)
			continue
		}
		want.CreatorID = cid
		creates = append(creates, want)
	}

	creates, err = e.assignSlugs(ctx, creates, rep)
	if err != nil {
		return res, err
	}
	for _, m := range creates {
		rep.MapsCreated = append(rep.MapsCreated, m.Name)
	}

	if e.DryRun {
		res, _ = res.WithPending(KindMap, rep.MapsCreated)
		return res, nil
	}

	if len(creates) > 0 {
		if _, err := e.Gateway.CreateMaps(ctx, creates); err != nil {
			return res, err
		}
		created, err := e.Gateway.FindMapsByName(ctx, rep.MapsCreated)
		if err != nil {
			return res, err
		}
		res, _ = res.WithMaps(created)
	}
	if err := e.applyMapUpdates(ctx, updates); err != nil {
		return res, err
	}
	return res, nil
}

// assignSlugs gives each new map its kebab-case slug, or the hashed fallback
// when the slug belongs to another map. Maps left without a free slug are
// dropped and reported.
func (e *Engine) assignSlugs(ctx context.Context, creates []db.Map, rep *Report) ([]db.Map, error) {
	if len(creates) == 0 {
		return nil, nil
	}
	bases := make([]string, len(creates))
	for i, m := range creates {
		bases[i] = Slugify(m.Name)
		if bases[i] == "" {
			bases[i] = HashedSlug(m.Name)
		}
	}
	taken, err := e.storedSlugs(ctx, bases)
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	var hashed []string
	for i := range creates {
		slug := bases[i]
		if taken[slug] || used[slug] {
			slug = HashedSlug(creates[i].Name)
			hashed = append(hashed, slug)
		}
		creates[i].Slug = slug
		used[slug] = true
	}
	if len(hashed) == 0 {
		return creates, nil
	}
	taken, err = e.storedSlugs(ctx, hashed)
	if err != nil {
		return nil, err
	}
	kept := creates[:0]
	for _, m := range creates {
		if taken[m.Slug] {
			rep.MapsSkipped = append(rep.MapsSkipped, fmt.Sprintf("%s (slug %q taken)", m.Name, m.Slug))
			e.logf("Warning: map %q: slug %q already taken, skipping", m.Name, m.Slug)
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

func (e *Engine) storedSlugs(ctx context.Context, slugs []string) (map[string]bool, error) {
	found, err := e.Gateway.FindMapsBySlug(ctx, slugs)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(found))
	for _, m := range found {
		taken[m.Slug] = true
	}
	return taken, nil
}

func (e *Engine) applyMapUpdates(ctx context.Context, updates []db.Map) error {
	if len(updates) == 0 {
		return nil
	}
	workers := e.MapWorkers
	if workers <= 0 {
		workers = DefaultMapWorkers
	}
	pool := NewWorkerPool(workers, len(updates))
	pool.Start(ctx)
	for _, m := range updates {
		if err := pool.Submit(func(ctx context.Context) error {
			return e.Gateway.UpdateMap(ctx, m)
		}); err != nil {
			pool.Close()
			return err
		}
	}
	if err := pool.Close(); err != nil {
		return fmt.Errorf("update maps: %w", err)
	}
	return ctx.Err()
}

type target struct {
	Pair
	order    int
	mapID    int64
	playerID int64
}

func resolvePairs(res IdentityResolver, pairs []target) (resolved, deferred []target) {
	for _, t := range pairs {
		mid, okMap := res.Map(t.Map)
		pid, okPlayer := res.Player(t.Player)
		if !okMap || !okPlayer {
			deferred = append(deferred, t)
			continue
		}
		t.mapID, t.playerID = mid, pid
		resolved = append(resolved, t)
	}
	return resolved, deferred
}

// refresh re-reads the maps and players the deferred pairs still miss.
func (e *Engine) refresh(ctx context.Context, res IdentityResolver, deferred []target) (IdentityResolver, error) {
	var maps, players []string
	seenMap, seenPlayer := map[string]bool{}, map[string]bool{}
	for _, t := range deferred {
		if _, ok := res.Map(t.Map); !ok {
			maps = appendUnique(maps, seenMap, t.Map)
		}
		if _, ok := res.Player(t.Player); !ok {
			players = appendUnique(players, seenPlayer, t.Player)
		}
	}
	ms, err := e.Gateway.FindMapsByName(ctx, maps)
	if err != nil {
		return res, err
	}
	ps, err := e.Gateway.FindPlayersByHandle(ctx, players)
	if err != nil {
		return res, err
	}
	res, _ = res.WithMaps(ms)
	res, _ = res.WithPlayers(ps)
	return res, nil
}

type pairKey struct{ mapID, playerID int64 }

// SameClear reports whether a stored clear already holds the wanted values.
// Evidence is compared as a set; AchievedAt is not compared.
func SameClear(have, want db.Clear) bool {
	if have.Type != want.Type || have.VerifiedStatus != want.VerifiedStatus {
		return false
	}
	return sameSet(have.EvidenceURLs, want.EvidenceURLs)
}

func sameSet(a, b []string) bool {
	as, bs := map[string]bool{}, map[string]bool{}
	for _, v := range a {
		as[v] = true
	}
	for _, v := range b {
		bs[v] = true
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if !bs[v] {
			return false
		}
	}
	return true
}

func (e *Engine) syncClears(ctx context.Context, rows []Row, res IdentityResolver, rep *Report) error {
	want := map[Pair]grammar.ClearRecord{}
	var pairs []target
	for _, r := range rows {
		handles := make([]string, 0, len(r.Clears))
		for h := range r.Clears {
			handles = append(handles, h)
		}
		sort.Strings(handles)
		for _, h := range handles {
			p := Pair{Map: r.MapName, Player: h}
			if _, ok := want[p]; !ok {
				pairs = append(pairs, target{Pair: p, order: len(pairs)})
			}
			want[p] = r.Clears[h]
		}
	}

	resolved, deferred := resolvePairs(res, pairs)
	if len(deferred) > 0 {
		var err error
		if res, err = e.refresh(ctx, res, deferred); err != nil {
			return err
		}
		retried, still := resolvePairs(res, deferred)
		resolved = append(resolved, retried...)
		sort.Slice(resolved, func(i, j int) bool { return resolved[i].order < resolved[j].order })
		for _, t := range still {
			rep.Unresolved = append(rep.Unresolved, t.Pair)
			e.logf("Warning: clear %s could not be resolved, skipping", t.Pair)
		}
	}

	var mapIDs, playerIDs []int64
	seenMap, seenPlayer := map[int64]bool{}, map[int64]bool{}
	for _, t := range resolved {
		if !IsPending(t.mapID) && !seenMap[t.mapID] {
			seenMap[t.mapID] = true
			mapIDs = append(mapIDs, t.mapID)
		}
		if !IsPending(t.playerID) && !seenPlayer[t.playerID] {
			seenPlayer[t.playerID] = true
			playerIDs = append(playerIDs, t.playerID)
		}
	}
	existing, err := e.Gateway.FindClears(ctx, mapIDs, playerIDs)
	if err != nil {
		return err
	}
	byPair := map[pairKey][]db.Clear{}
	for _, c := range existing {
		k := pairKey{c.MapID, c.PlayerID}
		byPair[k] = append(byPair[k], c)
	}

	var creates, replaces []db.Clear
	for _, t := range resolved {
		rec := want[t.Pair]
		c := db.Clear{
			MapID:          t.mapID,
			PlayerID:       t.playerID,
			Type:           string(rec.Type),
			EvidenceURLs:   rec.EvidenceURLs,
			VerifiedStatus: db.VerifiedStatusVerified,
		}
		have := byPair[pairKey{t.mapID, t.playerID}]
		change := ClearChange{Pair: t.Pair, Type: c.Type}
		switch {
		case len(have) == 0:
			creates = append(creates, c)
			rep.ClearsCreated = append(rep.ClearsCreated, change)
		case len(have) == 1 && SameClear(have[0], c):
			rep.ClearsUnchanged++
		default:
			replaces = append(replaces, c)
			rep.ClearsReplaced = append(rep.ClearsReplaced, change)
		}
	}

	if e.DryRun {
		return nil
	}
	if err := e.createClears(ctx, creates); err != nil {
		return err
	}
	return e.replaceClears(ctx, replaces)
}

func (e *Engine) createClears(ctx context.Context, creates []db.Clear) error {
	if len(creates) == 0 {
		return nil
	}
	size := e.ClearBatchSize
	if size <= 0 {
		size = DefaultClearBatch
	}
	bw := NewBatchWriter[db.Clear](ctx, size, e.Gateway.CreateClears)
	for _, c := range creates {
		e.fillDate(ctx, &c)
		if err := bw.Submit(c); err != nil {
			bw.Close()
			return err
		}
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("create clears: %w", err)
	}
	return nil
}

// replaceClears deletes every clear of each pair and creates the wanted one,
// pair by pair in source order.
func (e *Engine) replaceClears(ctx context.Context, replaces []db.Clear) error {
	for _, c := range replaces {
		if _, err := e.Gateway.DeleteClears(ctx, c.MapID, c.PlayerID); err != nil {
			return err
		}
		e.fillDate(ctx, &c)
		if _, err := e.Gateway.CreateClears(ctx, []db.Clear{c}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fillDate(ctx context.Context, c *db.Clear) {
	if e.Dates == nil {
		return
	}
	for _, u := range c.EvidenceURLs {
		if u == grammar.NoEvidence {
			continue
		}
		t, ok, err := e.Dates.UploadDate(ctx, u)
		if err != nil {
			e.logf("Warning: upload date for %s: %v", u, err)
			continue
		}
		if !ok {
			continue
		}
		c.AchievedAt = &t
		return
	}
}
