package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *SQLStore {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Ensure single connection to avoid separate in-memory DBs per connection.
	db.SetMaxOpenConns(1)
	if err := InitDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(db)
}

func TestCreateCreatorsSkipsExisting(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	n, err := s.CreateCreators(ctx, []string{"Ada", "Lin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}
	n, err = s.CreateCreators(ctx, []string{"Ada", "Kim"})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted on second call, got %d", n)
	}
	found, err := s.FindCreatorsByName(ctx, []string{"Ada", "Kim", "Nobody"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 creators, got %+v", found)
	}
}

func TestCreateCreatorsRejectsBlank(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	if _, err := s.CreateCreators(context.Background(), []string{"  "}); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestFindPlayersByHandleFold(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	if _, err := s.CreatePlayers(ctx, []string{"Nova"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	exact, err := s.FindPlayersByHandle(ctx, []string{"nova"})
	if err != nil {
		t.Fatalf("find exact: %v", err)
	}
	if len(exact) != 0 {
		t.Fatalf("exact lookup should be case-sensitive, got %+v", exact)
	}
	folded, err := s.FindPlayersByHandleFold(ctx, []string{"NOVA"})
	if err != nil {
		t.Fatalf("find fold: %v", err)
	}
	if len(folded) != 1 || folded[0].Handle != "Nova" {
		t.Fatalf("expected Nova, got %+v", folded)
	}
}

func TestFindPlayersByHandleFoldNonASCII(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	if _, err := s.CreatePlayers(ctx, []string{"Émile", "Łukasz", "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	folded, err := s.FindPlayersByHandleFold(ctx, []string{"émile", "ŁUKASZ"})
	if err != nil {
		t.Fatalf("find fold: %v", err)
	}
	if len(folded) != 2 || folded[0].Handle != "Émile" || folded[1].Handle != "Łukasz" {
		t.Fatalf("expected Émile and Łukasz, got %+v", folded)
	}
	if none, err := s.FindPlayersByHandleFold(ctx, nil); err != nil || len(none) != 0 {
		t.Fatalf("empty input: %+v %v", none, err)
	}
}

func TestFindUsesChunkedInLists(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	handles := make([]string, maxInParams*2+7)
	for i := range handles {
		handles[i] = fmt.Sprintf("p%04d", i)
	}
	n, err := s.CreatePlayers(ctx, handles)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n != len(handles) {
		t.Fatalf("expected %d inserted, got %d", len(handles), n)
	}
	found, err := s.FindPlayersByHandle(ctx, handles)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != len(handles) {
		t.Fatalf("expected %d players, got %d", len(handles), len(found))
	}
}

func seedMap(t *testing.T, s *SQLStore, name, slug string) Map {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateCreators(ctx, []string{"Ada"}); err != nil {
		t.Fatalf("create creator: %v", err)
	}
	cs, err := s.FindCreatorsByName(ctx, []string{"Ada"})
	if err != nil || len(cs) != 1 {
		t.Fatalf("find creator: %v %+v", err, cs)
	}
	m := Map{Name: name, Slug: slug, CreatorID: cs[0].ID, Difficulty: 8, GMColor: "GREEN", GMTier: 3}
	if _, err := s.CreateMaps(ctx, []Map{m}); err != nil {
		t.Fatalf("create map: %v", err)
	}
	ms, err := s.FindMapsByName(ctx, []string{name})
	if err != nil || len(ms) != 1 {
		t.Fatalf("find map: %v %+v", err, ms)
	}
	return ms[0]
}

func TestMapsCreateFindUpdate(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	m := seedMap(t, s, "Skybound", "skybound")

	n, err := s.CreateMaps(ctx, []Map{{Name: "Other", Slug: "skybound", CreatorID: m.CreatorID}})
	if err != nil {
		t.Fatalf("create dup slug: %v", err)
	}
	if n != 0 {
		t.Fatalf("slug conflict should be skipped, inserted %d", n)
	}

	m.Difficulty = 7
	m.GMColor = "RED"
	m.CanonicalVideoURL = "https://youtu.be/xyz"
	if err := s.UpdateMap(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	bySlug, err := s.FindMapsBySlug(ctx, []string{"skybound"})
	if err != nil {
		t.Fatalf("find by slug: %v", err)
	}
	if len(bySlug) != 1 {
		t.Fatalf("expected one map, got %+v", bySlug)
	}
	got := bySlug[0]
	if got.ID != m.ID || got.Difficulty != 7 || got.GMColor != "RED" || got.CanonicalVideoURL != "https://youtu.be/xyz" {
		t.Fatalf("unexpected map after update: %+v", got)
	}
}

func TestCreateMapsRequiresCreator(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	if _, err := s.CreateMaps(context.Background(), []Map{{Name: "X", Slug: "x"}}); err == nil {
		t.Fatalf("expected error for missing creator")
	}
}

func TestClearsRoundTripAndDelete(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	m := seedMap(t, s, "Skybound", "skybound")
	if _, err := s.CreatePlayers(ctx, []string{"Nova", "Vega"}); err != nil {
		t.Fatalf("create players: %v", err)
	}
	ps, err := s.FindPlayersByHandle(ctx, []string{"Nova", "Vega"})
	if err != nil || len(ps) != 2 {
		t.Fatalf("find players: %v %+v", err, ps)
	}
	ids := map[string]int64{}
	for _, p := range ps {
		ids[p.Handle] = p.ID
	}
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clears := []Clear{
		{MapID: m.ID, PlayerID: ids["Nova"], Type: "GOLDEN", EvidenceURLs: []string{"https://youtu.be/a"}, VerifiedStatus: VerifiedStatusVerified, AchievedAt: &when},
		{MapID: m.ID, PlayerID: ids["Vega"], Type: "CLEAR", EvidenceURLs: []string{""}, VerifiedStatus: VerifiedStatusVerified},
		{MapID: m.ID, PlayerID: ids["Vega"], Type: "CLEAR", EvidenceURLs: []string{""}, VerifiedStatus: VerifiedStatusVerified},
	}
	n, err := s.CreateClears(ctx, clears)
	if err != nil {
		t.Fatalf("create clears: %v", err)
	}
	if n != 2 {
		t.Fatalf("duplicate (map, player, type) should be skipped, inserted %d", n)
	}

	got, err := s.FindClears(ctx, []int64{m.ID}, []int64{ids["Nova"]})
	if err != nil {
		t.Fatalf("find clears: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only Nova's clear, got %+v", got)
	}
	c := got[0]
	if c.Type != "GOLDEN" || len(c.EvidenceURLs) != 1 || c.EvidenceURLs[0] != "https://youtu.be/a" {
		t.Fatalf("unexpected clear: %+v", c)
	}
	if c.AchievedAt == nil || !c.AchievedAt.Equal(when) {
		t.Fatalf("achievedAt not preserved: %v", c.AchievedAt)
	}

	deleted, err := s.DeleteClears(ctx, m.ID, ids["Vega"])
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	rest, err := s.FindClears(ctx, []int64{m.ID}, []int64{ids["Nova"], ids["Vega"]})
	if err != nil {
		t.Fatalf("find after delete: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining clear, got %+v", rest)
	}
}

func TestSnapshotByHash(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	missing, err := s.FindSnapshotByHash(ctx, "abc")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown hash, got %+v", missing)
	}

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	snap := Snapshot{SourceURL: "https://example.com/s.csv", SourceKind: "csv", SHA256: "abc", ByteLength: 42, CapturedAt: at, RunID: "run-1"}
	id1, err := s.CreateSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := s.CreateSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same snapshot id, got %d and %d", id1, id2)
	}
	got, err := s.FindSnapshotByHash(ctx, "abc")
	if err != nil || got == nil {
		t.Fatalf("find: %v %+v", err, got)
	}
	if got.ByteLength != 42 || got.SourceKind != "csv" || got.RunID != "run-1" || !got.CapturedAt.Equal(at) {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if _, err := s.CreateSnapshot(ctx, Snapshot{SHA256: " "}); err == nil {
		t.Fatalf("expected error for blank hash")
	}
}

func TestCreatePlayersConcurrency(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.CreatePlayers(ctx, []string{"Nova"})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("create players: %v", err)
		}
	}
	var cnt int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM players WHERE handle = ?`, "Nova").Scan(&cnt); err != nil {
		t.Fatalf("count: %v", err)
	}
	if cnt != 1 {
		t.Fatalf("expected 1 player row, got %d", cnt)
	}
}
