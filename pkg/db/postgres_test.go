package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// setupPG connects to SHEETSYNC_TEST_PG_URL and skips when it is unset.
// Each test uses names with a unique suffix so runs do not collide.
func setupPG(t *testing.T) (*PGStore, string) {
	t.Helper()
	dsn := os.Getenv("SHEETSYNC_TEST_PG_URL")
	if dsn == "" {
		t.Skip("SHEETSYNC_TEST_PG_URL not set")
	}
	s, err := NewPGStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fmt.Sprintf("%d", time.Now().UnixNano())
}

func TestPGStoreCreatorsAndPlayers(t *testing.T) {
	s, sfx := setupPG(t)
	ctx := context.Background()
	name := "creator-" + sfx
	n, err := s.CreateCreators(ctx, []string{name, name})
	if err != nil {
		t.Fatalf("create creators: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}
	handle := "Player-" + sfx
	if _, err := s.CreatePlayers(ctx, []string{handle}); err != nil {
		t.Fatalf("create players: %v", err)
	}
	folded, err := s.FindPlayersByHandleFold(ctx, []string{"player-" + sfx})
	if err != nil {
		t.Fatalf("find fold: %v", err)
	}
	if len(folded) != 1 || folded[0].Handle != handle {
		t.Fatalf("expected %s, got %+v", handle, folded)
	}
}

func TestPGStoreClearsAndSnapshots(t *testing.T) {
	s, sfx := setupPG(t)
	ctx := context.Background()
	creator := "creator-" + sfx
	if _, err := s.CreateCreators(ctx, []string{creator}); err != nil {
		t.Fatalf("create creator: %v", err)
	}
	cs, err := s.FindCreatorsByName(ctx, []string{creator})
	if err != nil || len(cs) != 1 {
		t.Fatalf("find creator: %v %+v", err, cs)
	}
	mapName := "map-" + sfx
	if _, err := s.CreateMaps(ctx, []Map{{Name: mapName, Slug: mapName, CreatorID: cs[0].ID, Difficulty: 4}}); err != nil {
		t.Fatalf("create map: %v", err)
	}
	ms, err := s.FindMapsBySlug(ctx, []string{mapName})
	if err != nil || len(ms) != 1 {
		t.Fatalf("find map: %v %+v", err, ms)
	}
	handle := "p-" + sfx
	if _, err := s.CreatePlayers(ctx, []string{handle}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	ps, err := s.FindPlayersByHandle(ctx, []string{handle})
	if err != nil || len(ps) != 1 {
		t.Fatalf("find player: %v %+v", err, ps)
	}
	n, err := s.CreateClears(ctx, []Clear{
		{MapID: ms[0].ID, PlayerID: ps[0].ID, Type: "CLEAR", EvidenceURLs: []string{""}, VerifiedStatus: VerifiedStatusVerified},
		{MapID: ms[0].ID, PlayerID: ps[0].ID, Type: "CLEAR", EvidenceURLs: []string{""}, VerifiedStatus: VerifiedStatusVerified},
	})
	if err != nil {
		t.Fatalf("create clears: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 clear inserted, got %d", n)
	}
	if d, err := s.DeleteClears(ctx, ms[0].ID, ps[0].ID); err != nil || d != 1 {
		t.Fatalf("delete: %v (%d)", err, d)
	}

	snap := Snapshot{SourceURL: "test", SourceKind: "csv", SHA256: "pg-" + sfx, ByteLength: 1, CapturedAt: time.Now()}
	id1, err := s.CreateSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	id2, err := s.CreateSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("create snapshot again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %d and %d", id1, id2)
	}
}

func TestPGOpenExistingAfterMigrate(t *testing.T) {
	s, _ := setupPG(t)
	if err := s.checkSchema(context.Background()); err != nil {
		t.Fatalf("migrated schema reported missing: %v", err)
	}
	existing, err := OpenExisting(context.Background(), os.Getenv("SHEETSYNC_TEST_PG_URL"))
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	existing.Close()
}
