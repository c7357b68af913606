package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS creators (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		id BIGSERIAL PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_players_handle_lower ON players(lower(handle))`,
	`CREATE TABLE IF NOT EXISTS maps (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL UNIQUE,
		creator_id BIGINT NOT NULL REFERENCES creators(id),
		difficulty INTEGER NOT NULL DEFAULT 0,
		gm_color TEXT NOT NULL DEFAULT '',
		gm_tier INTEGER NOT NULL DEFAULT 0,
		canonical_video_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS clears (
		id BIGSERIAL PRIMARY KEY,
		map_id BIGINT NOT NULL REFERENCES maps(id),
		player_id BIGINT NOT NULL REFERENCES players(id),
		type TEXT NOT NULL,
		evidence_urls TEXT NOT NULL DEFAULT '[]',
		verified_status TEXT NOT NULL,
		achieved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (map_id, player_id, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clears_pair ON clears(map_id, player_id)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id BIGSERIAL PRIMARY KEY,
		source_url TEXT NOT NULL,
		source_kind TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL UNIQUE,
		byte_length BIGINT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		run_id TEXT NOT NULL DEFAULT ''
	)`,
}

// PGStore is the Gateway over a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects, pings and creates the schema if needed.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	s, err := connectPG(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func connectPG(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	for _, q := range pgSchema {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// checkSchema reports ErrNoSchema when a table is missing from the current schema.
func (s *PGStore) checkSchema(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		schemaTables)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	return missingTables(have)
}

// Pool returns the underlying connection pool for custom queries.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// batchInsert queues one statement per arg set and sums the inserted rows.
func (s *PGStore) batchInsert(ctx context.Context, query string, argSets [][]interface{}) (int, error) {
	if len(argSets) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, args := range argSets {
		b.Queue(query, args...)
	}
	br := s.pool.SendBatch(ctx, b)
	inserted := 0
	for range argSets {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, br.Close()
}

// FindCreatorsByName returns the creators whose name is in names.
func (s *PGStore) FindCreatorsByName(ctx context.Context, names []string) ([]Creator, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM creators WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("find creators: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Creator, error) {
		var c Creator
		err := r.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("find creators: %w", err)
	}
	return out, nil
}

// CreateCreators inserts the named creators, skipping existing names.
func (s *PGStore) CreateCreators(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO creators (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING`, names)
	if err != nil {
		return 0, fmt.Errorf("create creators: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) findPlayers(ctx context.Context, query string, handles []string) ([]Player, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, query, handles)
	if err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Player, error) {
		var p Player
		err := r.Scan(&p.ID, &p.Handle)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	return out, nil
}

// FindPlayersByHandle returns the players whose handle is exactly in handles.
func (s *PGStore) FindPlayersByHandle(ctx context.Context, handles []string) ([]Player, error) {
	return s.findPlayers(ctx, `SELECT id, handle FROM players WHERE handle = ANY($1)`, handles)
}

// FindPlayersByHandleFold returns the players whose lower(handle) matches a lowercased entry of handles.
func (s *PGStore) FindPlayersByHandleFold(ctx context.Context, handles []string) ([]Player, error) {
	lowered := make([]string, len(handles))
	for i, h := range handles {
		lowered[i] = strings.ToLower(h)
	}
	return s.findPlayers(ctx, `SELECT id, handle FROM players WHERE lower(handle) = ANY($1)`, lowered)
}

// CreatePlayers inserts the handles, skipping existing ones.
func (s *PGStore) CreatePlayers(ctx context.Context, handles []string) (int, error) {
	if len(handles) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO players (handle) SELECT unnest($1::text[]) ON CONFLICT (handle) DO NOTHING`, handles)
	if err != nil {
		return 0, fmt.Errorf("create players: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) findMaps(ctx context.Context, column string, vals []string) ([]Map, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+mapColumns+` FROM maps WHERE `+column+` = ANY($1)`, vals)
	if err != nil {
		return nil, fmt.Errorf("find maps by %s: %w", column, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Map, error) {
		var m Map
		err := r.Scan(&m.ID, &m.Name, &m.Slug, &m.CreatorID, &m.Difficulty, &m.GMColor, &m.GMTier, &m.CanonicalVideoURL)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("find maps by %s: %w", column, err)
	}
	return out, nil
}

// FindMapsByName returns the maps whose name is in names.
func (s *PGStore) FindMapsByName(ctx context.Context, names []string) ([]Map, error) {
	return s.findMaps(ctx, "name", names)
}

// FindMapsBySlug returns the maps whose slug is in slugs.
func (s *PGStore) FindMapsBySlug(ctx context.Context, slugs []string) ([]Map, error) {
	return s.findMaps(ctx, "slug", slugs)
}

// CreateMaps inserts maps, skipping name or slug conflicts.
func (s *PGStore) CreateMaps(ctx context.Context, maps []Map) (int, error) {
	argSets := make([][]interface{}, 0, len(maps))
	for _, m := range maps {
		if m.CreatorID <= 0 {
			return 0, fmt.Errorf("map %q: creatorID must be positive", m.Name)
		}
		argSets = append(argSets, []interface{}{m.Name, m.Slug, m.CreatorID, m.Difficulty, m.GMColor, m.GMTier, m.CanonicalVideoURL})
	}
	n, err := s.batchInsert(ctx, `INSERT INTO maps (name, slug, creator_id, difficulty, gm_color, gm_tier, canonical_video_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`, argSets)
	if err != nil {
		return n, fmt.Errorf("create maps: %w", err)
	}
	return n, nil
}

// UpdateMap overwrites the mutable fields of the map with m.ID.
func (s *PGStore) UpdateMap(ctx context.Context, m Map) error {
	if m.ID <= 0 {
		return fmt.Errorf("mapID must be positive")
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE maps SET difficulty = $1, gm_color = $2, gm_tier = $3, canonical_video_url = $4, updated_at = now() WHERE id = $5`,
		m.Difficulty, m.GMColor, m.GMTier, m.CanonicalVideoURL, m.ID)
	if err != nil {
		return fmt.Errorf("update map %d: %w", m.ID, err)
	}
	return nil
}

// FindClears returns clears whose map and player are both in the given sets.
func (s *PGStore) FindClears(ctx context.Context, mapIDs, playerIDs []int64) ([]Clear, error) {
	if len(mapIDs) == 0 || len(playerIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, map_id, player_id, type, evidence_urls, verified_status, achieved_at
		 FROM clears WHERE map_id = ANY($1) AND player_id = ANY($2) ORDER BY id`, mapIDs, playerIDs)
	if err != nil {
		return nil, fmt.Errorf("find clears: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Clear, error) {
		var c Clear
		var evidence string
		if err := r.Scan(&c.ID, &c.MapID, &c.PlayerID, &c.Type, &evidence, &c.VerifiedStatus, &c.AchievedAt); err != nil {
			return c, err
		}
		if err := json.Unmarshal([]byte(evidence), &c.EvidenceURLs); err != nil {
			return c, fmt.Errorf("clear %d: decode evidence: %w", c.ID, err)
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find clears: %w", err)
	}
	return out, nil
}

// CreateClears inserts clears, skipping (map, player, type) duplicates.
func (s *PGStore) CreateClears(ctx context.Context, clears []Clear) (int, error) {
	argSets := make([][]interface{}, 0, len(clears))
	for _, c := range clears {
		evidence, err := encodeEvidence(c.EvidenceURLs)
		if err != nil {
			return 0, err
		}
		argSets = append(argSets, []interface{}{c.MapID, c.PlayerID, c.Type, evidence, c.VerifiedStatus, c.AchievedAt})
	}
	n, err := s.batchInsert(ctx, `INSERT INTO clears (map_id, player_id, type, evidence_urls, verified_status, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (map_id, player_id, type) DO NOTHING`, argSets)
	if err != nil {
		return n, fmt.Errorf("create clears: %w", err)
	}
	return n, nil
}

// DeleteClears removes every clear of the (map, player) pair.
func (s *PGStore) DeleteClears(ctx context.Context, mapID, playerID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clears WHERE map_id = $1 AND player_id = $2`, mapID, playerID)
	if err != nil {
		return 0, fmt.Errorf("delete clears (%d, %d): %w", mapID, playerID, err)
	}
	return int(tag.RowsAffected()), nil
}

// FindSnapshotByHash returns the snapshot with the given hash, or nil.
func (s *PGStore) FindSnapshotByHash(ctx context.Context, sha256 string) (*Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_url, source_kind, sha256, byte_length, captured_at, run_id FROM snapshots WHERE sha256 = $1`, sha256,
	).Scan(&snap.ID, &snap.SourceURL, &snap.SourceKind, &snap.SHA256, &snap.ByteLength, &snap.CapturedAt, &snap.RunID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return &snap, nil
}

// CreateSnapshot inserts a snapshot record, returning the existing id when the hash is known.
func (s *PGStore) CreateSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	if strings.TrimSpace(snap.SHA256) == "" {
		return 0, fmt.Errorf("snapshot sha256 must be non-empty")
	}
	captured := snap.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO snapshots (source_url, source_kind, sha256, byte_length, captured_at, run_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sha256) DO UPDATE SET sha256 = snapshots.sha256
		 RETURNING id`,
		snap.SourceURL, snap.SourceKind, snap.SHA256, snap.ByteLength, captured, snap.RunID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	return id, nil
}
