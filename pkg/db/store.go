package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// maxInParams bounds the size of a single IN (...) list.
const maxInParams = 500

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

// SQLStore is the Gateway over database/sql with the SQLite dialect.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already migrated connection.
func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

// DB returns the underlying connection for custom queries.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the connection.
func (s *SQLStore) Close() error { return s.db.Close() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for len(in) > size {
		out = append(out, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

func chunkIDs(in []int64, size int) [][]int64 {
	var out [][]int64
	for len(in) > size {
		out = append(out, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

func stringArgs(vals []string) []interface{} {
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// queryIn runs query (which must contain a single "%s" for the IN list) once per chunk.
func queryIn(ctx context.Context, db DBExecutor, query string, vals []string, scan func(*sql.Rows) error) error {
	for _, chunk := range chunkStrings(vals, maxInParams) {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), stringArgs(chunk)...)
		if err != nil {
			return err
		}
		for rows.Next() {
			if err := scan(rows); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// insertIgnore executes one INSERT OR IGNORE per arg set and counts inserted rows.
func (s *SQLStore) insertIgnore(ctx context.Context, query string, argSets [][]interface{}) (int, error) {
	if len(argSets) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, args := range argSets {
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// FindCreatorsByName returns the creators whose name is in names.
func (s *SQLStore) FindCreatorsByName(ctx context.Context, names []string) ([]Creator, error) {
	var out []Creator
	err := queryIn(ctx, s.db, `SELECT id, name FROM creators WHERE name IN (%s)`, names, func(rows *sql.Rows) error {
		var c Creator
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find creators: %w", err)
	}
	return out, nil
}

// CreateCreators inserts the named creators, skipping existing names.
func (s *SQLStore) CreateCreators(ctx context.Context, names []string) (int, error) {
	argSets := make([][]interface{}, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return 0, fmt.Errorf("creator name must be non-empty")
		}
		argSets = append(argSets, []interface{}{n})
	}
	n, err := s.insertIgnore(ctx, `INSERT OR IGNORE INTO creators (name) VALUES (?)`, argSets)
	if err != nil {
		return 0, fmt.Errorf("create creators: %w", err)
	}
	return n, nil
}

func (s *SQLStore) findPlayers(ctx context.Context, query string, handles []string) ([]Player, error) {
	var out []Player
	err := queryIn(ctx, s.db, query, handles, func(rows *sql.Rows) error {
		var p Player
		if err := rows.Scan(&p.ID, &p.Handle); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	return out, nil
}

// FindPlayersByHandle returns the players whose handle is exactly in handles.
func (s *SQLStore) FindPlayersByHandle(ctx context.Context, handles []string) ([]Player, error) {
	return s.findPlayers(ctx, `SELECT id, handle FROM players WHERE handle IN (%s)`, handles)
}

// FindPlayersByHandleFold returns the players whose handle equals an entry of
// handles after Unicode lower-casing. SQLite's lower() only folds ASCII, so
// the comparison is done here over every stored handle.
func (s *SQLStore) FindPlayersByHandleFold(ctx context.Context, handles []string) ([]Player, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(handles))
	for _, h := range handles {
		want[strings.ToLower(h)] = true
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, handle FROM players ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	defer rows.Close()
	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Handle); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		if want[strings.ToLower(p.Handle)] {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	return out, nil
}

// CreatePlayers inserts the handles, skipping existing ones.
func (s *SQLStore) CreatePlayers(ctx context.Context, handles []string) (int, error) {
	argSets := make([][]interface{}, 0, len(handles))
	for _, h := range handles {
		if strings.TrimSpace(h) == "" {
			return 0, fmt.Errorf("player handle must be non-empty")
		}
		argSets = append(argSets, []interface{}{h})
	}
	n, err := s.insertIgnore(ctx, `INSERT OR IGNORE INTO players (handle) VALUES (?)`, argSets)
	if err != nil {
		return 0, fmt.Errorf("create players: %w", err)
	}
	return n, nil
}

const mapColumns = `id, name, slug, creator_id, difficulty, gm_color, gm_tier, canonical_video_url`

func scanMap(rows *sql.Rows) (Map, error) {
	var m Map
	err := rows.Scan(&m.ID, &m.Name, &m.Slug, &m.CreatorID, &m.Difficulty, &m.GMColor, &m.GMTier, &m.CanonicalVideoURL)
	return m, err
}

func (s *SQLStore) findMaps(ctx context.Context, column string, vals []string) ([]Map, error) {
	var out []Map
	query := `SELECT ` + mapColumns + ` FROM maps WHERE ` + column + ` IN (%s)`
	err := queryIn(ctx, s.db, query, vals, func(rows *sql.Rows) error {
		m, err := scanMap(rows)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find maps by %s: %w", column, err)
	}
	return out, nil
}

// FindMapsByName returns the maps whose name is in names.
func (s *SQLStore) FindMapsByName(ctx context.Context, names []string) ([]Map, error) {
	return s.findMaps(ctx, "name", names)
}

// FindMapsBySlug returns the maps whose slug is in slugs.
func (s *SQLStore) FindMapsBySlug(ctx context.Context, slugs []string) ([]Map, error) {
	return s.findMaps(ctx, "slug", slugs)
}

// CreateMaps inserts maps, skipping name or slug conflicts.
func (s *SQLStore) CreateMaps(ctx context.Context, maps []Map) (int, error) {
	argSets := make([][]interface{}, 0, len(maps))
	for _, m := range maps {
		if m.CreatorID <= 0 {
			return 0, fmt.Errorf("map %q: creatorID must be positive", m.Name)
		}
		argSets = append(argSets, []interface{}{m.Name, m.Slug, m.CreatorID, m.Difficulty, m.GMColor, m.GMTier, m.CanonicalVideoURL})
	}
	n, err := s.insertIgnore(ctx, `INSERT OR IGNORE INTO maps (name, slug, creator_id, difficulty, gm_color, gm_tier, canonical_video_url) VALUES (?, ?, ?, ?, ?, ?, ?)`, argSets)
	if err != nil {
		return 0, fmt.Errorf("create maps: %w", err)
	}
	return n, nil
}

// UpdateMap overwrites the mutable fields of the map with m.ID.
func (s *SQLStore) UpdateMap(ctx context.Context, m Map) error {
	if m.ID <= 0 {
		return fmt.Errorf("mapID must be positive")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE maps SET difficulty = ?, gm_color = ?, gm_tier = ?, canonical_video_url = ?, updated_at = ? WHERE id = ?`,
		m.Difficulty, m.GMColor, m.GMTier, m.CanonicalVideoURL, formatTime(time.Now()), m.ID)
	if err != nil {
		return fmt.Errorf("update map %d: %w", m.ID, err)
	}
	return nil
}

// FindClears returns clears for the given maps, restricted to the given players.
func (s *SQLStore) FindClears(ctx context.Context, mapIDs, playerIDs []int64) ([]Clear, error) {
	wantPlayer := make(map[int64]bool, len(playerIDs))
	for _, id := range playerIDs {
		wantPlayer[id] = true
	}
	var out []Clear
	for _, chunk := range chunkIDs(mapIDs, maxInParams) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, map_id, player_id, type, evidence_urls, verified_status, achieved_at FROM clears WHERE map_id IN (`+placeholders(len(chunk))+`) ORDER BY id`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("find clears: %w", err)
		}
		for rows.Next() {
			var c Clear
			var evidence string
			var achieved sql.NullString
			if err := rows.Scan(&c.ID, &c.MapID, &c.PlayerID, &c.Type, &evidence, &c.VerifiedStatus, &achieved); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan clear: %w", err)
			}
			if !wantPlayer[c.PlayerID] {
				continue
			}
			if err := json.Unmarshal([]byte(evidence), &c.EvidenceURLs); err != nil {
				rows.Close()
				return nil, fmt.Errorf("clear %d: decode evidence: %w", c.ID, err)
			}
			if achieved.Valid {
				if t, err := parseTime(achieved.String); err == nil {
					c.AchievedAt = &t
				}
			}
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// CreateClears inserts clears, skipping (map, player, type) duplicates.
func (s *SQLStore) CreateClears(ctx context.Context, clears []Clear) (int, error) {
	argSets := make([][]interface{}, 0, len(clears))
	for _, c := range clears {
		evidence, err := encodeEvidence(c.EvidenceURLs)
		if err != nil {
			return 0, err
		}
		var achieved interface{}
		if c.AchievedAt != nil {
			achieved = formatTime(*c.AchievedAt)
		}
		argSets = append(argSets, []interface{}{c.MapID, c.PlayerID, c.Type, evidence, c.VerifiedStatus, achieved})
	}
	n, err := s.insertIgnore(ctx, `INSERT OR IGNORE INTO clears (map_id, player_id, type, evidence_urls, verified_status, achieved_at) VALUES (?, ?, ?, ?, ?, ?)`, argSets)
	if err != nil {
		return 0, fmt.Errorf("create clears: %w", err)
	}
	return n, nil
}

// DeleteClears removes every clear of the (map, player) pair.
func (s *SQLStore) DeleteClears(ctx context.Context, mapID, playerID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clears WHERE map_id = ? AND player_id = ?`, mapID, playerID)
	if err != nil {
		return 0, fmt.Errorf("delete clears (%d, %d): %w", mapID, playerID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FindSnapshotByHash returns the snapshot with the given hash, or nil.
func (s *SQLStore) FindSnapshotByHash(ctx context.Context, sha256 string) (*Snapshot, error) {
	var snap Snapshot
	var captured string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, source_kind, sha256, byte_length, captured_at, run_id FROM snapshots WHERE sha256 = ?`, sha256,
	).Scan(&snap.ID, &snap.SourceURL, &snap.SourceKind, &snap.SHA256, &snap.ByteLength, &captured, &snap.RunID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	if snap.CapturedAt, err = parseTime(captured); err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", snap.ID, err)
	}
	return &snap, nil
}

// CreateSnapshot inserts a snapshot record. If the hash is already recorded the
// existing id is returned.
func (s *SQLStore) CreateSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	if strings.TrimSpace(snap.SHA256) == "" {
		return 0, fmt.Errorf("snapshot sha256 must be non-empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (source_url, source_kind, sha256, byte_length, captured_at, run_id) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SourceURL, snap.SourceKind, snap.SHA256, snap.ByteLength, formatTime(snap.CapturedAt), snap.RunID)
	if err != nil {
		if isUniqueConstraintErr(err) {
			existing, ferr := s.FindSnapshotByHash(ctx, snap.SHA256)
			if ferr != nil {
				return 0, ferr
			}
			if existing != nil {
				return existing.ID, nil
			}
		}
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	return res.LastInsertId()
}

func encodeEvidence(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
