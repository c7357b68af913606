package db

// migrationsSQL is the SQLite (and libsql) schema. Statements are split on ';'.
const migrationsSQL = `
CREATE TABLE IF NOT EXISTS creators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	handle TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS maps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	slug TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL REFERENCES creators(id),
	difficulty INTEGER NOT NULL DEFAULT 0,
	gm_color TEXT NOT NULL DEFAULT '',
	gm_tier INTEGER NOT NULL DEFAULT 0,
	canonical_video_url TEXT NOT NULL DEFAULT '',
	updated_at TEXT
);

CREATE TABLE IF NOT EXISTS clears (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	map_id INTEGER NOT NULL REFERENCES maps(id),
	player_id INTEGER NOT NULL REFERENCES players(id),
	type TEXT NOT NULL,
	evidence_urls TEXT NOT NULL DEFAULT '[]',
	verified_status TEXT NOT NULL,
	achieved_at TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	UNIQUE(map_id, player_id, type)
);

CREATE INDEX IF NOT EXISTS idx_clears_pair ON clears(map_id, player_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_url TEXT NOT NULL,
	source_kind TEXT NOT NULL DEFAULT '',
	sha256 TEXT NOT NULL UNIQUE,
	byte_length INTEGER NOT NULL,
	captured_at TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT ''
);
`
