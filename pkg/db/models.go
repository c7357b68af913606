package db

import "time"

// VerifiedStatusVerified is the status of every sheet-sourced clear.
const VerifiedStatusVerified = "VERIFIED"

// Creator is a map author, unique by name.
type Creator struct {
	ID   int64
	Name string
}

// Player is a leaderboard participant, unique by handle (case-sensitive).
type Player struct {
	ID     int64
	Handle string
}

// Map is a leaderboard entry. Name is its identity and never changes.
type Map struct {
	ID                int64
	Name              string
	Slug              string
	CreatorID         int64
	Difficulty        int
	GMColor           string
	GMTier            int
	CanonicalVideoURL string
}

// Clear links a player to a map with a category and its evidence.
type Clear struct {
	ID             int64
	MapID          int64
	PlayerID       int64
	Type           string
	EvidenceURLs   []string
	VerifiedStatus string
	// AchievedAt is only known when the video-date lookup ran for the clear.
	AchievedAt *time.Time
}

// Snapshot is an append-only record of a distinct source fingerprint.
type Snapshot struct {
	ID         int64
	SourceURL  string
	SourceKind string
	SHA256     string
	ByteLength int64
	CapturedAt time.Time
	RunID      string
}
