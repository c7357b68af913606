package db

import "context"

// Gateway is the set of store operations the import pipeline relies on.
// Create* calls skip rows that would violate a uniqueness constraint and
// return the number of rows actually inserted.
type Gateway interface {
	FindCreatorsByName(ctx context.Context, names []string) ([]Creator, error)
	CreateCreators(ctx context.Context, names []string) (int, error)

	FindPlayersByHandle(ctx context.Context, handles []string) ([]Player, error)
	// FindPlayersByHandleFold matches handles case-insensitively.
	FindPlayersByHandleFold(ctx context.Context, handles []string) ([]Player, error)
	CreatePlayers(ctx context.Context, handles []string) (int, error)

	FindMapsByName(ctx context.Context, names []string) ([]Map, error)
	FindMapsBySlug(ctx context.Context, slugs []string) ([]Map, error)
	CreateMaps(ctx context.Context, maps []Map) (int, error)
	UpdateMap(ctx context.Context, m Map) error

	// FindClears returns clears whose map and player are both in the given sets.
	FindClears(ctx context.Context, mapIDs, playerIDs []int64) ([]Clear, error)
	CreateClears(ctx context.Context, clears []Clear) (int, error)
	DeleteClears(ctx context.Context, mapID, playerID int64) (int, error)

	// FindSnapshotByHash returns nil, nil when no snapshot has the hash.
	FindSnapshotByHash(ctx context.Context, sha256 string) (*Snapshot, error)
	CreateSnapshot(ctx context.Context, s Snapshot) (int64, error)
}

// Store is a Gateway that owns its connection.
type Store interface {
	Gateway
	Close() error
}
