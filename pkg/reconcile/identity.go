package reconcile

import "github.com/japaniel/sheetsync/pkg/db"

// IdentityResolver maps creator names, player handles and map names to store
// ids. It is a value: every With* call returns a new resolver and leaves the
// receiver untouched.
//
// Entities a dry run would have created are registered as pending with
// negative ids, so later phases can still plan against them.
type IdentityResolver struct {
	creators map[string]int64
	players  map[string]int64
	maps     map[string]int64
	pending  int64
}

// NewIdentityResolver returns an empty resolver.
func NewIdentityResolver() IdentityResolver {
	return IdentityResolver{
		creators: map[string]int64{},
		players:  map[string]int64{},
		maps:     map[string]int64{},
	}
}

func cloneIDs(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r IdentityResolver) clone() IdentityResolver {
	return IdentityResolver{
		creators: cloneIDs(r.creators),
		players:  cloneIDs(r.players),
		maps:     cloneIDs(r.maps),
		pending:  r.pending,
	}
}

// add records key→id in m and reports whether key is new.
func add(m map[string]int64, key string, id int64) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = id
	return true
}

// WithCreators adds creators and returns the names that were not known yet.
func (r IdentityResolver) WithCreators(cs []db.Creator) (IdentityResolver, []string) {
	next := r.clone()
	var added []string
	for _, c := range cs {
		if add(next.creators, c.Name, c.ID) {
			added = append(added, c.Name)
		}
	}
	return next, added
}

// WithPlayers adds players and returns the handles that were not known yet.
func (r IdentityResolver) WithPlayers(ps []db.Player) (IdentityResolver, []string) {
	next := r.clone()
	var added []string
	for _, p := range ps {
		if add(next.players, p.Handle, p.ID) {
			added = append(added, p.Handle)
		}
	}
	return next, added
}

// WithMaps adds maps and returns the names that were not known yet.
func (r IdentityResolver) WithMaps(ms []db.Map) (IdentityResolver, []string) {
	next := r.clone()
	var added []string
	for _, m := range ms {
		if add(next.maps, m.Name, m.ID) {
			added = append(added, m.Name)
		}
	}
	return next, added
}

// Entity kinds for WithPending.
const (
	KindCreator = "creator"
	KindPlayer  = "player"
	KindMap     = "map"
)

// WithPending registers names of the given kind under placeholder ids.
func (r IdentityResolver) WithPending(kind string, names []string) (IdentityResolver, []string) {
	next := r.clone()
	var target map[string]int64
	switch kind {
	case KindCreator:
		target = next.creators
	case KindPlayer:
		target = next.players
	case KindMap:
		target = next.maps
	default:
		return r, nil
	}
	var added []string
	for _, n := range names {
		if _, ok := target[n]; ok {
			continue
		}
		next.pending--
		target[n] = next.pending
		added = append(added, n)
	}
	return next, added
}

// Creator returns the id of a creator name.
func (r IdentityResolver) Creator(name string) (int64, bool) {
	id, ok := r.creators[name]
	return id, ok
}

// Player returns the id of a player handle.
func (r IdentityResolver) Player(handle string) (int64, bool) {
	id, ok := r.players[handle]
	return id, ok
}

// Map returns the id of a map name.
func (r IdentityResolver) Map(name string) (int64, bool) {
	id, ok := r.maps[name]
	return id, ok
}

// IsPending reports whether id is a dry-run placeholder.
func IsPending(id int64) bool { return id < 0 }
