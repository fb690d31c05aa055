package detection

import (
	"image"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// PersistenceCache implements spec.md §4.3's temporal persistence: when a
// detection cycle finds nothing, the engine substitutes the previous
// non-empty result for up to a configured TTL, to suppress single-frame
// flicker from transient occlusion (a torch particle, a chat bubble). Backed
// by hashicorp/golang-lru's expirable LRU (SPEC_FULL domain stack) instead
// of a hand-rolled map+mutex+ticker.
type PersistenceCache struct {
	tiles    *lru.LRU[string, tileEntry]
	monsters *lru.LRU[string, monstersEntry]
}

type tileEntry struct {
	Centers []image.Point
	Found   bool
}

type monstersEntry struct {
	Monsters []MonsterObservation
}

// NewPersistenceCache builds a PersistenceCache with the given TTL applied
// independently to tile and monster entries (spec.md §6
// tile_persistence_ms / monster_persistence_ms).
func NewPersistenceCache(tileTTL, monsterTTL time.Duration) *PersistenceCache {
	return &PersistenceCache{
		tiles:    lru.NewLRU[string, tileEntry](4, nil, tileTTL),
		monsters: lru.NewLRU[string, monstersEntry](4, nil, monsterTTL),
	}
}

// PutTile records a fresh non-empty tile detection under key (typically the
// ROI identity), starting its persistence window.
func (p *PersistenceCache) PutTile(key string, centers []image.Point) {
	p.tiles.Add(key, tileEntry{Centers: centers, Found: true})
}

// TileOrPersisted returns (centers, true, fromPersistence) when a fresh
// detection was supplied, or falls back to the cached entry if it is still
// within its TTL. ok=false means neither a fresh detection nor a live cache
// entry exists.
func (p *PersistenceCache) TileOrPersisted(key string, freshCenters []image.Point, freshFound bool) (centers []image.Point, ok bool, fromPersistence bool) {
	if freshFound {
		p.PutTile(key, freshCenters)
		return freshCenters, true, false
	}
	if e, found := p.tiles.Get(key); found {
		return e.Centers, true, true
	}
	return nil, false, false
}

// PutMonsters records a fresh non-empty monster list under key.
func (p *PersistenceCache) PutMonsters(key string, monsters []MonsterObservation) {
	if len(monsters) == 0 {
		return
	}
	p.monsters.Add(key, monstersEntry{Monsters: monsters})
}

// MonstersOrPersisted mirrors TileOrPersisted for monster lists.
func (p *PersistenceCache) MonstersOrPersisted(key string, fresh []MonsterObservation) (monsters []MonsterObservation, fromPersistence bool) {
	if len(fresh) > 0 {
		p.PutMonsters(key, fresh)
		return fresh, false
	}
	if e, found := p.monsters.Get(key); found {
		return e.Monsters, true
	}
	return nil, false
}
