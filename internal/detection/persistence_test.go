package detection

import (
	"image"
	"testing"
	"time"
)

func TestTileOrPersistedFreshDetection(t *testing.T) {
	c := NewPersistenceCache(50*time.Millisecond, 50*time.Millisecond)
	centers, ok, fromPersist := c.TileOrPersisted("tile", []image.Point{image.Pt(10, 20)}, true)
	if !ok || fromPersist || len(centers) != 1 || centers[0] != image.Pt(10, 20) {
		t.Fatalf("got (%v, %v, %v), want ([(10,20)], true, false)", centers, ok, fromPersist)
	}
}

// TestTileOrPersistedFallsBackWithinTTL covers spec.md §4.3's temporal
// persistence testable property: an empty cycle within the TTL substitutes
// the last non-empty result and reports it as persisted.
func TestTileOrPersistedFallsBackWithinTTL(t *testing.T) {
	c := NewPersistenceCache(200*time.Millisecond, 200*time.Millisecond)
	c.TileOrPersisted("tile", []image.Point{image.Pt(5, 5)}, true)

	centers, ok, fromPersist := c.TileOrPersisted("tile", nil, false)
	if !ok || !fromPersist || len(centers) != 1 || centers[0] != image.Pt(5, 5) {
		t.Fatalf("got (%v, %v, %v), want ([(5,5)], true, true)", centers, ok, fromPersist)
	}
}

func TestTileOrPersistedExpiresAfterTTL(t *testing.T) {
	c := NewPersistenceCache(20*time.Millisecond, 20*time.Millisecond)
	c.TileOrPersisted("tile", []image.Point{image.Pt(5, 5)}, true)
	time.Sleep(60 * time.Millisecond)

	_, ok, _ := c.TileOrPersisted("tile", nil, false)
	if ok {
		t.Fatal("expected persistence to have expired")
	}
}

func TestTileOrPersistedEmptyWithNoPriorEntry(t *testing.T) {
	c := NewPersistenceCache(time.Second, time.Second)
	_, ok, fromPersist := c.TileOrPersisted("tile", nil, false)
	if ok || fromPersist {
		t.Fatalf("got ok=%v fromPersist=%v, want both false", ok, fromPersist)
	}
}

func TestMonstersOrPersistedFallsBackWithinTTL(t *testing.T) {
	c := NewPersistenceCache(time.Second, 200*time.Millisecond)
	fresh := []MonsterObservation{{Center: image.Pt(1, 1), Area: 40, DistSq: 10}}
	c.MonstersOrPersisted("monsters", fresh)

	monsters, fromPersist := c.MonstersOrPersisted("monsters", nil)
	if !fromPersist || len(monsters) != 1 || monsters[0] != fresh[0] {
		t.Fatalf("got (%v, %v), want persisted fresh entry", monsters, fromPersist)
	}
}

func TestMonstersOrPersistedEmptyListDoesNotOverwriteCache(t *testing.T) {
	c := NewPersistenceCache(time.Second, time.Second)
	fresh := []MonsterObservation{{Center: image.Pt(2, 2), Area: 40, DistSq: 10}}
	c.MonstersOrPersisted("monsters", fresh)
	c.MonstersOrPersisted("monsters", nil)

	monsters, fromPersist := c.MonstersOrPersisted("monsters", nil)
	if !fromPersist || len(monsters) != 1 {
		t.Fatalf("expected the original fresh entry to persist, got %v (fromPersist=%v)", monsters, fromPersist)
	}
}
