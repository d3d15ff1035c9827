package models

import "sync"

// IDGenerator hands out sequential ids starting at 1. Released ids are handed
// out again, the most recently released first.
type IDGenerator struct {
	mutex       sync.Mutex
	currentID   uint32
	reusableIDs []uint32
	reusable    map[uint32]struct{}
}

// New returns an id that is not in use.
func (g *IDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if l := len(g.reusableIDs); l > 0 {
		id := g.reusableIDs[l-1]
		g.reusableIDs = g.reusableIDs[:l-1]
		delete(g.reusable, id)
		return id
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Ids that were never handed out or that
// are already reusable are ignored.
func (g *IDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	if g.reusable == nil {
		g.reusable = make(map[uint32]struct{})
	}
	if _, ok := g.reusable[id]; ok {
		return
	}

	g.reusable[id] = struct{}{}
	g.reusableIDs = append(g.reusableIDs, id)
}

// InUse returns the number of ids that were handed out and not released.
func (g *IDGenerator) InUse() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return int(g.currentID) - len(g.reusableIDs)
}
