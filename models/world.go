package models

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/featureflag"
	"github.com/aukilabs/quadtree/grid"
	"github.com/aukilabs/quadtree/quadtree"
	"github.com/google/uuid"
)

const (
	// ErrTypeEntityOutOfBounds is the type of the error returned when an
	// entity is spawned outside the world boundary.
	ErrTypeEntityOutOfBounds = "world_entity_out_of_bounds"

	// ErrTypeEntityAlreadySpawned is the type of the error returned when the
	// same entity is spawned twice.
	ErrTypeEntityAlreadySpawned = "world_entity_already_spawned"
)

// IndexKind names the spatial index a world uses.
type IndexKind string

const (
	IndexQuadtree IndexKind = "quadtree"
	IndexGrid     IndexKind = "grid"
)

// WorldConfig describes a world and how its index is built.
type WorldConfig struct {
	Boundary quadtree.Rect

	// The number of entities a node holds before subdividing.
	Capacity int

	// The depth past which nodes stop subdividing. 0 means
	// quadtree.DefaultMaxDepth.
	MaxDepth int

	// The spatial index. Empty means IndexQuadtree.
	Index IndexKind

	// The cell size of an IndexGrid index.
	GridResolution float64

	// The footprint of the biggest entity. Used by range queries to accept
	// whole nodes without checking each entity.
	MaxObjectSize float64

	// The duration of a frame.
	FrameDuration time.Duration

	FeatureFlags featureflag.FeatureFlag
}

// World is a bounded area that contains moving entities. The entities are
// indexed in a spatial index that is rebuilt at every frame.
type World struct {
	UUID string

	config WorldConfig

	// mutex guards the entity list, the index and the frame counter. Indexes
	// are not safe for concurrent use so every index operation goes through
	// it.
	mutex    sync.RWMutex
	ids      IDGenerator
	entities []*Entity
	slots    map[uint32]int
	index    quadtree.SpatialIndex[*Entity]
	frame    uint64
	rejected int

	frameHandlerIDs IDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex
}

func NewWorld(config WorldConfig) (*World, error) {
	if config.MaxDepth == 0 {
		config.MaxDepth = quadtree.DefaultMaxDepth
	}

	if config.Index == "" {
		config.Index = IndexQuadtree
	}

	if config.MaxObjectSize < 0 {
		return nil, errors.New("max object size must not be negative").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("max_object_size", config.MaxObjectSize)
	}

	if config.FrameDuration <= 0 {
		return nil, errors.New("frame duration must be positive").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("frame_duration", config.FrameDuration)
	}

	if config.FeatureFlags == nil {
		config.FeatureFlags = featureflag.New(nil)
	}

	w := &World{
		UUID:          uuid.New().String(),
		config:        config,
		slots:         make(map[uint32]int),
		frameHandlers: make(map[uint32]func()),
	}

	if err := w.resetIndex(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) resetIndex() error {
	switch w.config.Index {
	case IndexQuadtree:
		pool := quadtree.NewNodePool[*Entity]()

		tree, err := quadtree.NewTree[*Entity](w.config.Boundary, w.config.Capacity,
			quadtree.WithMaxDepth(w.config.MaxDepth),
			quadtree.WithPool(pool),
		)
		if err != nil {
			return err
		}

		w.index = tree
		return nil

	case IndexGrid:
		g, err := grid.New[*Entity](w.config.Boundary, w.config.GridResolution)
		if err != nil {
			return err
		}

		w.index = g
		return nil

	default:
		return errors.New("unknown index").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("index", w.config.Index)
	}
}

func (w *World) Config() WorldConfig {
	return w.config
}

func (w *World) Boundary() quadtree.Rect {
	return w.config.Boundary
}

// Spawn adds an entity to the world and returns its id. The entity is indexed
// at the next rebuild.
func (w *World) Spawn(e *Entity) (uint32, error) {
	if !w.config.Boundary.Contains(e.Position()) {
		return 0, errors.New("entity is outside the world boundary").
			WithType(ErrTypeEntityOutOfBounds).
			WithTag("position", e.Position()).
			WithTag("boundary", w.config.Boundary)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if e.ID != 0 {
		if _, ok := w.slots[e.ID]; ok {
			return 0, errors.New("entity is already spawned").
				WithType(ErrTypeEntityAlreadySpawned).
				WithTag("entity_id", e.ID)
		}
	}

	e.ID = w.ids.New()
	w.slots[e.ID] = len(w.entities)
	w.entities = append(w.entities, e)

	instrumentEntityCount(len(w.entities))
	return e.ID, nil
}

// Remove removes the entity with the given id. It returns false when there is
// no such entity.
func (w *World) Remove(id uint32) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	i, ok := w.slots[id]
	if !ok {
		return false
	}

	last := len(w.entities) - 1
	w.entities[i] = w.entities[last]
	w.slots[w.entities[i].ID] = i
	w.entities[last] = nil
	w.entities = w.entities[:last]
	delete(w.slots, id)

	w.ids.Reuse(id)

	instrumentEntityCount(len(w.entities))
	return true
}

func (w *World) EntityByID(id uint32) (*Entity, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	i, ok := w.slots[id]
	if !ok {
		return nil, false
	}
	return w.entities[i], true
}

func (w *World) Entities() []*Entity {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	entities := make([]*Entity, len(w.entities))
	copy(entities, w.entities)
	return entities
}

func (w *World) EntityCount() int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return len(w.entities)
}

// Frame returns the number of frames processed so far.
func (w *World) Frame() uint64 {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.frame
}

// Step moves every entity by its velocity over dt.
func (w *World) Step(dt time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.step(dt)
}

func (w *World) step(dt time.Duration) {
	seconds := float32(dt.Seconds())
	for _, e := range w.entities {
		e.move(seconds, w.config.Boundary)
	}
}

// Rebuild clears the index and inserts every entity again. It returns the
// number of entities that could not be indexed.
func (w *World) Rebuild() (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err := w.rebuild(); err != nil {
		return 0, err
	}
	return w.rejected, nil
}

func (w *World) rebuild() error {
	start := time.Now()

	var err error
	w.config.FeatureFlags.IfSet(featureflag.FlagDisableNodeReuse, func() {
		err = w.resetIndex()
	})
	if err != nil {
		return errors.New("resetting world index failed").
			WithTag("world_uuid", w.UUID).
			Wrap(err)
	}

	w.config.FeatureFlags.IfNotSet(featureflag.FlagDisableNodeReuse, func() {
		w.index.Clear()
	})

	rejected := 0
	for _, e := range w.entities {
		if !w.index.Insert(e) {
			rejected++
		}
	}

	if rejected != 0 {
		logs.WithTag("world_uuid", w.UUID).
			WithTag("frame", w.frame).
			WithTag("rejected", rejected).
			Warn("entities outside the world boundary were not indexed")
	}

	w.rejected = rejected
	instrumentRebuild(start, rejected, w.index.Stats())
	return nil
}

// Tick runs a frame: entities are moved by the frame duration unless movement
// is disabled, the index is rebuilt and the frame handlers are called.
func (w *World) Tick() error {
	w.mutex.Lock()
	w.config.FeatureFlags.IfNotSet(featureflag.FlagDisableMovement, func() {
		w.step(w.config.FrameDuration)
	})
	err := w.rebuild()
	if err == nil {
		w.frame++
	}
	w.mutex.Unlock()

	if err != nil {
		return err
	}

	w.frameMutex.RLock()
	defer w.frameMutex.RUnlock()

	for _, h := range w.frameHandlers {
		h()
	}
	return nil
}

// HandleFrame registers a function called after each frame. The returned
// function unregisters it.
func (w *World) HandleFrame(h func()) (cancel func()) {
	w.frameMutex.Lock()
	defer w.frameMutex.Unlock()

	id := w.frameHandlerIDs.New()
	w.frameHandlers[id] = h

	return func() {
		w.frameMutex.Lock()
		defer w.frameMutex.Unlock()

		if _, ok := w.frameHandlers[id]; !ok {
			return
		}
		delete(w.frameHandlers, id)
		w.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames runs a frame every frame duration until ctx is done.
func (w *World) StartDispatchFrames(ctx context.Context) error {
	ticker := time.NewTicker(w.config.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := w.Tick(); err != nil {
				return err
			}
		}
	}
}

// Nearby returns the entities within radius of center, as found by the index
// at the last rebuild.
func (w *World) Nearby(center quadtree.Vector2, radius float64) ([]*Entity, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	start := time.Now()
	entities, err := w.index.QueryRange(center, radius, w.config.MaxObjectSize)
	if err != nil {
		instrumentQueryError(err)
		return nil, err
	}

	instrumentQuery(start, len(entities))
	return entities, nil
}

// QueryComparison is the result of a range query run both on the index and on
// a scan of every entity.
type QueryComparison struct {
	Indexed []*Entity
	Scanned []*Entity
}

// Missing returns the scanned entities the index did not return.
func (c QueryComparison) Missing() []*Entity {
	return difference(c.Scanned, c.Indexed)
}

// Extra returns the indexed entities that are not within range. The index
// can return some when it accepts whole nodes, see quadtree.Tree.QueryRange.
func (c QueryComparison) Extra() []*Entity {
	return difference(c.Indexed, c.Scanned)
}

func difference(a, b []*Entity) []*Entity {
	set := make(map[*Entity]struct{}, len(b))
	for _, e := range b {
		set[e] = struct{}{}
	}

	var diff []*Entity
	for _, e := range a {
		if _, ok := set[e]; !ok {
			diff = append(diff, e)
		}
	}
	return diff
}

// CompareQuery runs the same range query on the index and on a scan of every
// entity within the boundary. Both run under the same lock, so they see the
// same positions. Entities spawned since the last rebuild show up as missing.
func (w *World) CompareQuery(center quadtree.Vector2, radius float64) (QueryComparison, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	indexed, err := w.index.QueryRange(center, radius, w.config.MaxObjectSize)
	if err != nil {
		return QueryComparison{}, err
	}

	var scanned []*Entity
	for _, e := range w.entities {
		pos := e.Position()
		if !w.config.Boundary.Contains(pos) {
			continue
		}
		if pos.Distance(center) <= radius {
			scanned = append(scanned, e)
		}
	}

	return QueryComparison{
		Indexed: indexed,
		Scanned: scanned,
	}, nil
}

// TreeSnapshot is what an external renderer needs to draw the world index.
type TreeSnapshot struct {
	WorldUUID string              `json:"world_uuid"`
	Frame     uint64              `json:"frame"`
	Index     IndexKind           `json:"index"`
	Boundary  quadtree.Rect       `json:"boundary"`
	Stats     quadtree.Stats      `json:"stats"`
	Nodes     []quadtree.NodeInfo `json:"nodes"`
	Entities  []EntityView        `json:"entities,omitempty"`
}

// Snapshot returns the nodes of the index as of the last rebuild. Entities are
// included when withEntities is true.
func (w *World) Snapshot(withEntities bool) TreeSnapshot {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	stats := w.index.Stats()
	s := TreeSnapshot{
		WorldUUID: w.UUID,
		Frame:     w.frame,
		Index:     w.config.Index,
		Boundary:  w.index.Boundary(),
		Stats:     stats,
		Nodes:     make([]quadtree.NodeInfo, 0, stats.Nodes),
	}

	w.index.Walk(func(n quadtree.NodeInfo) bool {
		s.Nodes = append(s.Nodes, n)
		return true
	})

	if withEntities {
		s.Entities = EntitiesToViews(w.entities)
	}
	return s
}
