package quadtree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// NodeInfo describes a node visited by Walk.
type NodeInfo struct {
	Boundary Rect `json:"boundary"`
	Divided  bool `json:"divided"`
	Depth    int  `json:"depth"`
	Objects  int  `json:"objects"`
}

// Stats is a summary of the shape of a tree, mostly useful for debugging and
// metrics.
type Stats struct {
	Nodes          int `json:"nodes"`
	Depth          int `json:"depth"`
	Elements       int `json:"elements"`
	PooledNodes    int `json:"pooled_nodes"`
	AllocatedNodes int `json:"allocated_nodes"`
}

// SpatialIndex is the interface of the structures able to answer radius
// queries over elements of type T.
type SpatialIndex[T Positioner] interface {
	Boundary() Rect
	Insert(obj T) bool
	QueryRange(center Vector2, radius, maxObjectSize float64) ([]T, error)
	CountElements() int
	Clear()

	// debug stuff:
	Walk(fn func(NodeInfo) bool)
	Stats() Stats
}

var _ SpatialIndex[Vector2] = (*Tree[Vector2])(nil)

// ValidateRange returns an error typed ErrTypeInvalidArgument when the
// arguments of a range query are not usable.
func ValidateRange(center Vector2, radius, maxObjectSize float64) error {
	if math.IsNaN(radius) || radius < 0 {
		return errors.New("radius must be a non-negative number").
			WithType(ErrTypeInvalidArgument).
			WithTag("radius", radius)
	}

	if math.IsNaN(maxObjectSize) || maxObjectSize < 0 {
		return errors.New("max object size must be a non-negative number").
			WithType(ErrTypeInvalidArgument).
			WithTag("max_object_size", maxObjectSize)
	}

	if !center.isFinite() {
		return errors.New("center must be finite").
			WithType(ErrTypeInvalidArgument).
			WithTag("center", center)
	}
	return nil
}

// Position makes Vector2 usable as a tree element.
func (v Vector2) Position() Vector2 {
	return v
}

// Walk calls fn for every node of the tree in pre-order: a node, then its NW,
// NE, SW and SE children. The walk stops when fn returns false.
//
// Walk only reads the tree. It is the hook external renderers use to draw the
// node boundaries.
func (t *Tree[T]) Walk(fn func(NodeInfo) bool) {
	t.walk(t.root, fn)
}

func (t *Tree[T]) walk(idx int32, fn func(NodeInfo) bool) bool {
	n := t.pool.node(idx)

	if !fn(NodeInfo{
		Boundary: n.boundary,
		Divided:  n.divided,
		Depth:    n.depth,
		Objects:  len(n.objects),
	}) {
		return false
	}

	if n.divided {
		for _, child := range n.children {
			if !t.walk(child, fn) {
				return false
			}
		}
	}
	return true
}

func (t *Tree[T]) Stats() Stats {
	s := Stats{
		PooledNodes:    t.pool.Len(),
		AllocatedNodes: t.pool.Allocated(),
	}

	t.Walk(func(n NodeInfo) bool {
		s.Nodes++
		s.Elements += n.Objects
		if n.Depth > s.Depth {
			s.Depth = n.Depth
		}
		return true
	})
	return s
}
