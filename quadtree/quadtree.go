// Package quadtree implements a region quadtree that indexes movable point-like
// objects and answers radius queries.
//
// A tree is meant to be rebuilt every frame: insert every object, run the
// queries, then Clear before the next frame. Clear gives the subdivided nodes
// back to the tree's NodePool, where the next subdivisions pick them up.
//
// Containment rule: node rectangles include their min edges and exclude their
// max edges, except for the max edges of the root which are included. A
// position lying on the line shared by two children therefore belongs to the
// child on its east (x) or north (y) side.
package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// DefaultMaxDepth is the depth past which nodes stop subdividing.
const DefaultMaxDepth = 24

// Option configures a tree.
type Option func(*options)

type options struct {
	maxDepth int
	pool     any
}

// WithMaxDepth sets the depth at which nodes stop subdividing. A node at that
// depth keeps accepting objects past its capacity, which avoids subdividing
// forever when more than capacity objects share the same position.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = depth
	}
}

// WithPool makes the tree take its nodes from the given pool instead of a
// private one.
func WithPool[T Positioner](p *NodePool[T]) Option {
	return func(o *options) {
		o.pool = p
	}
}

// Tree is a region quadtree. Its nodes live in a NodePool and reference their
// children by index.
//
// A Tree is not safe for concurrent use.
type Tree[T Positioner] struct {
	pool     *NodePool[T]
	root     int32
	capacity int
	maxDepth int
}

// NewTree creates an empty tree covering boundary, where each node holds up to
// capacity objects before subdividing.
func NewTree[T Positioner](boundary Rect, capacity int, opts ...Option) (*Tree[T], error) {
	o := options{
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if capacity <= 0 {
		return nil, errors.New("capacity must be positive").
			WithType(ErrTypeInvalidConfiguration).
			WithTag("capacity", capacity)
	}

	if !boundary.IsValid() {
		return nil, errors.New("boundary must be finite and have a positive area").
			WithType(ErrTypeInvalidConfiguration).
			WithTag("min", boundary.Min).
			WithTag("max", boundary.Max)
	}

	if o.maxDepth < 1 {
		return nil, errors.New("max depth must be at least 1").
			WithType(ErrTypeInvalidConfiguration).
			WithTag("max_depth", o.maxDepth)
	}

	var pool *NodePool[T]
	switch p := o.pool.(type) {
	case nil:
		pool = NewNodePool[T]()

	case *NodePool[T]:
		if p == nil {
			return nil, errors.New("node pool is nil").
				WithType(ErrTypeInvalidConfiguration)
		}
		pool = p

	default:
		return nil, errors.Newf("node pool element type mismatch: %T", p).
			WithType(ErrTypeInvalidConfiguration)
	}

	return &Tree[T]{
		pool:     pool,
		root:     pool.acquire(boundary, closedX|closedY, 0),
		capacity: capacity,
		maxDepth: o.maxDepth,
	}, nil
}

func (t *Tree[T]) Boundary() Rect {
	return t.pool.node(t.root).boundary
}

func (t *Tree[T]) Capacity() int {
	return t.capacity
}

func (t *Tree[T]) MaxDepth() int {
	return t.maxDepth
}

// Divided reports whether the root node has been subdivided.
func (t *Tree[T]) Divided() bool {
	return t.pool.node(t.root).divided
}

// Pool returns the pool the tree takes its nodes from.
func (t *Tree[T]) Pool() *NodePool[T] {
	return t.pool
}

// Insert stores obj in the tree. It returns false without modifying the tree
// when the position of obj is outside the tree boundary.
func (t *Tree[T]) Insert(obj T) bool {
	return t.insert(t.root, obj, obj.Position())
}

func (t *Tree[T]) insert(idx int32, obj T, pos Vector2) bool {
	n := t.pool.node(idx)
	if !n.boundary.contains(pos, n.edges) {
		return false
	}

	if len(n.objects) < t.capacity || n.depth >= t.maxDepth {
		n.objects = append(n.objects, obj)
		return true
	}

	if !n.divided {
		t.subdivide(idx)
	}

	// Subdividing can grow the arena, n must not be used past this point.
	for _, child := range t.pool.node(idx).children {
		if t.insert(child, obj, pos) {
			return true
		}
	}
	return false
}

func (t *Tree[T]) subdivide(idx int32) {
	n := t.pool.node(idx)
	rects, childEdges := n.boundary.quadrants(n.edges)
	depth := n.depth + 1

	var children [4]int32
	for q := range rects {
		children[q] = t.pool.acquire(rects[q], childEdges[q], depth)
	}

	n = t.pool.node(idx)
	n.children = children
	n.divided = true
}

// QueryRange returns the objects that are within radius of center.
//
// Nodes are first filtered with the square box that bounds the query circle.
// Then, when a node is no larger than radius+maxObjectSize on both axes and its
// center is within radius, all of its objects are accepted without checking
// their distance. maxObjectSize must be at least the footprint of the largest
// stored object, otherwise objects close to the edge of the circle can be
// wrongly included or excluded. Passing 0 disables the shortcut for every node
// bigger than radius.
//
// The result order is not meaningful.
func (t *Tree[T]) QueryRange(center Vector2, radius, maxObjectSize float64) ([]T, error) {
	return t.AppendRange(nil, center, radius, maxObjectSize)
}

// AppendRange is like QueryRange but appends the found objects to dst.
func (t *Tree[T]) AppendRange(dst []T, center Vector2, radius, maxObjectSize float64) ([]T, error) {
	if err := ValidateRange(center, radius, maxObjectSize); err != nil {
		return dst, err
	}

	box := NewRect(center, Vector2{X: radius * 2, Y: radius * 2})
	return t.appendRange(dst, t.root, center, radius, maxObjectSize, box), nil
}

func (t *Tree[T]) appendRange(dst []T, idx int32, center Vector2, radius, maxObjectSize float64, box Rect) []T {
	n := t.pool.node(idx)
	if !n.boundary.Intersects(box) {
		return dst
	}

	size := n.boundary.Size()
	if size.X <= radius+maxObjectSize &&
		size.Y <= radius+maxObjectSize &&
		n.boundary.Center().Distance(center) <= radius {
		dst = append(dst, n.objects...)
	} else {
		for _, obj := range n.objects {
			if obj.Position().Distance(center) <= radius {
				dst = append(dst, obj)
			}
		}
	}

	if n.divided {
		for _, child := range n.children {
			dst = t.appendRange(dst, child, center, radius, maxObjectSize, box)
		}
	}
	return dst
}

// CountElements returns the number of objects stored in the tree.
func (t *Tree[T]) CountElements() int {
	return t.count(t.root)
}

func (t *Tree[T]) count(idx int32) int {
	n := t.pool.node(idx)
	count := len(n.objects)

	if n.divided {
		for _, child := range n.children {
			count += t.count(child)
		}
	}
	return count
}

// Clear removes every object from the tree and gives all the nodes below the
// root back to the pool.
func (t *Tree[T]) Clear() {
	t.clear(t.root)
}

func (t *Tree[T]) clear(idx int32) {
	n := t.pool.node(idx)
	clear(n.objects)
	n.objects = n.objects[:0]

	if n.divided {
		for _, child := range n.children {
			t.clear(child)
			t.pool.release(child)
		}
	}

	n.divided = false
	n.children = [4]int32{noNode, noNode, noNode, noNode}
}

// Release clears the tree and gives its root back to the pool. The tree must
// not be used afterward.
func (t *Tree[T]) Release() {
	if t.root == noNode {
		return
	}

	t.clear(t.root)
	t.pool.release(t.root)
	t.root = noNode
}
