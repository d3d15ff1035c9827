package quadtree

// noNode is the child index of a node that has no child in a given quadrant.
const noNode int32 = -1

type node[T Positioner] struct {
	boundary Rect
	edges    edges
	depth    int
	objects  []T
	divided  bool
	children [4]int32
}

func (n *node[T]) reset(boundary Rect, e edges, depth int) {
	clear(n.objects)
	n.objects = n.objects[:0]
	n.boundary = boundary
	n.edges = e
	n.depth = depth
	n.divided = false
	n.children = [4]int32{noNode, noNode, noNode, noNode}
}

// NodePool is the arena where the nodes of one or more trees live, together
// with the free list of the nodes that are currently not attached to any tree.
//
// Nodes released by Tree.Clear are handed out again when a tree subdivides, so
// a tree that is rebuilt every frame stops allocating once it reached its
// steady shape.
//
// A NodePool is not safe for concurrent use. Trees sharing a pool must be
// driven from the same goroutine or under the same lock.
type NodePool[T Positioner] struct {
	nodes []node[T]
	free  []int32
}

func NewNodePool[T Positioner]() *NodePool[T] {
	return &NodePool[T]{}
}

// Len returns the number of nodes that are available for reuse.
func (p *NodePool[T]) Len() int {
	return len(p.free)
}

// Allocated returns the number of nodes ever created in the pool, attached or
// not.
func (p *NodePool[T]) Allocated() int {
	return len(p.nodes)
}

func (p *NodePool[T]) acquire(boundary Rect, e edges, depth int) int32 {
	if l := len(p.free); l > 0 {
		idx := p.free[l-1]
		p.free = p.free[:l-1]
		p.nodes[idx].reset(boundary, e, depth)
		return idx
	}

	p.nodes = append(p.nodes, node[T]{})
	idx := int32(len(p.nodes) - 1)
	p.nodes[idx].reset(boundary, e, depth)
	return idx
}

func (p *NodePool[T]) release(idx int32) {
	p.nodes[idx].reset(Rect{}, 0, 0)
	p.free = append(p.free, idx)
}

func (p *NodePool[T]) node(idx int32) *node[T] {
	return &p.nodes[idx]
}
