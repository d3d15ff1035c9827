package quadtree

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

type testObject struct {
	ID  int
	Pos Vector2
}

func (o *testObject) Position() Vector2 {
	return o.Pos
}

func newTestTree(t testing.TB, boundary Rect, capacity int, opts ...Option) *Tree[*testObject] {
	tree, err := NewTree[*testObject](boundary, capacity, opts...)
	require.NoError(t, err)
	return tree
}

func randomObjects(rng *rand.Rand, n int, boundary Rect) []*testObject {
	size := boundary.Size()
	objects := make([]*testObject, n)
	for i := range objects {
		objects[i] = &testObject{
			ID: i,
			Pos: Vector2{
				X: boundary.Min.X + rng.Float64()*size.X,
				Y: boundary.Min.Y + rng.Float64()*size.Y,
			},
		}
	}
	return objects
}

func ids(objects []*testObject) []int {
	res := make([]int, len(objects))
	for i, o := range objects {
		res[i] = o.ID
	}
	return res
}

func TestNewTree(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 100, Y: 100})

	t.Run("tree is created", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		require.Equal(t, boundary, tree.Boundary())
		require.Equal(t, 4, tree.Capacity())
		require.Equal(t, DefaultMaxDepth, tree.MaxDepth())
		require.False(t, tree.Divided())
		require.Zero(t, tree.CountElements())
	})

	t.Run("non positive capacity returns an error", func(t *testing.T) {
		for _, capacity := range []int{0, -1} {
			tree, err := NewTree[*testObject](boundary, capacity)
			require.Error(t, err)
			require.Nil(t, tree)
			require.Equal(t, ErrTypeInvalidConfiguration, errors.Type(err))
		}
	})

	t.Run("degenerate boundary returns an error", func(t *testing.T) {
		boundaries := []Rect{
			NewRect(Vector2{}, Vector2{X: 0, Y: 100}),
			NewRect(Vector2{}, Vector2{X: 100, Y: 0}),
			NewRect(Vector2{}, Vector2{X: -10, Y: 10}),
			NewRect(Vector2{}, Vector2{X: math.NaN(), Y: 10}),
			NewRect(Vector2{}, Vector2{X: math.Inf(1), Y: 10}),
		}

		for _, b := range boundaries {
			_, err := NewTree[*testObject](b, 4)
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidConfiguration, errors.Type(err))
		}
	})

	t.Run("invalid max depth returns an error", func(t *testing.T) {
		_, err := NewTree[*testObject](boundary, 4, WithMaxDepth(0))
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidConfiguration, errors.Type(err))
	})

	t.Run("pool of another element type returns an error", func(t *testing.T) {
		_, err := NewTree[*testObject](boundary, 4, WithPool(NewNodePool[Vector2]()))
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidConfiguration, errors.Type(err))
	})
}

func TestTreeInsert(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 100, Y: 100})

	t.Run("object outside the boundary is rejected", func(t *testing.T) {
		tree := newTestTree(t, boundary, 1)
		require.True(t, tree.Insert(&testObject{Pos: Vector2{X: 1, Y: 1}}))

		outside := []Vector2{
			{X: 50.001, Y: 0},
			{X: -50.001, Y: 0},
			{X: 0, Y: 51},
			{X: 0, Y: -51},
			{X: math.NaN(), Y: 0},
			{X: 0, Y: math.NaN()},
			{X: math.NaN(), Y: math.NaN()},
			{X: math.Inf(-1), Y: 0},
		}
		for _, pos := range outside {
			require.False(t, boundary.Contains(pos))
			require.False(t, tree.Insert(&testObject{Pos: pos}))
		}

		require.Equal(t, 1, tree.CountElements())
		require.False(t, tree.Divided())
		require.Equal(t, 1, tree.Stats().Nodes)
	})

	t.Run("inserting past capacity subdivides", func(t *testing.T) {
		tree := newTestTree(t, boundary, 3)
		positions := []Vector2{
			{X: -10, Y: -10},
			{X: 10, Y: 10},
			{X: -10, Y: 10},
		}
		for i, pos := range positions {
			require.True(t, tree.Insert(&testObject{ID: i, Pos: pos}))
		}
		require.False(t, tree.Divided())

		require.True(t, tree.Insert(&testObject{ID: 3, Pos: Vector2{X: 10, Y: -10}}))
		require.True(t, tree.Divided())
		require.Equal(t, 4, tree.CountElements())
	})

	t.Run("objects stay in the node that was full", func(t *testing.T) {
		tree := newTestTree(t, boundary, 2)
		for i := 0; i < 5; i++ {
			require.True(t, tree.Insert(&testObject{ID: i, Pos: Vector2{X: float64(i), Y: float64(i)}}))
		}

		var root NodeInfo
		tree.Walk(func(n NodeInfo) bool {
			root = n
			return false
		})
		require.Equal(t, 2, root.Objects)
		require.True(t, root.Divided)
	})

	t.Run("max depth stops subdivision", func(t *testing.T) {
		tree := newTestTree(t, boundary, 1, WithMaxDepth(3))
		for i := 0; i < 10; i++ {
			require.True(t, tree.Insert(&testObject{ID: i, Pos: Vector2{X: 7, Y: 7}}))
		}

		require.Equal(t, 10, tree.CountElements())
		require.Equal(t, 3, tree.Stats().Depth)
	})
}

func TestTreeInsertBoundaryOwnership(t *testing.T) {
	// Root spans [0, 100] on both axes and holds a single object, so the second
	// insert always lands in one of the four children.
	boundary := Rect{Max: Vector2{X: 100, Y: 100}}

	tests := []struct {
		name     string
		pos      Vector2
		quadrant Quadrant
	}{
		{name: "center", pos: Vector2{X: 50, Y: 50}, quadrant: NorthEast},
		{name: "vertical split line", pos: Vector2{X: 50, Y: 10}, quadrant: SouthEast},
		{name: "horizontal split line", pos: Vector2{X: 10, Y: 50}, quadrant: NorthWest},
		{name: "min corner", pos: Vector2{X: 0, Y: 0}, quadrant: SouthWest},
		{name: "max corner", pos: Vector2{X: 100, Y: 100}, quadrant: NorthEast},
		{name: "east edge", pos: Vector2{X: 100, Y: 10}, quadrant: SouthEast},
		{name: "north edge", pos: Vector2{X: 10, Y: 100}, quadrant: NorthWest},
		{name: "west edge on split line", pos: Vector2{X: 0, Y: 50}, quadrant: NorthWest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tree := newTestTree(t, boundary, 1)
			require.True(t, tree.Insert(&testObject{Pos: Vector2{X: 20, Y: 20}}))
			require.True(t, tree.Insert(&testObject{Pos: test.pos}))

			var children []NodeInfo
			tree.Walk(func(n NodeInfo) bool {
				if n.Depth == 1 {
					children = append(children, n)
				}
				return true
			})
			require.Len(t, children, 4)

			for q, child := range children {
				if Quadrant(q) == test.quadrant {
					require.Equal(t, 1, child.Objects, "quadrant %s", Quadrant(q))
				} else {
					require.Zero(t, child.Objects, "quadrant %s", Quadrant(q))
				}
			}
		})
	}
}

func TestRectQuadrants(t *testing.T) {
	parent := NewRect(Vector2{X: 3, Y: -7}, Vector2{X: 40, Y: 24})
	rects, _ := parent.quadrants(closedX | closedY)

	var area float64
	for _, r := range rects {
		area += r.Area()
		require.Equal(t, Vector2{X: 20, Y: 12}, r.Size())
	}
	require.InDelta(t, parent.Area(), area, 1e-9)

	center := parent.Center()
	require.Equal(t, Vector2{X: center.X - 10, Y: center.Y + 6}, rects[NorthWest].Center())
	require.Equal(t, Vector2{X: center.X + 10, Y: center.Y + 6}, rects[NorthEast].Center())
	require.Equal(t, Vector2{X: center.X - 10, Y: center.Y - 6}, rects[SouthWest].Center())
	require.Equal(t, Vector2{X: center.X + 10, Y: center.Y - 6}, rects[SouthEast].Center())

	overlap := func(a, b Rect) float64 {
		w := math.Min(a.Max.X, b.Max.X) - math.Max(a.Min.X, b.Min.X)
		h := math.Min(a.Max.Y, b.Max.Y) - math.Max(a.Min.Y, b.Min.Y)
		if w <= 0 || h <= 0 {
			return 0
		}
		return w * h
	}
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			require.Zero(t, overlap(rects[i], rects[j]), "%s and %s", Quadrant(i), Quadrant(j))
		}
	}
}

func TestTreeExampleScenario(t *testing.T) {
	tree := newTestTree(t, NewRect(Vector2{}, Vector2{X: 100, Y: 100}), 4)

	positions := []Vector2{
		{X: -40, Y: -40},
		{X: -40, Y: 40},
		{X: 40, Y: -40},
		{X: 40, Y: 40},
	}
	for i, pos := range positions {
		require.True(t, tree.Insert(&testObject{ID: i, Pos: pos}))
	}
	require.False(t, tree.Divided())

	center := &testObject{ID: 4, Pos: Vector2{}}
	require.True(t, tree.Insert(center))
	require.True(t, tree.Divided())
	require.Equal(t, 5, tree.CountElements())

	found, err := tree.QueryRange(Vector2{}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []*testObject{center}, found)

	found, err = tree.QueryRange(Vector2{}, 200, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4}, ids(found))
}

func TestTreeNoLossNoDuplication(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 1000, Y: 1000})
	tree := newTestTree(t, boundary, 4)

	objects := randomObjects(rand.New(rand.NewPCG(1, 2)), 2000, boundary)
	for _, o := range objects {
		require.True(t, tree.Insert(o))
	}
	require.Equal(t, len(objects), tree.CountElements())

	found, err := tree.QueryRange(Vector2{}, 1000, 0)
	require.NoError(t, err)
	require.Len(t, found, len(objects))

	seen := make(map[int]struct{}, len(found))
	for _, o := range found {
		_, dup := seen[o.ID]
		require.False(t, dup, "object %d returned twice", o.ID)
		seen[o.ID] = struct{}{}
	}
}

func TestTreeQueryRangeMatchesBruteForce(t *testing.T) {
	boundary := NewRect(Vector2{X: 250, Y: -250}, Vector2{X: 1000, Y: 1000})

	// Nodes are never smaller than 1000/2^4 = 62.5, more than any radius below,
	// so no node takes the whole node shortcut.
	tree := newTestTree(t, boundary, 8, WithMaxDepth(4))

	rng := rand.New(rand.NewPCG(42, 7))
	objects := randomObjects(rng, 500, boundary)
	for _, o := range objects {
		require.True(t, tree.Insert(o))
	}

	for i := 0; i < 200; i++ {
		center := Vector2{
			X: boundary.Min.X - 50 + rng.Float64()*1100,
			Y: boundary.Min.Y - 50 + rng.Float64()*1100,
		}
		radius := rng.Float64() * 60

		var expected []int
		for _, o := range objects {
			if o.Pos.Distance(center) <= radius {
				expected = append(expected, o.ID)
			}
		}

		found, err := tree.QueryRange(center, radius, 0)
		require.NoError(t, err)
		require.ElementsMatch(t, expected, ids(found), "center %v radius %v", center, radius)
	}
}

func TestTreeQueryRange(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 10, Y: 10})

	t.Run("query far from the tree returns nothing", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		require.True(t, tree.Insert(&testObject{Pos: Vector2{X: 1, Y: 1}}))

		found, err := tree.QueryRange(Vector2{X: 100, Y: 100}, 5, 100)
		require.NoError(t, err)
		require.Empty(t, found)
	})

	t.Run("whole node shortcut skips distance checks", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		corner := &testObject{Pos: Vector2{X: 4.9, Y: 4.9}}
		require.True(t, tree.Insert(corner))

		center := Vector2{X: -3, Y: -3}
		require.Greater(t, corner.Pos.Distance(center), 10.0)

		found, err := tree.QueryRange(center, 10, 0)
		require.NoError(t, err)
		require.Equal(t, []*testObject{corner}, found)

		found, err = tree.QueryRange(center, 9, 0)
		require.NoError(t, err)
		require.Empty(t, found)
	})

	t.Run("zero radius matches exact position", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		o := &testObject{Pos: Vector2{X: 2, Y: 3}}
		require.True(t, tree.Insert(o))
		require.True(t, tree.Insert(&testObject{Pos: Vector2{X: 2, Y: 3.5}}))

		found, err := tree.QueryRange(Vector2{X: 2, Y: 3}, 0, 0)
		require.NoError(t, err)
		require.Equal(t, []*testObject{o}, found)
	})

	t.Run("append range reuses the given slice", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		o := &testObject{Pos: Vector2{X: 2, Y: 3}}
		require.True(t, tree.Insert(o))

		dst := make([]*testObject, 0, 8)
		found, err := tree.AppendRange(dst, Vector2{}, 10, 0)
		require.NoError(t, err)
		require.Equal(t, []*testObject{o}, found)
		require.Equal(t, 8, cap(found))
	})

	t.Run("invalid arguments return an error", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)

		args := []struct {
			center        Vector2
			radius        float64
			maxObjectSize float64
		}{
			{radius: -1},
			{radius: math.NaN()},
			{radius: 1, maxObjectSize: -1},
			{radius: 1, maxObjectSize: math.NaN()},
			{center: Vector2{X: math.NaN()}, radius: 1},
		}

		for _, a := range args {
			found, err := tree.QueryRange(a.center, a.radius, a.maxObjectSize)
			require.Error(t, err)
			require.Nil(t, found)
			require.Equal(t, ErrTypeInvalidArgument, errors.Type(err))
		}
	})

	t.Run("infinite radius returns everything", func(t *testing.T) {
		tree := newTestTree(t, boundary, 1)
		for i := 0; i < 20; i++ {
			require.True(t, tree.Insert(&testObject{ID: i, Pos: Vector2{X: float64(i%5) - 2, Y: float64(i/5) - 2}}))
		}

		found, err := tree.QueryRange(Vector2{}, math.Inf(1), 0)
		require.NoError(t, err)
		require.Len(t, found, 20)
	})
}

func TestTreeClear(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 1000, Y: 1000})
	objects := randomObjects(rand.New(rand.NewPCG(3, 4)), 300, boundary)

	t.Run("clear resets occupancy", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		for _, o := range objects {
			tree.Insert(o)
		}
		require.True(t, tree.Divided())

		tree.Clear()
		require.Zero(t, tree.CountElements())
		require.False(t, tree.Divided())
		require.Equal(t, 1, tree.Stats().Nodes)

		found, err := tree.QueryRange(Vector2{}, 2000, 0)
		require.NoError(t, err)
		require.Empty(t, found)
	})

	t.Run("cleared nodes are given back to the pool", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		for _, o := range objects {
			tree.Insert(o)
		}
		allocated := tree.Pool().Allocated()
		require.Zero(t, tree.Pool().Len())

		tree.Clear()
		require.Equal(t, allocated-1, tree.Pool().Len())
		require.Equal(t, allocated, tree.Pool().Allocated())
	})

	t.Run("rebuilding reuses pooled nodes", func(t *testing.T) {
		tree := newTestTree(t, boundary, 4)
		for _, o := range objects {
			tree.Insert(o)
		}
		allocated := tree.Pool().Allocated()

		for i := 0; i < 3; i++ {
			tree.Clear()
			for _, o := range objects {
				require.True(t, tree.Insert(o))
			}
			require.Equal(t, allocated, tree.Pool().Allocated())
			require.Zero(t, tree.Pool().Len())
			require.Equal(t, len(objects), tree.CountElements())
		}
	})
}

func TestTreeSharedPool(t *testing.T) {
	boundary := NewRect(Vector2{}, Vector2{X: 1000, Y: 1000})
	objects := randomObjects(rand.New(rand.NewPCG(5, 6)), 200, boundary)
	pool := NewNodePool[*testObject]()

	a := newTestTree(t, boundary, 4, WithPool(pool))
	b := newTestTree(t, boundary, 4, WithPool(pool))
	require.Same(t, pool, a.Pool())
	require.Same(t, pool, b.Pool())

	for _, o := range objects {
		require.True(t, a.Insert(o))
	}
	a.Clear()
	pooled := pool.Len()
	allocated := pool.Allocated()
	require.NotZero(t, pooled)

	for _, o := range objects {
		require.True(t, b.Insert(o))
	}
	require.Equal(t, allocated, pool.Allocated())
	require.Zero(t, pool.Len())
	require.Equal(t, len(objects), b.CountElements())
	require.Zero(t, a.CountElements())

	b.Release()
	require.Equal(t, allocated-1, pool.Len())
}

func TestTreeWalk(t *testing.T) {
	tree := newTestTree(t, NewRect(Vector2{}, Vector2{X: 100, Y: 100}), 1)
	require.True(t, tree.Insert(&testObject{Pos: Vector2{X: -10, Y: -10}}))
	require.True(t, tree.Insert(&testObject{Pos: Vector2{X: 10, Y: 10}}))

	t.Run("walk visits nodes in pre-order", func(t *testing.T) {
		var nodes []NodeInfo
		tree.Walk(func(n NodeInfo) bool {
			nodes = append(nodes, n)
			return true
		})

		require.Len(t, nodes, 5)
		require.True(t, nodes[0].Divided)
		require.Equal(t, 0, nodes[0].Depth)
		require.Equal(t, 1, nodes[0].Objects)

		children := nodes[1:]
		require.Equal(t, Vector2{X: -25, Y: 25}, children[NorthWest].Boundary.Center())
		require.Equal(t, Vector2{X: 25, Y: 25}, children[NorthEast].Boundary.Center())
		require.Equal(t, Vector2{X: -25, Y: -25}, children[SouthWest].Boundary.Center())
		require.Equal(t, Vector2{X: 25, Y: -25}, children[SouthEast].Boundary.Center())
		require.Equal(t, 1, children[NorthEast].Objects)
	})

	t.Run("walk stops when asked", func(t *testing.T) {
		var visited int
		tree.Walk(func(n NodeInfo) bool {
			visited++
			return visited < 2
		})
		require.Equal(t, 2, visited)
	})

	t.Run("stats", func(t *testing.T) {
		s := tree.Stats()
		require.Equal(t, 5, s.Nodes)
		require.Equal(t, 1, s.Depth)
		require.Equal(t, 2, s.Elements)
		require.Equal(t, 5, s.AllocatedNodes)
		require.Zero(t, s.PooledNodes)
	})
}

func TestVector2AsElement(t *testing.T) {
	var index SpatialIndex[Vector2]
	tree, err := NewTree[Vector2](NewRect(Vector2{}, Vector2{X: 2, Y: 2}), 2)
	require.NoError(t, err)
	index = tree

	require.True(t, index.Insert(Vector2{X: 0.5, Y: 0.5}))
	require.False(t, index.Insert(Vector2{X: 5, Y: 0.5}))

	found, err := index.QueryRange(Vector2{}, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []Vector2{{X: 0.5, Y: 0.5}}, found)
}
