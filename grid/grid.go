// Package grid implements a spatial index made of uniform square cells.
//
// A grid is cheaper to rebuild than a quadtree since cells are never split,
// but dense clusters end up in a few crowded cells that range queries have to
// scan entirely.
package grid

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/quadtree"
)

// MaxCells is the maximum number of cells a grid can have.
const MaxCells = 1 << 22

// Grid is a regular grid spatial index. Each cell holds a resolution x
// resolution subdivision of the boundary. The last row and column may be
// cut by the boundary.
//
// A grid is not safe for concurrent use.
type Grid[T quadtree.Positioner] struct {
	boundary   quadtree.Rect
	resolution float64
	cols       int
	rows       int
	cells      [][]T
}

var _ quadtree.SpatialIndex[quadtree.Vector2] = (*Grid[quadtree.Vector2])(nil)

func New[T quadtree.Positioner](boundary quadtree.Rect, resolution float64) (*Grid[T], error) {
	if !boundary.IsValid() {
		return nil, errors.New("boundary must be finite and have a positive area").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("boundary", boundary)
	}

	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, errors.New("resolution must be a positive number").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("resolution", resolution)
	}

	size := boundary.Size()
	cols := math.Max(1, math.Ceil(size.X/resolution))
	rows := math.Max(1, math.Ceil(size.Y/resolution))
	if cols*rows > MaxCells {
		return nil, errors.New("resolution is too small for the boundary").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("resolution", resolution).
			WithTag("cells", cols*rows)
	}

	return &Grid[T]{
		boundary:   boundary,
		resolution: resolution,
		cols:       int(cols),
		rows:       int(rows),
		cells:      make([][]T, int(cols)*int(rows)),
	}, nil
}

func (g *Grid[T]) Boundary() quadtree.Rect {
	return g.boundary
}

func (g *Grid[T]) Resolution() float64 {
	return g.resolution
}

// coords returns the column and row of the cell that contains p. Positions
// on the max edges of the boundary go to the last column or row.
func (g *Grid[T]) coords(p quadtree.Vector2) (int, int) {
	col := math.Floor((p.X - g.boundary.Min.X) / g.resolution)
	row := math.Floor((p.Y - g.boundary.Min.Y) / g.resolution)
	return clamp(col, g.cols-1), clamp(row, g.rows-1)
}

func (g *Grid[T]) cellRect(col, row int) quadtree.Rect {
	min := quadtree.Vector2{
		X: g.boundary.Min.X + float64(col)*g.resolution,
		Y: g.boundary.Min.Y + float64(row)*g.resolution,
	}
	return quadtree.Rect{
		Min: min,
		Max: quadtree.Vector2{
			X: math.Min(min.X+g.resolution, g.boundary.Max.X),
			Y: math.Min(min.Y+g.resolution, g.boundary.Max.Y),
		},
	}
}

// Insert adds obj to the cell that contains its position. It returns false
// when the position is outside the boundary.
func (g *Grid[T]) Insert(obj T) bool {
	p := obj.Position()
	if !g.boundary.Contains(p) {
		return false
	}

	col, row := g.coords(p)
	i := row*g.cols + col
	g.cells[i] = append(g.cells[i], obj)
	return true
}

// QueryRange returns the objects that are within radius of center. Every
// object of the scanned cells is checked, so maxObjectSize is only
// validated.
func (g *Grid[T]) QueryRange(center quadtree.Vector2, radius, maxObjectSize float64) ([]T, error) {
	return g.AppendRange(nil, center, radius, maxObjectSize)
}

// AppendRange is like QueryRange but appends the found objects to dst.
func (g *Grid[T]) AppendRange(dst []T, center quadtree.Vector2, radius, maxObjectSize float64) ([]T, error) {
	if err := quadtree.ValidateRange(center, radius, maxObjectSize); err != nil {
		return dst, err
	}

	box := quadtree.NewRect(center, quadtree.Vector2{X: radius * 2, Y: radius * 2})
	if !g.boundary.Intersects(box) {
		return dst, nil
	}

	minCol, minRow := g.coords(box.Min)
	maxCol, maxRow := g.coords(box.Max)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			for _, obj := range g.cells[row*g.cols+col] {
				if obj.Position().Distance(center) <= radius {
					dst = append(dst, obj)
				}
			}
		}
	}
	return dst, nil
}

func (g *Grid[T]) CountElements() int {
	count := 0
	for _, c := range g.cells {
		count += len(c)
	}
	return count
}

// Clear removes every object. Cells keep their capacity for the next fill.
func (g *Grid[T]) Clear() {
	for i, c := range g.cells {
		clear(c)
		g.cells[i] = c[:0]
	}
}

// Walk reports the boundary as a divided root node, followed by every cell
// as a depth 1 node, row by row from the south west corner.
func (g *Grid[T]) Walk(fn func(quadtree.NodeInfo) bool) {
	if !fn(quadtree.NodeInfo{
		Boundary: g.boundary,
		Divided:  true,
	}) {
		return
	}

	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			if !fn(quadtree.NodeInfo{
				Boundary: g.cellRect(col, row),
				Depth:    1,
				Objects:  len(g.cells[row*g.cols+col]),
			}) {
				return
			}
		}
	}
}

func (g *Grid[T]) Stats() quadtree.Stats {
	return quadtree.Stats{
		Nodes:          len(g.cells) + 1,
		Depth:          1,
		Elements:       g.CountElements(),
		AllocatedNodes: len(g.cells) + 1,
	}
}

// clamp converts v to an index in [0, max]. Infinite values are allowed and
// NaN maps to 0.
func clamp(v float64, max int) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(v, float64(max))))
}
