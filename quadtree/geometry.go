package quadtree

import (
	"math"
)

// Vector2 is a point or a size in the 2D plane.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the euclidean distance between v and o.
func (v Vector2) Distance(o Vector2) float64 {
	return math.Hypot(o.X-v.X, o.Y-v.Y)
}

func (v Vector2) isFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// Positioner is the only capability required from the elements stored in a
// tree.
type Positioner interface {
	Position() Vector2
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Min Vector2 `json:"min"`
	Max Vector2 `json:"max"`
}

// NewRect returns the rectangle centered at center with the given full size.
func NewRect(center, size Vector2) Rect {
	return Rect{
		Min: Vector2{X: center.X - size.X/2, Y: center.Y - size.Y/2},
		Max: Vector2{X: center.X + size.X/2, Y: center.Y + size.Y/2},
	}
}

func (r Rect) Center() Vector2 {
	return Vector2{
		X: (r.Min.X + r.Max.X) / 2,
		Y: (r.Min.Y + r.Max.Y) / 2,
	}
}

func (r Rect) Size() Vector2 {
	return Vector2{
		X: r.Max.X - r.Min.X,
		Y: r.Max.Y - r.Min.Y,
	}
}

func (r Rect) Area() float64 {
	s := r.Size()
	return s.X * s.Y
}

// IsValid reports whether the rectangle is finite and has a strictly positive
// width and height.
func (r Rect) IsValid() bool {
	if !r.Min.isFinite() || !r.Max.isFinite() {
		return false
	}
	s := r.Size()
	return s.X > 0 && s.Y > 0
}

// Contains reports whether p is inside r, edges included. This is the rule a
// tree root applies.
func (r Rect) Contains(p Vector2) bool {
	return r.contains(p, closedX|closedY)
}

// Intersects reports whether both rectangles overlap or touch.
func (r Rect) Intersects(o Rect) bool {
	return r.Min.X <= o.Max.X && r.Max.X >= o.Min.X &&
		r.Min.Y <= o.Max.Y && r.Max.Y >= o.Min.Y
}

// edges flags the max edges of a node rectangle that are closed. Only the max
// edges of the root are closed; every other edge is half-open so that a point
// lying on a line shared by two siblings belongs to exactly one of them.
type edges uint8

const (
	closedX edges = 1 << iota
	closedY
)

// contains is written with negated comparisons so that NaN coordinates are
// never inside.
func (r Rect) contains(p Vector2, e edges) bool {
	if !(p.X >= r.Min.X) || !(p.Y >= r.Min.Y) {
		return false
	}
	if !(p.X <= r.Max.X) || (p.X == r.Max.X && e&closedX == 0) {
		return false
	}
	if !(p.Y <= r.Max.Y) || (p.Y == r.Max.Y && e&closedY == 0) {
		return false
	}
	return true
}

// Quadrant indexes the four children of a divided node.
type Quadrant int

const (
	NorthWest Quadrant = iota
	NorthEast
	SouthWest
	SouthEast
)

func (q Quadrant) String() string {
	switch q {
	case NorthWest:
		return "nw"
	case NorthEast:
		return "ne"
	case SouthWest:
		return "sw"
	case SouthEast:
		return "se"
	default:
		return "unknown"
	}
}

// quadrants splits r into its NW, NE, SW and SE quarters. The split line is
// computed once and shared by the siblings so the quarters tile r exactly.
// North is +y.
func (r Rect) quadrants(e edges) (rects [4]Rect, childEdges [4]edges) {
	mid := r.Center()

	rects[NorthWest] = Rect{Min: Vector2{r.Min.X, mid.Y}, Max: Vector2{mid.X, r.Max.Y}}
	rects[NorthEast] = Rect{Min: Vector2{mid.X, mid.Y}, Max: Vector2{r.Max.X, r.Max.Y}}
	rects[SouthWest] = Rect{Min: Vector2{r.Min.X, r.Min.Y}, Max: Vector2{mid.X, mid.Y}}
	rects[SouthEast] = Rect{Min: Vector2{mid.X, r.Min.Y}, Max: Vector2{r.Max.X, mid.Y}}

	childEdges[NorthWest] = e & closedY
	childEdges[NorthEast] = e
	childEdges[SouthWest] = 0
	childEdges[SouthEast] = e & closedX
	return rects, childEdges
}
