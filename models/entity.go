package models

import (
	"math"
	"sync"

	"github.com/aukilabs/quadtree/quadtree"
)

// Entity is a movable object of a world. Its position on the x/y plane is what
// the world index is built from; the z coordinate is ignored.
type Entity struct {
	ID    uint32
	Group string

	// The diameter of the entity footprint.
	Size float32

	mutex    sync.RWMutex
	pose     Pose
	velocity Velocity
}

func (e *Entity) SetPose(v Pose) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.pose = v
}

func (e *Entity) Pose() Pose {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.pose
}

func (e *Entity) SetVelocity(v Velocity) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.velocity = v
}

func (e *Entity) Velocity() Velocity {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.velocity
}

// Position implements quadtree.Positioner.
func (e *Entity) Position() quadtree.Vector2 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return quadtree.Vector2{
		X: float64(e.pose.PX),
		Y: float64(e.pose.PY),
	}
}

// move advances the entity by its velocity over dt seconds. Entities that
// cross an edge of bounds bounce back inside.
func (e *Entity) move(dt float32, bounds quadtree.Rect) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	x, vx := bounce(e.pose.PX+e.velocity.VX*dt, e.velocity.VX,
		Clamp32(bounds.Min.X, bounds.Min.X, bounds.Max.X),
		Clamp32(bounds.Max.X, bounds.Min.X, bounds.Max.X))
	y, vy := bounce(e.pose.PY+e.velocity.VY*dt, e.velocity.VY,
		Clamp32(bounds.Min.Y, bounds.Min.Y, bounds.Max.Y),
		Clamp32(bounds.Max.Y, bounds.Min.Y, bounds.Max.Y))

	e.pose.PX, e.velocity.VX = x, vx
	e.pose.PY, e.velocity.VY = y, vy
}

func bounce(p, v, min, max float32) (float32, float32) {
	switch {
	case p < min:
		p, v = 2*min-p, -v
	case p > max:
		p, v = 2*max-p, -v
	}

	// Steps longer than the world itself.
	if p < min {
		p = min
	} else if p > max {
		p = max
	}
	return p, v
}

// Clamp32 converts v to the float32 closest to v that is still within
// [min, max]. Entity poses are float32 while boundaries are float64, so a
// plain conversion can land just outside the boundary.
func Clamp32(v, min, max float64) float32 {
	f := float32(math.Max(min, math.Min(max, v)))
	if float64(f) > max {
		f = math.Nextafter32(f, float32(math.Inf(-1)))
	}
	if float64(f) < min {
		f = math.Nextafter32(f, float32(math.Inf(1)))
	}
	return f
}

func (e *Entity) View() EntityView {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return EntityView{
		ID:    e.ID,
		Group: e.Group,
		X:     e.pose.PX,
		Y:     e.pose.PY,
		Size:  e.Size,
	}
}

// EntityView is the JSON representation of an entity.
type EntityView struct {
	ID    uint32  `json:"id"`
	Group string  `json:"group,omitempty"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Size  float32 `json:"size"`
}

func EntitiesToViews(entities []*Entity) []EntityView {
	views := make([]EntityView, len(entities))
	for i, e := range entities {
		views[i] = e.View()
	}
	return views
}

type Pose struct {
	PX float32
	PY float32
	PZ float32
	RX float32
	RY float32
	RZ float32
	RW float32
}

// Velocity is expressed in units per second.
type Velocity struct {
	VX float32
	VY float32
}
