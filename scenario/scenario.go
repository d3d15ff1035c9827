// Package scenario describes a world and the entities it starts with, in YAML.
package scenario

import (
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/models"
	"github.com/aukilabs/quadtree/quadtree"
	"gopkg.in/yaml.v3"
)

// ErrTypeInvalidScenario is the type of the errors returned by Validate.
const ErrTypeInvalidScenario = "scenario_invalid"

type Scenario struct {
	Bounds Bounds `yaml:"bounds"`

	// quadtree (default) or grid.
	Index          models.IndexKind `yaml:"index"`
	GridResolution float64          `yaml:"grid_resolution"`

	Capacity      int     `yaml:"capacity"`
	MaxDepth      int     `yaml:"max_depth"`
	MaxObjectSize float64 `yaml:"max_object_size"`
	Groups        []Group `yaml:"groups"`
}

// Bounds is the world boundary, given by its center and full size.
type Bounds struct {
	Center quadtree.Vector2 `yaml:"center"`
	Size   quadtree.Vector2 `yaml:"size"`
}

func (b Bounds) Rect() quadtree.Rect {
	return quadtree.NewRect(b.Center, b.Size)
}

// Group is a set of entities spawned around the same point.
type Group struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`

	// Entities are spread uniformly in the square of half size Spread around
	// Center, clamped to the world bounds.
	Center quadtree.Vector2 `yaml:"center"`
	Spread float64          `yaml:"spread"`

	Size float32 `yaml:"size"`

	// Entities move in a random direction at Speed units per second.
	Speed float32 `yaml:"speed"`
}

// Default returns the scenario used when no file is given: a 1024x1024 world
// with a uniform crowd and a dense cluster.
func Default() Scenario {
	return Scenario{
		Bounds: Bounds{
			Size: quadtree.Vector2{X: 1024, Y: 1024},
		},
		Capacity:      8,
		MaxDepth:      quadtree.DefaultMaxDepth,
		MaxObjectSize: 1,
		Groups: []Group{
			{
				Name:   "crowd",
				Count:  2000,
				Spread: 512,
				Size:   1,
				Speed:  4,
			},
			{
				Name:   "cluster",
				Count:  500,
				Center: quadtree.Vector2{X: 200, Y: -150},
				Spread: 16,
				Size:   0.5,
				Speed:  1,
			},
		},
	}
}

// Load decodes a scenario from YAML and validates it.
func Load(r io.Reader) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&s); err != nil {
		return Scenario{}, errors.New("decoding scenario failed").Wrap(err)
	}

	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func LoadFile(filename string) (Scenario, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Scenario{}, errors.New("opening scenario file failed").
			WithTag("filename", filename).
			Wrap(err)
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return Scenario{}, errors.New("loading scenario file failed").
			WithTag("filename", filename).
			Wrap(err)
	}
	return s, nil
}

func (s Scenario) Validate() error {
	if !s.Bounds.Rect().IsValid() {
		return errors.New("bounds must be finite and have a positive size").
			WithType(ErrTypeInvalidScenario).
			WithTag("bounds", s.Bounds)
	}

	switch s.Index {
	case "", models.IndexQuadtree:
		if s.Capacity <= 0 {
			return errors.New("capacity must be positive").
				WithType(ErrTypeInvalidScenario).
				WithTag("capacity", s.Capacity)
		}

	case models.IndexGrid:
		if !(s.GridResolution > 0) || math.IsInf(s.GridResolution, 0) {
			return errors.New("grid resolution must be a positive number").
				WithType(ErrTypeInvalidScenario).
				WithTag("grid_resolution", s.GridResolution)
		}

	default:
		return errors.New("unknown index").
			WithType(ErrTypeInvalidScenario).
			WithTag("index", s.Index)
	}

	if s.Capacity < 0 {
		return errors.New("capacity must not be negative").
			WithType(ErrTypeInvalidScenario).
			WithTag("capacity", s.Capacity)
	}

	if s.MaxDepth < 0 {
		return errors.New("max depth must not be negative").
			WithType(ErrTypeInvalidScenario).
			WithTag("max_depth", s.MaxDepth)
	}

	if s.MaxObjectSize < 0 || math.IsNaN(s.MaxObjectSize) {
		return errors.New("max object size must be a non-negative number").
			WithType(ErrTypeInvalidScenario).
			WithTag("max_object_size", s.MaxObjectSize)
	}

	names := make(map[string]struct{}, len(s.Groups))
	for _, g := range s.Groups {
		if _, ok := names[g.Name]; ok {
			return errors.New("group names must be unique").
				WithType(ErrTypeInvalidScenario).
				WithTag("group", g.Name)
		}
		names[g.Name] = struct{}{}

		if g.Count < 0 || g.Spread < 0 || g.Size < 0 || g.Speed < 0 {
			return errors.New("group count, spread, size and speed must not be negative").
				WithType(ErrTypeInvalidScenario).
				WithTag("group", g.Name)
		}

		if float64(g.Size) > s.MaxObjectSize {
			return errors.New("group size exceeds the max object size").
				WithType(ErrTypeInvalidScenario).
				WithTag("group", g.Name).
				WithTag("size", g.Size).
				WithTag("max_object_size", s.MaxObjectSize)
		}
	}
	return nil
}

// EntityCount returns the number of entities Populate spawns.
func (s Scenario) EntityCount() int {
	count := 0
	for _, g := range s.Groups {
		count += g.Count
	}
	return count
}

// WorldConfig returns the part of a world configuration the scenario
// describes.
func (s Scenario) WorldConfig() models.WorldConfig {
	return models.WorldConfig{
		Boundary:       s.Bounds.Rect(),
		Index:          s.Index,
		GridResolution: s.GridResolution,
		Capacity:       s.Capacity,
		MaxDepth:       s.MaxDepth,
		MaxObjectSize:  s.MaxObjectSize,
	}
}

// Populate spawns the scenario groups in w. The same rng seed always produces
// the same entities.
func (s Scenario) Populate(w *models.World, rng *rand.Rand) (int, error) {
	bounds := w.Boundary()
	spawned := 0

	for _, g := range s.Groups {
		for i := 0; i < g.Count; i++ {
			x := g.Center.X + (rng.Float64()*2-1)*g.Spread
			y := g.Center.Y + (rng.Float64()*2-1)*g.Spread
			angle := rng.Float64() * 2 * math.Pi

			e := &models.Entity{
				Group: g.Name,
				Size:  g.Size,
			}
			e.SetPose(models.Pose{
				PX: models.Clamp32(x, bounds.Min.X, bounds.Max.X),
				PY: models.Clamp32(y, bounds.Min.Y, bounds.Max.Y),
				RW: 1,
			})
			e.SetVelocity(models.Velocity{
				VX: g.Speed * float32(math.Cos(angle)),
				VY: g.Speed * float32(math.Sin(angle)),
			})

			if _, err := w.Spawn(e); err != nil {
				return spawned, errors.New("spawning scenario entity failed").
					WithTag("group", g.Name).
					Wrap(err)
			}
			spawned++
		}
	}
	return spawned, nil
}
