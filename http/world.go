package http

import (
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/models"
	"github.com/aukilabs/quadtree/quadtree"
)

// NearbyResponse is the body returned by HandleNearby.
type NearbyResponse struct {
	WorldUUID string              `json:"world_uuid"`
	Frame     uint64              `json:"frame"`
	Center    quadtree.Vector2    `json:"center"`
	Radius    float64             `json:"radius"`
	Count     int                 `json:"count"`
	Entities  []models.EntityView `json:"entities"`
}

// HandleNearby answers GET /nearby?x=&y=&radius= with the entities the world
// index finds within radius of (x, y).
func HandleNearby(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()

		x, err := parseFloat(q.Get("x"), "x")
		if err != nil {
			writeError(w, err)
			return
		}

		y, err := parseFloat(q.Get("y"), "y")
		if err != nil {
			writeError(w, err)
			return
		}

		radius, err := parseFloat(q.Get("radius"), "radius")
		if err != nil {
			writeError(w, err)
			return
		}

		center := quadtree.Vector2{X: x, Y: y}
		entities, err := world.Nearby(center, radius)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, NearbyResponse{
			WorldUUID: world.UUID,
			Frame:     world.Frame(),
			Center:    center,
			Radius:    radius,
			Count:     len(entities),
			Entities:  models.EntitiesToViews(entities),
		})
	}
}

// HandleTree answers GET /tree with a snapshot of the world index. Entities
// are included with ?entities=true.
func HandleTree(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		withEntities, _ := strconv.ParseBool(r.URL.Query().Get("entities"))
		writeJSON(w, http.StatusOK, world.Snapshot(withEntities))
	}
}

func parseFloat(s, name string) (float64, error) {
	if s == "" {
		return 0, errors.New("missing query parameter").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("parameter", name)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("invalid query parameter").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("parameter", name).
			Wrap(err)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.IsType(err, quadtree.ErrTypeInvalidArgument) {
		status = http.StatusBadRequest
	} else {
		logs.Warn(errors.New("handling world request failed").Wrap(err))
	}

	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}
