package smoketest

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/models"
	"github.com/aukilabs/quadtree/quadtree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/encoding/json"
)

const (
	// ErrTypeInvalidRequest is the type of the error returned when a smoke
	// test request cannot be decoded or is out of the allowed limits.
	ErrTypeInvalidRequest = "smoke_test_invalid_request"

	maxQueries = 100000

	maxRequestSize = 4096
)

var (
	smokeTestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smoke_test_runs",
		Help: "The number of smoke tests run, by outcome.",
	}, []string{
		"passed",
	})

	smokeTestMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smoke_test_missing_entities",
		Help: "The number of in-range entities a smoke test query did not return.",
	})
)

type Options struct {
	// The number of queries run when a request does not specify it.
	Queries int

	// The upper bound of the random query radius when a request does not
	// specify it.
	MaxRadius float64

	// The maximum duration of a run.
	Timeout time.Duration
}

// Request is the optional body of a smoke test request.
type Request struct {
	Queries   int     `json:"queries,omitempty"`
	MaxRadius float64 `json:"max_radius,omitempty"`
	Seed      uint64  `json:"seed,omitempty"`
}

// Results is the outcome of a smoke test. Missing entities are entities in
// range that the world index did not return, which is a bug. Extra entities
// are returned by whole node acceptance and are expected.
type Results struct {
	WorldUUID  string        `json:"world_uuid"`
	Frame      uint64        `json:"frame"`
	Seed       uint64        `json:"seed"`
	Queries    int           `json:"queries"`
	Mismatches int           `json:"mismatches"`
	Missing    int           `json:"missing"`
	Extra      int           `json:"extra"`
	Duration   time.Duration `json:"duration"`
	Passed     bool          `json:"passed"`
}

// Run compares random range queries on the world index with a scan of every
// entity.
func Run(ctx context.Context, world *models.World, req Request) (Results, error) {
	if req.Queries <= 0 || req.Queries > maxQueries {
		return Results{}, errors.New("queries out of range").
			WithType(ErrTypeInvalidRequest).
			WithTag("queries", req.Queries)
	}

	if !(req.MaxRadius > 0) {
		return Results{}, errors.New("max radius must be positive").
			WithType(ErrTypeInvalidRequest).
			WithTag("max_radius", req.MaxRadius)
	}

	start := time.Now()
	rng := rand.New(rand.NewPCG(req.Seed, req.Seed))
	bounds := world.Boundary()
	size := bounds.Size()

	res := Results{
		WorldUUID: world.UUID,
		Frame:     world.Frame(),
		Seed:      req.Seed,
	}

	for i := 0; i < req.Queries; i++ {
		if err := ctx.Err(); err != nil {
			return res, errors.New("smoke test interrupted").
				WithTag("queries", res.Queries).
				Wrap(err)
		}

		center := quadtree.Vector2{
			X: bounds.Min.X + rng.Float64()*size.X,
			Y: bounds.Min.Y + rng.Float64()*size.Y,
		}
		radius := rng.Float64() * req.MaxRadius

		cmp, err := world.CompareQuery(center, radius)
		if err != nil {
			return res, err
		}

		res.Queries++
		missing := len(cmp.Missing())
		if missing != 0 {
			res.Mismatches++
			res.Missing += missing
		}
		res.Extra += len(cmp.Extra())
	}

	res.Duration = time.Since(start)
	res.Passed = res.Missing == 0
	return res, nil
}

// HandleSmokeTest runs a smoke test on the world and responds with its
// results.
func HandleSmokeTest(world *models.World, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		req, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxRequestSize), opts)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: err.Error(),
				Type:  errors.Type(err),
			})
			return
		}

		ctx := r.Context()
		if opts.Timeout > 0 {
			var cancel func()
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		res, err := Run(ctx, world, req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.IsType(err, ErrTypeInvalidRequest) {
				status = http.StatusBadRequest
			}

			logs.WithTag("world_uuid", world.UUID).
				Warn(errors.New("running smoke test failed").Wrap(err))
			writeJSON(w, status, errorResponse{
				Error: err.Error(),
				Type:  errors.Type(err),
			})
			return
		}

		instrumentResults(res)

		entry := logs.WithTag("world_uuid", res.WorldUUID).
			WithTag("frame", res.Frame).
			WithTag("seed", res.Seed).
			WithTag("queries", res.Queries).
			WithTag("missing", res.Missing).
			WithTag("extra", res.Extra).
			WithTag("duration", res.Duration)
		if res.Passed {
			entry.Info("smoke test passed")
		} else {
			entry.Warn("smoke test found entities missing from range queries")
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func decodeRequest(body io.Reader, opts Options) (Request, error) {
	req := Request{
		Queries:   opts.Queries,
		MaxRadius: opts.MaxRadius,
	}

	b, err := io.ReadAll(body)
	if err != nil {
		return req, errors.New("reading smoke test request failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err)
	}

	if len(b) != 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			return req, errors.New("decoding smoke test request failed").
				WithType(ErrTypeInvalidRequest).
				Wrap(err)
		}
	}

	if req.Seed == 0 {
		req.Seed = rand.Uint64()
	}
	return req, nil
}

func instrumentResults(res Results) {
	passed := "false"
	if res.Passed {
		passed = "true"
	}

	smokeTestRuns.
		With(prometheus.Labels{
			"passed": passed,
		}).
		Inc()
	smokeTestMissing.Add(float64(res.Missing))
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding smoke test response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
