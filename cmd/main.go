package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/quadtree/featureflag"
	qthttp "github.com/aukilabs/quadtree/http"
	"github.com/aukilabs/quadtree/models"
	"github.com/aukilabs/quadtree/scenario"
	"github.com/aukilabs/quadtree/smoketest"
	qtwebsocket "github.com/aukilabs/quadtree/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	// The version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quadtree_info",
		Help:        "Quadtree server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr          string        `cli:""        env:"QUADTREE_ADDR"           help:"Listening address for the query and debug endpoints."`
	AdminAddr     string        `cli:""        env:"QUADTREE_ADMIN_ADDR"     help:"Admin listening address."`
	Scenario      string        `cli:""        env:"QUADTREE_SCENARIO"       help:"The YAML file that describes the world. The built-in scenario is used when empty."`
	Seed          uint64        `cli:""        env:"QUADTREE_SEED"           help:"The seed used to spawn the scenario entities. 0 picks a random one."`
	LogLevel      string        `cli:""        env:"QUADTREE_LOG_LEVEL"      help:"Log level (debug|info|warning|error)."`
	LogIndent     bool          `cli:""        env:"QUADTREE_LOG_INDENT"     help:"Indent logs."`
	FrameDuration time.Duration `cli:",hidden" env:"QUADTREE_FRAME_DURATION" help:"The duration of a world frame."`
	Stream        streamConfig  `cli:",hidden" env:"-"                       help:"Debug stream configuration."`
	SmokeTest     smokeConfig   `cli:",hidden" env:"-"                       help:"Smoke test configuration."`
	Events        eventsConfig  `cli:",hidden" env:"-"                       help:"Event pusher configuration."`
	FeatureFlags  []string      `cli:",hidden" env:"QUADTREE_FEATURE_FLAGS"  help:"Comma separated feature flags"`
	Version       bool          `cli:""        env:"-"                       help:"Show version."`
	Help          bool          `cli:""        env:"-"                       help:"Show help."`
}

type streamConfig struct {
	Every              int           `cli:",hidden" env:"QUADTREE_STREAM_EVERY"                help:"The number of frames between two debug stream snapshots."`
	IdleTimeout        time.Duration `cli:",hidden" env:"QUADTREE_STREAM_IDLE_TIMEOUT"         help:"Time until a silent debug stream client is disconnected. 0 disables it."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"QUADTREE_STREAM_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
}

type smokeConfig struct {
	Queries   int           `cli:",hidden" env:"QUADTREE_SMOKE_TEST_QUERIES"    help:"The default number of queries run by a smoke test."`
	MaxRadius float64       `cli:",hidden" env:"QUADTREE_SMOKE_TEST_MAX_RADIUS" help:"The default upper bound of smoke test query radiuses."`
	Timeout   time.Duration `cli:",hidden" env:"QUADTREE_SMOKE_TEST_TIMEOUT"    help:"The maximum duration of a smoke test."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUADTREE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Events are disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"QUADTREE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUADTREE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUADTREE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:          ":4000",
		AdminAddr:     ":18190",
		LogLevel:      logs.InfoLevel.String(),
		FrameDuration: time.Millisecond * 50,
		Stream: streamConfig{
			Every:              1,
			IdleTimeout:        0,
			LogSummaryInterval: time.Minute,
		},
		SmokeTest: smokeConfig{
			Queries:   1000,
			MaxRadius: 64,
			Timeout:   time.Second * 30,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a server that indexes a moving world in a quadtree.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quadtree",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	s, err := loadScenario(conf.Scenario)
	if err != nil {
		logs.Fatal(err)
	}

	flags := featureflag.New(conf.FeatureFlags)

	worldConfig := s.WorldConfig()
	worldConfig.FrameDuration = conf.FrameDuration
	worldConfig.FeatureFlags = flags

	world, err := models.NewWorld(worldConfig)
	if err != nil {
		logs.Fatal(errors.New("creating world failed").Wrap(err))
	}

	seed := conf.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	spawned, err := s.Populate(world, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		logs.Fatal(errors.New("populating world failed").Wrap(err))
	}

	if _, err := world.Rebuild(); err != nil {
		logs.Fatal(errors.New("building world index failed").Wrap(err))
	}

	var service http.ServeMux
	service.Handle("/nearby", qthttp.HandleWithCORS(qthttp.HandleNearby(world)))
	service.Handle("/tree", qthttp.HandleWithCORS(qthttp.HandleTree(world)))
	service.Handle("/health", qthttp.HandleWithCORS(http.HandlerFunc(qthttp.HandleHealthCheck)))
	service.Handle("/version", qthttp.HandleWithCORS(qthttp.HandleVersion(version)))

	readinessCheck := func() bool {
		return world.Frame() != 0
	}
	service.Handle("/ready", qthttp.HandleWithCORS(qthttp.HandleReadyCheck(readinessCheck)))

	flags.IfNotSet(featureflag.FlagDisableDebugStream, func() {
		service.Handle("/stream", qthttp.HandleWithCORS(websocket.Server{
			// Debug clients are often scripts that send no Origin header.
			Handshake: func(*websocket.Config, *http.Request) error {
				return nil
			},
			Handler: qtwebsocket.HandleDebugStream(ctx, world, qtwebsocket.StreamOptions{
				Every:              conf.Stream.Every,
				Format:             qtwebsocket.FormatJSON,
				IdleTimeout:        conf.Stream.IdleTimeout,
				LogSummaryInterval: conf.Stream.LogSummaryInterval,
			}),
		}))
	})

	flags.IfNotSet(featureflag.FlagDisableSmokeTest, func() {
		service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(world, smoketest.Options{
			Queries:   conf.SmokeTest.Queries,
			MaxRadius: conf.SmokeTest.MaxRadius,
			Timeout:   conf.SmokeTest.Timeout,
		}))
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", qthttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", qthttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("world_uuid", world.UUID).
		WithTag("boundary", world.Boundary()).
		WithTag("index", world.Config().Index).
		WithTag("entities", spawned).
		WithTag("seed", seed).
		WithTag("feature_flags", flags.List()).
		Info("starting quadtree server")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return world.StartDispatchFrames(ctx)
	})

	g.Go(func() error {
		return qthttp.ListenAndServe(ctx,
			&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
				qthttp.MetricsPathFormatter)},
			&http.Server{Addr: conf.AdminAddr, Handler: &admin},
		)
	})

	if err := g.Wait(); err != nil {
		logs.Fatal(err)
	}
}

func loadScenario(filename string) (scenario.Scenario, error) {
	if filename == "" {
		return scenario.Default(), nil
	}
	return scenario.LoadFile(filename)
}
