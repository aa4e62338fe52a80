package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/tilegraph/internal/core/config"
	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/logger"
	"github.com/mohammed-shakir/tilegraph/internal/operators"
	"github.com/mohammed-shakir/tilegraph/internal/rasterstore"
)

var Version = "dev"

const usage = `usage: tilegraph <command> [flags]

commands:
  run        compute a region of a graph node and print run statistics
  serve      serve the tiles of a graph over HTTP
  operators  list the registered operator types and their parameters
  ingest     write a synthetic raster into the Redis raster store
  watch      log run events from Kafka
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"run":       cmdRun,
	"serve":     cmdServe,
	"operators": cmdOperators,
	"ingest":    cmdIngest,
	"watch":     cmdWatch,
}

// env is what every command shares: configuration, logging and streams.
type env struct {
	cfg    config.Config
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogCons,
		SampleN:   cfg.LogSampN,
		Component: "tilegraph",
	}, stderr)
	appLog := logger.NewSlog(&zl).With("version", Version, "command", args[0])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, log: appLog, stdout: stdout, stderr: stderr}
	if err := cmd(ctx, e, args[1:]); err != nil {
		appLog.Error("command failed", "err", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg config.Config) (*rasterstore.Store, error) {
	return rasterstore.New(ctx, cfg.RedisAddr,
		rasterstore.WithReadTimeout(cfg.RedisOpTimeout),
		rasterstore.WithWriteTimeout(cfg.RedisOpTimeout),
	)
}

// connectStore makes the Redis raster store the source of redis_reader
// nodes. Graphs without such nodes never dial Redis.
func connectStore(ctx context.Context, e *env, g *graph.Graph) (func(), error) {
	needed := false
	for _, n := range g.Nodes {
		needed = needed || n.Operator == "redis_reader"
	}
	if !needed {
		return func() {}, nil
	}
	store, err := openStore(ctx, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("raster store %s: %w", e.cfg.RedisAddr, err)
	}
	operators.UseRasterSource(store)
	return func() {
		operators.UseRasterSource(nil)
		_ = store.Close()
	}, nil
}
