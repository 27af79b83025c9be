package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/meshgraph/pkg/api"
	"github.com/rmax-ai/meshgraph/pkg/blob"
	"github.com/rmax-ai/meshgraph/pkg/engine"
	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/store"
	"github.com/rmax-ai/meshgraph/pkg/store/neo4j"
	"github.com/rmax-ai/meshgraph/pkg/store/postgres"
	"github.com/rmax-ai/meshgraph/pkg/store/redis"
)

var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "meshgraph-d: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, _ := parseLogLevel(level)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg Config, logger *slog.Logger) error {
	logger.Info("system_started", "component", "meshgraph-d", "version", Version, "commit", Commit, "build_time", BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		exporter, err := newGrpcExporter(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		shutdown, err := setupOTelSDK(ctx, "meshgraph-d", Version, exporter)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err)
			}
		}()
		logger.Info("tracing_enabled", "endpoint", cfg.OTLPEndpoint)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed_to_close_store", "error", err)
		}
	}()
	logger.Info("store_initialized", "path", cfg.DBPath)

	g := graph.NewMeshGraph(graph.WithNodeTimeout(cfg.NodeTimeout), graph.WithLogger(logger))
	proj := engine.NewProjection(g, logger)

	if err := restore(ctx, st, proj, logger); err != nil {
		return err
	}

	closers, err := attachSinks(ctx, cfg, proj, logger)
	for _, c := range closers {
		defer c()
	}
	if err != nil {
		return err
	}
	proj.Sync(ctx)

	snapshots := engine.NewSnapshotWorker(st, proj, cfg.SnapshotInterval, logger)
	go snapshots.Run(ctx)
	go engine.NewSweepWorker(proj, cfg.SweepInterval, logger).Run(ctx)
	pruner := engine.NewPruneWorker(st, engine.RetentionConfig{
		Enabled: cfg.Retention > 0,
		TTL:     cfg.Retention,
	}, logger)
	if cfg.ArchiveDir != "" {
		pruner.SetArchiver(engine.NewArchiver(st, blob.NewLocalBlobStore(cfg.ArchiveDir), 0, logger))
		logger.Info("archive_enabled", "dir", cfg.ArchiveDir)
	}
	go pruner.Run(ctx)

	srv := api.NewServer(st, proj, cfg.Addr, logger)
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}

	// Final checkpoint so the next start replays as little as possible.
	if err := snapshots.TakeSnapshot(shutdownCtx); err != nil {
		logger.Warn("final_snapshot_skipped", "error", err)
	}

	logger.Info("shutdown_complete")
	return nil
}

// restore loads the latest snapshot and replays every packet ingested after it.
func restore(ctx context.Context, st *store.Store, proj *engine.Projection, logger *slog.Logger) error {
	checkpoint, err := engine.LoadLatestSnapshot(ctx, st, proj)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	packets, err := st.ReadPackets(ctx, checkpoint, 0)
	if err != nil {
		return fmt.Errorf("failed to read packet log: %w", err)
	}
	applied := proj.Replay(ctx, packets)

	snap := proj.GetGraph()
	logger.Info("graph_restored",
		"checkpoint", checkpoint,
		"replayed", applied,
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
	)
	return nil
}

// attachSinks connects every configured mirror. The returned closers must be
// run even when an error is returned.
func attachSinks(ctx context.Context, cfg Config, proj *engine.Projection, logger *slog.Logger) ([]func(), error) {
	var closers []func()

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return closers, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		proj.AddSink(redis.NewNodeMirror(client))
		logger.Info("sink_attached", "sink", "redis", "addr", cfg.RedisAddr)
	}

	if cfg.PostgresDSN != "" {
		db, err := postgres.Connect(cfg.PostgresDSN, cfg.OTLPEndpoint != "")
		if err != nil {
			return closers, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		pg, err := postgres.New(ctx, db)
		if err != nil {
			db.Close()
			return closers, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		closers = append(closers, func() { pg.Close() })
		proj.AddSink(pg)
		logger.Info("sink_attached", "sink", "postgres")
	}

	if cfg.Neo4jURI != "" {
		driver, err := neo4j.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return closers, err
		}
		closers = append(closers, func() { driver.Close(context.Background()) })
		ng := neo4j.NewGraph(driver, "")
		if err := ng.EnsureSchema(ctx); err != nil {
			return closers, fmt.Errorf("failed to prepare neo4j schema: %w", err)
		}
		proj.AddSink(ng)
		logger.Info("sink_attached", "sink", "neo4j", "uri", cfg.Neo4jURI)
	}

	return closers, nil
}
