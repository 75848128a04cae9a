package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proofofwork/config"
	"proofofwork/core"
	"proofofwork/core/events"
	"proofofwork/core/genesis"
	"proofofwork/explorer"
	"proofofwork/gateway/middleware"
	"proofofwork/native/escrow"
	"proofofwork/observability/logging"
	telemetry "proofofwork/observability/otel"
	"proofofwork/rpc"
	"proofofwork/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions("escrowd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("escrowd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Network:     cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetryHeaders(cfg),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	nodeCfg, err := nodeConfigFrom(cfg)
	if err != nil {
		_ = db.Close()
		return err
	}
	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()
	node.SetLogger(logger)

	indexDB, err := explorer.Open(cfg.Indexer.Driver, cfg.IndexerDSN())
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	indexer, err := explorer.NewIndexer(indexDB)
	if err != nil {
		return err
	}
	indexer.SetLogger(logger)
	existing, err := node.EscrowAll()
	if err != nil {
		return fmt.Errorf("load escrows: %w", err)
	}
	if err := indexer.Sync(ctx, existing); err != nil {
		return fmt.Errorf("sync indexer: %w", err)
	}

	broadcaster := events.NewBroadcaster(indexer)
	node.SetEventSink(broadcaster)

	server := rpc.NewServer(node, serverConfigFrom(cfg))
	server.SetLogger(logger)
	server.SetLister(indexer)
	server.SetEventSource(broadcaster)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			slog.String("address", listener.Addr().String()),
			slog.String("metric", node.MetricName()),
			slog.Int("escrows", len(existing)))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("escrowd stopped")
	return nil
}

func nodeConfigFrom(cfg *config.Config) (core.NodeConfig, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return core.NodeConfig{}, fmt.Errorf("owner: %w", err)
	}
	metric, err := escrow.ParseMetric(cfg.Geofence.Metric, cfg.Geofence.CoordinateScale)
	if err != nil {
		return core.NodeConfig{}, err
	}
	allocs, err := genesis.ParseAllocations(cfg.Genesis)
	if err != nil {
		return core.NodeConfig{}, err
	}
	return core.NodeConfig{Owner: owner, Metric: metric, Genesis: allocs}, nil
}

// telemetryHeaders merges OTEL_EXPORTER_OTLP_HEADERS over the configured
// exporter headers.
func telemetryHeaders(cfg *config.Config) map[string]string {
	headers := make(map[string]string, len(cfg.Telemetry.Headers))
	for k, v := range cfg.Telemetry.Headers {
		headers[k] = v
	}
	for k, v := range telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")) {
		headers[k] = v
	}
	return headers
}

func serverConfigFrom(cfg *config.Config) rpc.ServerConfig {
	return rpc.ServerConfig{
		ServiceName: "escrowd",
		Auth: middleware.AuthConfig{
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			AllowAnonymous: cfg.Auth.AllowAnonymousReads,
			ClockSkew:      time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		CORS:        middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		LogRequests: cfg.Log.LogRequests,
	}
}
