package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Hilda2312/iot-uts/internal/api"
	"github.com/Hilda2312/iot-uts/internal/config"
	"github.com/Hilda2312/iot-uts/internal/control"
	"github.com/Hilda2312/iot-uts/internal/ingest"
	"github.com/Hilda2312/iot-uts/internal/store"
	"github.com/Hilda2312/iot-uts/internal/summary"
	"github.com/Hilda2312/iot-uts/internal/transport"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	level := parseLevel(cfg.LogLevel)
	// The transport logs to stdout only, so its own connection errors never loop back into the broker.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// 2. Broker connection comes first: the log writer needs it.
	tr, err := dialTransport(cfg, bootLogger)
	if err != nil {
		bootLogger.Error("Fatal broker error", "transport", cfg.Transport, "error", err)
		os.Exit(1)
	}
	defer tr.Close()

	var out io.Writer = os.Stdout
	if cfg.LogTopic != "" {
		logWriter := transport.NewLogWriter(tr, cfg.LogTopic)
		// Closed before the transport (defers run in reverse).
		defer logWriter.Close()
		out = io.MultiWriter(os.Stdout, logWriter)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("Starting iot-bridge", "transport", cfg.Transport, "store", cfg.StoreDriver, "port", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Store. Refuse to start without it.
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Fatal store error", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 4. Optional live cache
	var (
		cache ingest.LastReadingCache
		live  api.LiveReader
	)
	if cfg.ValkeyAddr != "" {
		lc, err := store.OpenLiveCache(ctx, cfg.ValkeyAddr)
		if err != nil {
			logger.Error("Fatal Valkey error", "addr", cfg.ValkeyAddr, "error", err)
			os.Exit(1)
		}
		defer lc.Close()
		cache, live = lc, lc
	}

	// 5. Ingestion: workers must run before the subscription delivers anything.
	pipeline := ingest.New(ingest.Config{
		Topic:        cfg.TelemetryTopic,
		Fields:       cfg.Fields(),
		Workers:      cfg.IngestWorkers,
		QueueSize:    cfg.IngestQueue,
		StoreTimeout: cfg.StoreTimeout,
	}, db, cache, logger)
	pipeline.Start(ctx)

	if err := tr.Subscribe(cfg.TelemetryTopic, pipeline.Submit); err != nil {
		logger.Error("Subscribe failed", "topic", cfg.TelemetryTopic, "error", err)
		os.Exit(1)
	}
	logger.Info("Listening for telemetry", "topic", cfg.TelemetryTopic)

	// 6. HTTP surface
	handler := api.NewAPIHandler(
		summary.NewEngine(db, cfg.StoreTimeout, logger),
		control.NewDispatcher(tr, cfg.ControlTopic, cfg.ControlTimeout, logger),
		live,
		logger,
	)
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 7. Graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	// Stop intake and store whatever the broker already handed us.
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Ingestion drain incomplete", "error", err)
	}
	cancel()
	// Deferred: cache, store and transport close in reverse order.
}

func dialTransport(cfg config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "mqtt":
		return transport.DialMQTT(transport.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			QoS:      byte(cfg.MQTTQoS),
		}, logger)
	case "nats":
		return transport.DialNATS(cfg.NATSURL, cfg.MQTTClientID, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Gateway, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		s, err := store.OpenSQLite(store.SQLiteConfig{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
