// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/rebus-chat/rebus/pkg/logging"
	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/engine"
	"github.com/rebus-chat/rebus/services/cipher/index"
	"github.com/rebus-chat/rebus/services/cipher/keyalloc"
	"github.com/rebus-chat/rebus/services/gateway/handlers"
	"github.com/rebus-chat/rebus/services/gateway/history"
	"github.com/rebus-chat/rebus/services/gateway/middleware"
	"github.com/rebus-chat/rebus/services/gateway/observability"
	"github.com/rebus-chat/rebus/services/gateway/presence"
	"github.com/rebus-chat/rebus/services/gateway/routes"
	storagebadger "github.com/rebus-chat/rebus/services/gateway/storage/badger"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// initTracer wires the OTLP exporter when a collector endpoint is
// configured. Without one the gateway runs with the default no-op
// tracer; handler spans cost nothing.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set. Running without trace export.")
		return nil, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("rebus-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := envOr("REBUS_PORT", "5001")
	corpusDir := envOr("REBUS_CORPUS_DIR", "./RawImg")
	dataDir := envOr("REBUS_DATA_DIR", "./data")

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("REBUS_LOG_LEVEL")),
		LogDir:  os.Getenv("REBUS_LOG_DIR"),
		Service: "gateway",
		JSON:    true,
	})
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	if cleanup != nil {
		defer cleanup(context.Background())
	}

	observability.InitMetrics()

	uploadDir := filepath.Join(dataDir, "uploads")
	keysDir := filepath.Join(dataDir, "keys")
	for _, dir := range []string{uploadDir, keysDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data directory %s: %v", dir, err)
		}
	}

	// --- Cipher stack ---
	lib := corpus.NewLibrary(corpusDir)
	store := index.NewStore(keysDir)
	ix := index.New(lib, store, nil)
	eng := engine.New(ix, nil)

	tracker := presence.NewTracker()
	alloc := keyalloc.New(store, tracker, nil)
	feed := handlers.NewFeed()

	// Key mappings are snapshots of the corpus at build time; a corpus
	// that changes under a live gateway silently diverges from every
	// existing mapping. The watcher turns that into an operator-visible
	// warning.
	watcher, err := corpus.NewWatcher(lib, func(changes []corpus.Change) {
		slog.Warn("Corpus changed under a running gateway; existing key mappings no longer cover it",
			"changes", len(changes))
	}, nil)
	if err != nil {
		slog.Warn("Corpus watcher unavailable", "error", err)
	} else if err := watcher.Start(context.Background()); err != nil {
		slog.Warn("Failed to start the corpus watcher", "error", err)
	} else {
		defer watcher.Stop()
	}

	// --- History backend ---
	var hist history.Store
	backend := history.ParseBackend(os.Getenv("REBUS_HISTORY_BACKEND"))
	switch backend {
	case "badger":
		cfg := storagebadger.DefaultConfig()
		cfg.Path = filepath.Join(dataDir, "history")
		cfg.Logger = logger.Slog()
		db, err := storagebadger.OpenDB(cfg)
		if err != nil {
			log.Fatalf("failed to open the badger history store: %v", err)
		}
		hist = history.NewBadgerStore(db)
		slog.Info("Using the Badger history backend", "path", cfg.Path)
	default:
		hist = history.NewMemoryStore()
		slog.Info("Using the in-memory history backend")
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("rebus-gateway"))

	routes.SetupRoutes(router, routes.Deps{
		History:   hist,
		Tracker:   tracker,
		Feed:      feed,
		Engine:    eng,
		Indexer:   ix,
		Alloc:     alloc,
		Limiter:   middleware.NewRateLimiter(2, 5),
		UploadDir: uploadDir,
		KeysDir:   keysDir,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down the Rebus gateway")
		if err := hist.Close(); err != nil {
			slog.Error("Failed to close the history store", "error", err)
		}
		if cleanup != nil {
			cleanup(context.Background())
		}
		if err := logger.Close(); err != nil {
			slog.Error("Failed to close the log file", "error", err)
		}
		os.Exit(0)
	}()

	slog.Info("Starting the Rebus gateway", "port", port, "corpus", corpusDir, "data", dataDir)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
