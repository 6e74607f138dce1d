// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command extraction starts the vehicle-search slot-extraction API server.
//
// The server turns free-text vehicle-search utterances plus conversation
// context into structured, validated search slots. It depends on two
// Ollama-compatible collaborators: an embedding endpoint (intent
// classification and vague-query retrieval) and a generation endpoint
// (slot extraction). Both are optional at startup — the service degrades
// to its fail-soft paths when they are unreachable.
//
// Usage:
//
//	go run ./cmd/extraction
//	go run ./cmd/extraction -port 9090
//
// With local Ollama:
//
//	EMBEDDING_SERVICE_URL=http://localhost:11434/api/embed \
//	GENERATION_SERVICE_URL=http://localhost:11434/api/generate \
//	EXTRACTION_MODEL=llama3.1:8b go run ./cmd/extraction
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/extraction/health
//
//	# Extract slots from an utterance
//	curl -X POST http://localhost:8080/v1/extraction/parameters \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "I like Honda and BMW, but no toyota please. Max price 30k"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/autotrader/services/embedding"
	"github.com/AleutianAI/autotrader/services/extraction"
	"github.com/AleutianAI/autotrader/services/extraction/intent"
	"github.com/AleutianAI/autotrader/services/extraction/llmx"
	"github.com/AleutianAI/autotrader/services/extraction/retrieval"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	traceStdout := flag.Bool("trace-stdout", false, "Export OTel spans to stdout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(*debug),
	}))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from incoming
	// headers through every handler and collaborator call.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTracing := setupTracing(*traceStdout, logger)

	voc := vocab.MustDefault()
	catalog, err := retrieval.DefaultCatalog()
	if err != nil {
		logger.Error("Embedded category catalog invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Embedding cache BadgerDB: service-global, in ~/.autotrader/cache/embeddings.
	// Graceful degradation: if unavailable, corpora are re-embedded at startup.
	var store embedding.CacheStore
	db := openEmbeddingCache(logger)
	if db != nil {
		store = embedding.NewBadgerCacheStore(db, 0, logger)
	}

	embedder := embedding.NewClient("", "")
	classifier := intent.NewClassifier(embedder, store, logger)
	matcher := retrieval.NewMatcher(catalog, voc, embedder, store, logger)
	extractor := llmx.NewClient(llmx.NewOllamaClient(""), nil, voc, logger)
	service := extraction.NewService(voc, classifier, matcher, extractor, logger)
	handlers := extraction.NewHandlers(service, logger)

	// Warm the embedding corpora in the background; the server starts
	// immediately and reports degraded readiness until warm-up completes.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in warm-up goroutine recovered", slog.Any("panic", r))
			}
		}()
		warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		service.Warm(warmCtx)
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("autotrader-extraction"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	extraction.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Graceful shutdown: close the cache DB before exiting.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down extraction server")
		shutdownTracing()
		if db != nil {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close embedding cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Starting extraction server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func logLevel(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// setupTracing installs a stdout span exporter when enabled and returns the
// shutdown function. Without the flag the no-op provider stays in place and
// spans cost almost nothing.
func setupTracing(enabled bool, logger *slog.Logger) func() {
	if !enabled {
		return func() {}
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn("Stdout trace exporter unavailable", slog.String("error", err.Error()))
		return func() {}
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracer provider shutdown failed", slog.String("error", err.Error()))
		}
	}
}

// openEmbeddingCache opens the embedding cache BadgerDB, or returns nil
// when persistence is unavailable (the corpora then live in memory only).
func openEmbeddingCache(logger *slog.Logger) *dgbadger.DB {
	dir := os.Getenv("EMBEDDING_CACHE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Warn("Home directory unavailable, embedding persistence disabled",
				slog.String("error", err.Error()))
			return nil
		}
		dir = filepath.Join(home, ".autotrader", "cache", "embeddings")
	}

	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		logger.Warn("Embedding cache BadgerDB unavailable, persistence disabled",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return nil
	}
	logger.Info("Embedding cache BadgerDB opened", slog.String("path", dir))
	return db
}
