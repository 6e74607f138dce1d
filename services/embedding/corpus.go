// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// warmConcurrency is the number of parallel provider calls during warm-up.
// Enough to saturate a local provider without overwhelming it.
const warmConcurrency = 8

// Doc is one named document in an embedding corpus: an intent label with
// its description, or a retrieval category string.
type Doc struct {
	Name string
	Text string
}

// =============================================================================
// Corpus
// =============================================================================

// Corpus pre-computes and caches an embedding vector for every document at
// service startup, then scores queries against the whole corpus by cosine
// similarity.
//
// # Description
//
// Both process-wide caches the service needs — intent-label vectors and
// retrieval-category vectors — are instances of this type. Warm() embeds
// all documents in parallel (or loads them from the CacheStore, keyed by
// corpus hash). If the provider is unavailable at startup, the corpus
// degrades gracefully: Score() returns (nil, nil) and callers fall back to
// their fail-soft path.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes. Warm() itself must be
// called once, at startup.
type Corpus struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // doc name → unit-normalized vector
	warmed  bool

	name     string // corpus name for logs ("intent_labels", "retrieval_categories")
	embedder Embedder
	store    CacheStore // nil = in-memory-only
	logger   *slog.Logger
}

// NewCorpus creates an unwarmed corpus.
//
// # Inputs
//
//   - name: Corpus name for diagnostics.
//   - embedder: Embedding provider client. Must not be nil.
//   - store: Optional persistence. Nil disables it.
//   - logger: May be nil.
func NewCorpus(name string, embedder Embedder, store CacheStore, logger *slog.Logger) *Corpus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corpus{
		vectors:  make(map[string][]float32),
		name:     name,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Warm pre-computes and caches an embedding vector for every document.
//
// # Description
//
// Checks the CacheStore first (corpus hash over doc names, texts, and the
// model name); on a hit the provider is not called at all. Otherwise embeds
// every document with up to warmConcurrency parallel calls, stores the
// vectors unit-normalized, and persists them back to the store.
//
// A single failed document is logged and skipped. If every document fails,
// the corpus stays unwarmed and Score() degrades gracefully.
//
// # Inputs
//
//   - ctx: Context for the warm-up calls. Cancellation aborts pending embeds.
//   - docs: Documents to embed. Empty slice is a no-op.
//
// # Outputs
//
//   - error: Non-nil only when the provider is completely unreachable.
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (c *Corpus) Warm(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	corpusHash := ComputeCorpusHash(docs, c.embedder.Model())
	if c.store != nil {
		cached, err := c.store.LoadEmbeddings(ctx, corpusHash)
		if err != nil {
			c.logger.Warn("corpus warm-up: store load failed, continuing with provider",
				slog.String("corpus", c.name),
				slog.String("error", err.Error()),
			)
		} else if len(cached) > 0 {
			c.mu.Lock()
			for name, vec := range cached {
				c.vectors[name] = vec // already unit-normalized on save
			}
			c.warmed = true
			c.mu.Unlock()
			c.logger.Info("corpus warm-up: loaded from cache",
				slog.String("corpus", c.name),
				slog.Int("doc_count", len(cached)),
				slog.String("corpus_hash", shortHash(corpusHash)),
			)
			return nil
		}
	}

	c.logger.Info("corpus warm-up: embedding documents",
		slog.String("corpus", c.name),
		slog.Int("doc_count", len(docs)),
	)

	type result struct {
		name   string
		vector []float32
	}
	resultCh := make(chan result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, doc := range docs {
		d := doc
		g.Go(func() error {
			vec, err := c.embedder.Embed(gctx, d.Text)
			if err != nil {
				c.logger.Warn("corpus warm-up: failed to embed document",
					slog.String("corpus", c.name),
					slog.String("doc", d.Name),
					slog.String("error", err.Error()),
				)
				// Individual failure is not fatal.
				return nil
			}
			resultCh <- result{name: d.Name, vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("corpus warm-up (%s): %w", c.name, err)
	}
	close(resultCh)

	c.mu.Lock()
	for r := range resultCh {
		if unit := Normalize(r.vector); unit != nil {
			c.vectors[r.name] = unit
		}
	}
	c.warmed = len(c.vectors) > 0
	embedded := len(c.vectors)
	var toSave map[string][]float32
	if c.warmed && c.store != nil {
		toSave = make(map[string][]float32, len(c.vectors))
		for k, v := range c.vectors {
			toSave[k] = v
		}
	}
	c.mu.Unlock()

	c.logger.Info("corpus warm-up: complete",
		slog.String("corpus", c.name),
		slog.Int("embedded_docs", embedded),
		slog.Int("requested_docs", len(docs)),
	)

	// Persist outside the lock; failure is non-fatal (vectors are in RAM).
	if toSave != nil {
		if err := c.store.SaveEmbeddings(ctx, corpusHash, toSave); err != nil {
			c.logger.Warn("corpus warm-up: failed to persist vectors",
				slog.String("corpus", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Score embeds the query and returns its cosine similarity against every
// cached document vector.
//
// # Description
//
// Returns (nil, nil) in the two degradation cases: the corpus was never
// warmed, or the provider call for the query fails. Callers must treat a
// nil map as "embedding signal unavailable" and take their fail-soft path.
//
// # Outputs
//
//   - map[string]float64: Doc name → cosine similarity. Nil on degradation.
//   - error: Always nil. Errors are absorbed and signaled via the nil map.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
func (c *Corpus) Score(ctx context.Context, query string) (map[string]float64, error) {
	c.mu.RLock()
	warmed := c.warmed
	c.mu.RUnlock()
	if !warmed {
		return nil, nil
	}

	queryVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("corpus score: query embedding failed",
			slog.String("corpus", c.name),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	queryUnit := Normalize(queryVec)
	if queryUnit == nil {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	scores := make(map[string]float64, len(c.vectors))
	for name, vec := range c.vectors {
		scores[name] = float64(Dot(queryUnit, vec)) // dot of unit vectors = cosine
	}
	return scores, nil
}

// IsWarmed reports whether the corpus holds at least one vector.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *Corpus) IsWarmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.warmed
}
