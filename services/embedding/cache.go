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

// =============================================================================
// CacheStore — Embedding Persistence
// =============================================================================
//
// The intent-label and retrieval-category vectors are expensive to compute
// (one provider round trip per document) but change only when the catalog
// text or the embedding model changes. This store persists them in BadgerDB
// between service restarts.
//
// Design choices:
//
//	1. BadgerDB (embedded): these are a couple dozen service-infrastructure
//	   vectors, not user data. A vector database brings network calls and an
//	   availability dependency for what is a single map lookup at startup.
//
//	2. Corpus hash as cache key: SHA256(sorted doc names + texts + model
//	   name). Any change to the catalog or model produces a different hash,
//	   so stale entries simply become unreachable and age out via TTL. No
//	   explicit invalidation API exists — delete the cache directory.
//
//	3. BadgerDB native TTL: 7-day expiry is enforced by Badger's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the store
//	   treats as a cache miss.
//
// Storage layout:
//
//	embeddings/v1/{corpusHash}  →  gob-encoded map[string][]float32
//	                               (doc name → unit-normalized vector)
//	                               TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// cacheDefaultTTL is the default lifetime of a cached corpus entry.
const cacheDefaultTTL = 7 * 24 * time.Hour

// cacheKeyPrefix is prepended to the corpus hash to form the BadgerDB key.
// Versioned (v1) to allow future format changes without collision.
const cacheKeyPrefix = "embeddings/v1/"

// errCacheMiss distinguishes "key not found" (a normal miss) from a genuine
// storage error inside LoadEmbeddings.
var errCacheMiss = errors.New("cache miss")

// CacheStore persists corpus embedding vectors across service restarts.
//
// # Description
//
// Keyed by corpus hash. Consumers treat a nil CacheStore as "no
// persistence" and operate in-memory only — correct for tests and for
// deployments without a cache directory configured.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CacheStore interface {
	// LoadEmbeddings retrieves cached unit-normalized vectors for the hash.
	// Returns (nil, nil) on cache miss, (nil, error) on storage failure.
	LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error)

	// SaveEmbeddings persists unit-normalized vectors under the hash with
	// the store's TTL. Persistence failure is non-fatal for callers; the
	// vectors are already in RAM.
	SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// =============================================================================
// BadgerCacheStore
// =============================================================================

// BadgerCacheStore implements CacheStore backed by a BadgerDB instance
// opened and owned by the caller (typically main).
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerCacheStore struct {
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerCacheStore creates a BadgerCacheStore over an opened DB.
//
// # Inputs
//
//   - db: Opened BadgerDB. Must not be nil. The caller owns its lifecycle.
//   - ttl: Entry lifetime. Pass 0 for the default (7 days).
//   - logger: May be nil.
func NewBadgerCacheStore(db *dgbadger.DB, ttl time.Duration, logger *slog.Logger) *BadgerCacheStore {
	if db == nil {
		panic("NewBadgerCacheStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = cacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerCacheStore{db: db, ttl: ttl, logger: logger}
}

// LoadEmbeddings retrieves cached unit-normalized vectors for the hash.
func (s *BadgerCacheStore) LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(cacheKey(corpusHash))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("embedding cache: miss", slog.String("hash", shortHash(corpusHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding cache load: %w", err)
	}

	vectors, err := gobDecode(raw)
	if err != nil {
		return nil, fmt.Errorf("embedding cache decode: %w", err)
	}

	s.logger.Debug("embedding cache: hit",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("doc_count", len(vectors)),
	)
	return vectors, nil
}

// SaveEmbeddings persists unit-normalized vectors with the configured TTL.
func (s *BadgerCacheStore) SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := gobEncode(vectors)
	if err != nil {
		return fmt.Errorf("embedding cache encode: %w", err)
	}

	err = s.db.Update(func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(cacheKey(corpusHash), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("embedding cache save: %w", err)
	}

	s.logger.Debug("embedding cache: saved",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("doc_count", len(vectors)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// Corpus Hash
// =============================================================================

// ComputeCorpusHash computes a deterministic SHA256 hash over a document
// corpus and the embedding model name.
//
// # Description
//
// The hash captures every signal that determines vector shape: document
// names, document texts, and the model name. Docs are sorted by name so the
// hash is independent of catalog ordering.
//
// # Outputs
//
//   - string: Lowercase hex-encoded SHA256 digest (64 characters).
func ComputeCorpusHash(docs []Doc, model string) string {
	sorted := make([]Doc, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, d := range sorted {
		// Tab-delimited fields; newline terminates each entry. Stable
		// across Go versions.
		fmt.Fprintf(h, "%s\t%s\n", d.Name, d.Text)
	}
	fmt.Fprintf(h, "model=%s\n", model)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Helpers
// =============================================================================

// CacheKeyPrefix returns the BadgerDB key prefix used for corpus entries.
// Exposed for the cache-dump operator tool.
func CacheKeyPrefix() string { return cacheKeyPrefix }

func cacheKey(corpusHash string) []byte {
	return []byte(cacheKeyPrefix + corpusHash)
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

func gobEncode(vectors map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode deserializes a map[string][]float32 from gob-encoded bytes.
// Exposed for the cache-dump operator tool.
func GobDecode(data []byte) (map[string][]float32, error) {
	return gobDecode(data)
}

func gobDecode(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return vectors, nil
}
