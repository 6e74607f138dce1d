// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides the client for the text-embedding collaborator
// and the startup-time embedding caches built on top of it.
//
// The service treats the embedding provider as an Ollama-compatible
// /api/embed endpoint: text in, fixed-length float vector out. Every
// consumer degrades gracefully when the provider is unavailable — a failed
// embed call is a recoverable condition, never a crash.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// queryTimeout is the per-call embedding timeout. Embedding sits on the
// request hot path; a few seconds is ample for a local provider.
const queryTimeout = 3 * time.Second

// =============================================================================
// Wire Types
// =============================================================================

// embedReq is the /api/embed request body.
type embedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResp is the /api/embed response body.
type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// =============================================================================
// Client
// =============================================================================

// Embedder produces a fixed-length vector for a piece of text. Implemented
// by *Client; stubbed in tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model name, used in cache corpus hashes.
	Model() string
}

// Client calls an Ollama-compatible /api/embed endpoint.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	url    string
	model  string
	client *http.Client
}

// NewClient creates an embedding client.
//
// # Description
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment when
// the arguments are empty, falling back to a local Ollama default.
//
// # Inputs
//
//   - url: Embed endpoint URL. Empty uses EMBEDDING_SERVICE_URL or the default.
//   - model: Embedding model name. Empty uses EMBEDDING_MODEL or the default.
//
// # Outputs
//
//   - *Client: Ready-to-use client. Never nil.
func NewClient(url, model string) *Client {
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Client{
		url:   url,
		model: model,
		client: &http.Client{
			Timeout: 30 * time.Second, // warm-up calls can be slow; query timeout set per-call
		},
	}
}

// Model returns the configured embedding model name.
func (c *Client) Model() string { return c.model }

// Embed returns the embedding vector for text.
//
// # Inputs
//
//   - ctx: Context for cancellation. A per-call timeout is applied internally.
//   - text: Text to embed. Must be non-empty.
//
// # Outputs
//
//   - []float32: Embedding vector. Nil on error.
//   - error: Non-nil on transport, status, or decode failure.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty input")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	reqBody, err := json.Marshal(embedReq{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded embedResp
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(decoded.Embeddings) == 0 || len(decoded.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}

	return decoded.Embeddings[0], nil
}

// =============================================================================
// Vector Helpers
// =============================================================================

// L2Norm computes the Euclidean norm of a float32 vector.
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns the unit-length copy of v, or nil for a zero vector.
// Storing unit vectors makes cosine similarity a plain dot product.
func Normalize(v []float32) []float32 {
	norm := L2Norm(v)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// Cosine computes the cosine similarity of two vectors. Mismatched lengths
// use the shorter; zero vectors score 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Dot computes the dot product of two float32 vectors. For unit vectors
// this equals cosine similarity. Mismatched lengths use the shorter.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
