// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmx holds the generative-model extraction client: prompt
// construction, the provider HTTP client, and the defensive parsing that
// pulls a JSON object out of free text the model is under no obligation to
// format.
package llmx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// generateTimeout bounds one generative call. Extraction prompts are large
// and local models are slow; tens of seconds is normal.
const generateTimeout = 45 * time.Second

// maxResponseBytes caps how much of the provider response body is read.
const maxResponseBytes = 1 << 20 // 1 MiB

// =============================================================================
// Wire Types
// =============================================================================

// generateReq is the /api/generate request body.
type generateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResp is the /api/generate response body.
type generateResp struct {
	Response string `json:"response"`
}

// =============================================================================
// Generator
// =============================================================================

// Generator produces free text from a prompt. Implemented by *OllamaClient;
// stubbed in tests.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// OllamaClient calls an Ollama-compatible /api/generate endpoint with a
// client-side rate limit on egress.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaClient struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllamaClient creates a generative-provider client.
//
// # Description
//
// Reads GENERATION_SERVICE_URL from the environment when url is empty,
// falling back to a local Ollama default. The rate limiter protects a
// shared local provider from request bursts; it is generous enough to be
// invisible under normal load.
//
// # Outputs
//
//   - *OllamaClient: Ready-to-use client. Never nil.
func NewOllamaClient(url string) *OllamaClient {
	if url == "" {
		url = os.Getenv("GENERATION_SERVICE_URL")
	}
	if url == "" {
		url = "http://localhost:11434/api/generate"
	}
	return &OllamaClient{
		url:     url,
		client:  &http.Client{Timeout: generateTimeout},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Generate sends the prompt to the provider and returns the raw response
// text.
//
// # Inputs
//
//   - ctx: Context for cancellation. A per-call timeout is applied internally.
//   - model: Provider model name. Must be non-empty.
//   - prompt: Full instruction payload.
//
// # Outputs
//
//   - string: Raw model output, no formatting guarantee.
//   - error: Non-nil on rate-limit wait, transport, status, or decode failure.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", fmt.Errorf("generate: empty model name")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generate rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	reqBody, err := json.Marshal(generateReq{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded generateResp
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse generate response: %w", err)
	}
	if decoded.Response == "" {
		return "", fmt.Errorf("generation service returned empty response")
	}
	return decoded.Response, nil
}
