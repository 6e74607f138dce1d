// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmx

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// Default model chain: primary first, then the fallback. The first model
// producing a structurally valid result wins; no backoff between attempts.
const (
	defaultPrimaryModel  = "llama3.1:8b"
	defaultFallbackModel = "mistral:7b"
)

// =============================================================================
// Metrics
// =============================================================================

var extractAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autotrader",
	Subsystem: "extraction",
	Name:      "llm_attempts_total",
	Help:      "Generative extraction attempts by model and outcome",
}, []string{"model", "outcome"})

var tracer = otel.Tracer("autotrader.extraction.llmx")

// =============================================================================
// Client
// =============================================================================

// Client runs generative slot extraction with a short ordered model chain.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	gen    Generator
	models []string
	voc    *vocab.Vocabulary
	logger *slog.Logger
}

// NewClient creates an extraction client.
//
// # Description
//
// The model chain comes from EXTRACTION_MODEL and EXTRACTION_FALLBACK_MODEL
// when models is empty, with local-Ollama defaults.
//
// # Inputs
//
//   - gen: Generative provider. Must not be nil.
//   - models: Ordered model chain. Empty uses the environment/defaults.
//   - voc: Canonical vocabularies for prompt construction. Must not be nil.
//   - logger: May be nil.
func NewClient(gen Generator, models []string, voc *vocab.Vocabulary, logger *slog.Logger) *Client {
	if len(models) == 0 {
		primary := os.Getenv("EXTRACTION_MODEL")
		if primary == "" {
			primary = defaultPrimaryModel
		}
		fallback := os.Getenv("EXTRACTION_FALLBACK_MODEL")
		if fallback == "" {
			fallback = defaultFallbackModel
		}
		models = []string{primary}
		if fallback != primary {
			models = append(models, fallback)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gen: gen, models: models, voc: voc, logger: logger}
}

// Extract runs the model chain and returns the first structurally valid
// raw extraction result.
//
// # Description
//
// Builds one prompt, then tries each model in order (forceModel, when it
// names a model in the chain, is promoted to the front). A model's output
// must parse to a JSON object containing an "intent" key to count; anything
// else — transport failure, unparsable text, missing key — moves on to the
// next model. All models failing yields (nil, false); errors never
// propagate past this boundary.
//
// # Outputs
//
//   - map[string]any: Raw untrusted extraction result. Nil when ok=false.
//   - bool: False when no model produced a valid result.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *Client) Extract(ctx context.Context, query string, history []slots.Turn, cctx *slots.ConversationContext, forceModel string) (map[string]any, bool) {
	ctx, span := tracer.Start(ctx, "llmx.Client.Extract")
	defer span.End()

	prompt := BuildPrompt(query, history, cctx, c.voc)
	chain := c.chain(forceModel)
	span.SetAttributes(attribute.Int("prompt_bytes", len(prompt)))

	for _, model := range chain {
		raw, err := c.gen.Generate(ctx, model, prompt)
		if err != nil {
			extractAttempts.WithLabelValues(model, "provider_error").Inc()
			c.logger.Warn("extraction attempt failed",
				slog.String("model", model),
				slog.String("error", err.Error()),
			)
			continue
		}
		result, ok := ParseResponse(raw)
		if !ok {
			extractAttempts.WithLabelValues(model, "parse_error").Inc()
			c.logger.Warn("extraction response unparsable",
				slog.String("model", model),
				slog.Int("response_bytes", len(raw)),
			)
			continue
		}
		extractAttempts.WithLabelValues(model, "ok").Inc()
		span.SetAttributes(attribute.String("model", model))
		return result, true
	}

	span.SetAttributes(attribute.Bool("exhausted", true))
	return nil, false
}

// chain returns the model order for one request, honoring forceModel when
// it names a configured model.
func (c *Client) chain(forceModel string) []string {
	if forceModel == "" {
		return c.models
	}
	out := []string{forceModel}
	for _, m := range c.models {
		if m != forceModel {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// Response Parsing
// =============================================================================

// fencedJSONRe matches a fenced code block, optionally tagged json, whose
// body starts with an object brace.
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseResponse pulls a raw extraction result out of free model output.
//
// # Description
//
// Tried in order: (1) a fenced code block containing a JSON object; (2) the
// span from the first '{' to the last '}' in the text. A parse succeeds
// only when the result is a JSON object containing an "intent" key —
// missing it means the model answered in prose or invented a different
// shape, and the result is untrustworthy.
//
// # Outputs
//
//   - map[string]any: Parsed object. Nil when ok=false.
//   - bool: False when no valid object could be recovered.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func ParseResponse(text string) (map[string]any, bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if result, ok := parseObject(m[1]); ok {
			return result, true
		}
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return nil, false
	}
	return parseObject(text[first : last+1])
}

func parseObject(span string) (map[string]any, bool) {
	var result map[string]any
	if err := json.Unmarshal([]byte(span), &result); err != nil {
		return nil, false
	}
	if _, hasIntent := result["intent"]; !hasIntent {
		return nil, false
	}
	return result, true
}
