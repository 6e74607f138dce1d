// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent classifies an utterance as a specific vehicle search or a
// vague inquiry, zero-shot, by cosine similarity against precomputed label
// embeddings.
package intent

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/autotrader/services/embedding"
)

// =============================================================================
// Labels
// =============================================================================

// Classification label names. The label descriptions below are what gets
// embedded at startup; the names are what Classify returns.
const (
	LabelSpecificSearch = "SPECIFIC_SEARCH"
	LabelVagueInquiry   = "VAGUE_INQUIRY"
)

// Label is a {name, description} pair embedded once at startup and
// immutable for the process lifetime.
type Label struct {
	Name        string
	Description string
}

// Labels is the fixed zero-shot label set.
var Labels = []Label{
	{
		Name: LabelSpecificSearch,
		Description: "The user states concrete vehicle search criteria: a price or budget, " +
			"a manufacturer or model, a year range, mileage, fuel type, body style, " +
			"transmission, engine size, or specific features they want.",
	},
	{
		Name: LabelVagueInquiry,
		Description: "The user asks an open-ended or underspecified question about finding " +
			"a car, with no concrete criteria: they describe a lifestyle, a feeling, or a " +
			"general need and expect guidance on where to start.",
	},
}

// Default similarity thresholds. Empirical; tunable configuration, not a
// correctness requirement.
const (
	defaultThreshold    = 0.35
	defaultLowThreshold = 0.30
)

// =============================================================================
// Metrics
// =============================================================================

var classifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autotrader",
	Subsystem: "intent",
	Name:      "classify_total",
	Help:      "Intent classification outcomes: specific, vague, degraded",
}, []string{"outcome"})

var tracer = otel.Tracer("autotrader.extraction.intent")

// =============================================================================
// Classifier
// =============================================================================

// Classifier performs zero-shot intent classification against precomputed
// label embeddings.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
type Classifier struct {
	corpus       *embedding.Corpus
	threshold    float64
	lowThreshold float64
	logger       *slog.Logger
}

// NewClassifier creates an unwarmed classifier.
//
// # Inputs
//
//   - embedder: Embedding provider client. Must not be nil.
//   - store: Optional BadgerDB persistence for label vectors. May be nil.
//   - logger: May be nil.
//
// # Outputs
//
//   - *Classifier: Unwarmed classifier. Call Warm() at startup.
func NewClassifier(embedder embedding.Embedder, store embedding.CacheStore, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		corpus:       embedding.NewCorpus("intent_labels", embedder, store, logger),
		threshold:    defaultThreshold,
		lowThreshold: defaultLowThreshold,
		logger:       logger,
	}
}

// Warm embeds the label descriptions (or loads them from cache).
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (c *Classifier) Warm(ctx context.Context) error {
	docs := make([]embedding.Doc, 0, len(Labels))
	for _, l := range Labels {
		docs = append(docs, embedding.Doc{Name: l.Name, Text: l.Description})
	}
	return c.corpus.Warm(ctx, docs)
}

// IsWarmed reports whether label embeddings are available.
func (c *Classifier) IsWarmed() bool { return c.corpus.IsWarmed() }

// Classify returns the intent label for the query.
//
// # Description
//
// Scores the query embedding against both label embeddings. If the top
// score clears the threshold, that label wins. Below the threshold a
// fallback applies: when the top label is VAGUE_INQUIRY, or both scores sit
// below the low threshold, the utterance is treated as vague; otherwise as
// specific.
//
// Returns ok=false when label embeddings are unavailable (startup failure)
// or the query embedding could not be produced. The caller must then
// default to SPECIFIC_SEARCH — failing toward the more capable path.
//
// # Outputs
//
//   - string: LabelSpecificSearch or LabelVagueInquiry. Empty when ok=false.
//   - bool: False on degradation.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
func (c *Classifier) Classify(ctx context.Context, query string) (string, bool) {
	ctx, span := tracer.Start(ctx, "intent.Classifier.Classify")
	defer span.End()

	scores, _ := c.corpus.Score(ctx, query)
	if scores == nil {
		classifyTotal.WithLabelValues("degraded").Inc()
		span.SetAttributes(attribute.Bool("degraded", true))
		return "", false
	}

	specific := scores[LabelSpecificSearch]
	vague := scores[LabelVagueInquiry]
	top, topScore := LabelSpecificSearch, specific
	if vague > specific {
		top, topScore = LabelVagueInquiry, vague
	}

	span.SetAttributes(
		attribute.Float64("score.specific", specific),
		attribute.Float64("score.vague", vague),
		attribute.String("top_label", top),
	)

	label := top
	if topScore < c.threshold {
		// Low-confidence fallback: vagueness wins unless the specific
		// signal is clearly the stronger of two weak ones.
		if top == LabelVagueInquiry || (specific < c.lowThreshold && vague < c.lowThreshold) {
			label = LabelVagueInquiry
		} else {
			label = LabelSpecificSearch
		}
	}

	c.logger.Debug("intent classified",
		slog.String("label", label),
		slog.Float64("specific", specific),
		slog.Float64("vague", vague),
	)
	if label == LabelVagueInquiry {
		classifyTotal.WithLabelValues("vague").Inc()
	} else {
		classifyTotal.WithLabelValues("specific").Inc()
	}
	return label, true
}
