// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval matches vague utterances against a fixed catalog of
// descriptive vehicle-search categories by cosine similarity and turns the
// match into a routing outcome: a category-grounded clarifying question, a
// narrow single-parameter extraction for follow-ups, or a fallback.
package retrieval

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/autotrader/services/embedding"
	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/terms"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// =============================================================================
// Catalog
// =============================================================================

//go:embed categories.yaml
var defaultCatalogYAML []byte

// CatalogEntry is one retrieval category: the description is embedded, the
// question is the clarification asked on a high-confidence match.
type CatalogEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Question    string `yaml:"question"`
}

type catalogFile struct {
	Categories []CatalogEntry `yaml:"categories"`
}

// ParseCatalog parses a category catalog from YAML bytes.
func ParseCatalog(data []byte) ([]CatalogEntry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse category catalog yaml: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("category catalog is empty")
	}
	for _, c := range file.Categories {
		if c.Name == "" || c.Description == "" {
			return nil, fmt.Errorf("category catalog entry with empty name or description")
		}
	}
	return file.Categories, nil
}

// DefaultCatalog returns the embedded category catalog.
func DefaultCatalog() ([]CatalogEntry, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// =============================================================================
// Confidence Bands
// =============================================================================

// Band thresholds. Tunable configuration, not a correctness requirement.
const (
	highConfidence     = 0.70
	moderateConfidence = 0.45
	confusedBelow      = 0.40
)

// =============================================================================
// Outcomes
// =============================================================================

// OutcomeKind is the routing decision produced by Match.
type OutcomeKind int

const (
	// OutcomeGenericClarify asks a generic clarifying question. Also the
	// degraded outcome when the embedding signal is unavailable.
	OutcomeGenericClarify OutcomeKind = iota

	// OutcomeHighConfidence asks the matched category's grounded question.
	OutcomeHighConfidence

	// OutcomeDirectExtraction produced a single-parameter record from a
	// moderate-confidence follow-up without calling the generative model.
	OutcomeDirectExtraction

	// OutcomeConfused is the "please restate" fallback for queries nothing
	// in the catalog resembles.
	OutcomeConfused
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeHighConfidence:
		return "high_confidence"
	case OutcomeDirectExtraction:
		return "direct_extraction"
	case OutcomeConfused:
		return "confused"
	default:
		return "generic_clarify"
	}
}

// Outcome is the result of matching one vague utterance.
type Outcome struct {
	Kind     OutcomeKind
	Category string  // matched category name; empty on degradation
	Score    float64 // best cosine score; 0 on degradation
	Question string  // clarifying question to surface, when applicable

	// Extracted is set only for OutcomeDirectExtraction: an all-default
	// record with exactly one parameter populated.
	Extracted *slots.SlotRecord
}

// GenericClarifyQuestion is the fallback clarification when no category
// stands out (or the embedding provider is down).
const GenericClarifyQuestion = "Could you tell me a bit more about the car you're looking for? " +
	"A budget, a body style, or a manufacturer all help."

// =============================================================================
// Metrics
// =============================================================================

var matchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autotrader",
	Subsystem: "retrieval",
	Name:      "match_total",
	Help:      "Retrieval matcher outcomes by kind",
}, []string{"outcome"})

var tracer = otel.Tracer("autotrader.extraction.retrieval")

// =============================================================================
// Matcher
// =============================================================================

// Matcher scores utterances against the category catalog.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
type Matcher struct {
	corpus  *embedding.Corpus
	catalog []CatalogEntry
	byName  map[string]CatalogEntry
	voc     *vocab.Vocabulary
	logger  *slog.Logger
}

// NewMatcher creates an unwarmed matcher over the given catalog.
//
// # Inputs
//
//   - catalog: Category catalog. Must be non-empty (use DefaultCatalog).
//   - voc: Closed vocabularies for direct extraction. Must not be nil.
//   - embedder: Embedding provider client. Must not be nil.
//   - store: Optional BadgerDB persistence for category vectors. May be nil.
//   - logger: May be nil.
func NewMatcher(catalog []CatalogEntry, voc *vocab.Vocabulary, embedder embedding.Embedder, store embedding.CacheStore, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]CatalogEntry, len(catalog))
	for _, c := range catalog {
		byName[c.Name] = c
	}
	return &Matcher{
		corpus:  embedding.NewCorpus("retrieval_categories", embedder, store, logger),
		catalog: catalog,
		byName:  byName,
		voc:     voc,
		logger:  logger,
	}
}

// Warm embeds the category descriptions (or loads them from cache).
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (m *Matcher) Warm(ctx context.Context) error {
	docs := make([]embedding.Doc, 0, len(m.catalog))
	for _, c := range m.catalog {
		docs = append(docs, embedding.Doc{Name: c.Name, Text: c.Description})
	}
	return m.corpus.Warm(ctx, docs)
}

// IsWarmed reports whether category embeddings are available.
func (m *Matcher) IsWarmed() bool { return m.corpus.IsWarmed() }

// FindBestMatch returns the best-scoring category for the query.
//
// # Outputs
//
//   - string: Category name. Empty when the embedding signal is unavailable.
//   - float64: Cosine score of the best category.
//   - bool: False on degradation.
func (m *Matcher) FindBestMatch(ctx context.Context, query string) (string, float64, bool) {
	scores, _ := m.corpus.Score(ctx, query)
	if scores == nil {
		return "", 0, false
	}
	var bestName string
	bestScore := -1.0
	for name, score := range scores {
		if score > bestScore || (score == bestScore && name < bestName) {
			bestName, bestScore = name, score
		}
	}
	if bestName == "" {
		return "", 0, false
	}
	return bestName, bestScore, true
}

// Match scores the query against the catalog and applies the confidence
// bands.
//
// # Description
//
// High-confidence matches produce the category's grounded clarifying
// question. A moderate-band score on a follow-up turn first attempts a
// narrow single-parameter extraction straight from the query or category
// text; success skips the generative model entirely. A score below the
// confused threshold yields the restate fallback. Everything else — and any
// embedding failure — degrades to a generic clarifying question.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
func (m *Matcher) Match(ctx context.Context, query string, isFollowUp bool) Outcome {
	ctx, span := tracer.Start(ctx, "retrieval.Matcher.Match")
	defer span.End()

	name, score, ok := m.FindBestMatch(ctx, query)
	if !ok {
		span.SetAttributes(attribute.Bool("degraded", true))
		return m.finish(span, Outcome{Kind: OutcomeGenericClarify, Question: GenericClarifyQuestion})
	}
	entry := m.byName[name]

	span.SetAttributes(
		attribute.String("category", name),
		attribute.Float64("score", score),
		attribute.Bool("follow_up", isFollowUp),
	)

	switch {
	case score >= highConfidence:
		return m.finish(span, Outcome{
			Kind:     OutcomeHighConfidence,
			Category: name,
			Score:    score,
			Question: entry.Question,
		})

	case score >= moderateConfidence && isFollowUp:
		if rec, found := DirectExtract(query, entry.Description, m.voc); found {
			return m.finish(span, Outcome{
				Kind:      OutcomeDirectExtraction,
				Category:  name,
				Score:     score,
				Extracted: rec,
			})
		}
		return m.finish(span, Outcome{
			Kind:     OutcomeGenericClarify,
			Category: name,
			Score:    score,
			Question: GenericClarifyQuestion,
		})

	case score < confusedBelow:
		return m.finish(span, Outcome{Kind: OutcomeConfused, Category: name, Score: score})

	default:
		return m.finish(span, Outcome{
			Kind:     OutcomeGenericClarify,
			Category: name,
			Score:    score,
			Question: GenericClarifyQuestion,
		})
	}
}

func (m *Matcher) finish(span trace.Span, out Outcome) Outcome {
	span.SetAttributes(attribute.String("outcome", out.Kind.String()))
	matchTotal.WithLabelValues(out.Kind.String()).Inc()
	m.logger.Debug("retrieval match",
		slog.String("outcome", out.Kind.String()),
		slog.String("category", out.Category),
		slog.Float64("score", out.Score),
	)
	return out
}

// =============================================================================
// Direct Extraction
// =============================================================================

// Narrow patterns for pulling a single parameter out of a short follow-up.
// Deliberately conservative: a miss falls back to a clarifying question.
var (
	maxPriceRe = regexp.MustCompile(`(?i)(?:under|below|less than|up to|max(?:imum)?(?:\s+price)?|budget(?:\s+of)?)\s*[€$£]?\s*(\d+(?:[.,]\d+)?)\s*(k|thousand)?\b`)
	minPriceRe = regexp.MustCompile(`(?i)(?:over|above|more than|at least|min(?:imum)?(?:\s+price)?|from)\s*[€$£]\s*(\d+(?:[.,]\d+)?)\s*(k|thousand)?\b`)
	mileageRe  = regexp.MustCompile(`(?i)(?:under|below|less than|max(?:imum)?)\s*(\d+(?:[.,]\d+)?)\s*(k|thousand)?\s*(?:km|kms|kilometers|kilometres|miles|mi)\b`)
	minYearRe  = regexp.MustCompile(`(?i)(?:after|since|from|newer than)\s+((?:19|20)\d{2})\b`)
	maxYearRe  = regexp.MustCompile(`(?i)(?:before|until|older than|up to)\s+((?:19|20)\d{2})\b`)
)

// DirectExtract attempts a narrow regex-based extraction of exactly one
// parameter from the raw query, falling back to the matched category's
// description text for the categorical parameters.
//
// # Description
//
// Tried in order: max mileage, max price, min price, year bounds, then a
// single vehicle-type, fuel-type, or make mention. The first hit wins and
// the returned record carries only that parameter. No hit returns
// (nil, false) — the caller asks a clarifying question instead.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func DirectExtract(query, categoryText string, voc *vocab.Vocabulary) (*slots.SlotRecord, bool) {
	rec := slots.New()
	rec.Intent = slots.IntentRefineCriteria

	// Mileage first: it shares triggers with the price pattern but demands a
	// unit suffix, so it is the more specific of the two.
	if v, ok := matchAmount(mileageRe, query); ok {
		mi := int(v)
		rec.MaxMileage = &mi
		return rec, true
	}
	if v, ok := matchAmount(maxPriceRe, query); ok {
		rec.MaxPrice = &v
		return rec, true
	}
	if v, ok := matchAmount(minPriceRe, query); ok {
		rec.MinPrice = &v
		return rec, true
	}
	if y, ok := matchYear(minYearRe, query); ok {
		rec.MinYear = &y
		return rec, true
	}
	if y, ok := matchYear(maxYearRe, query); ok {
		rec.MaxYear = &y
		return rec, true
	}

	// Categorical fallback: one mention in the query, else in the matched
	// category's own description.
	for _, text := range []string{query, categoryText} {
		if types := terms.FindPositive(text, voc.VehicleTypes, nil); len(types) > 0 {
			rec.PreferredVehicleTypes = types[:1]
			return rec, true
		}
		if fuels := terms.FindPositive(text, voc.FuelTypes, nil); len(fuels) > 0 {
			rec.PreferredFuelTypes = fuels[:1]
			return rec, true
		}
		if makes := terms.FindPositive(text, voc.Makes, nil); len(makes) > 0 {
			rec.PreferredMakes = makes[:1]
			return rec, true
		}
	}
	return nil, false
}

// matchAmount applies a money/mileage pattern and scales "k"/"thousand"
// suffixes.
func matchAmount(re *regexp.Regexp, s string) (float64, bool) {
	groups := re.FindStringSubmatch(s)
	if groups == nil {
		return 0, false
	}
	raw := strings.ReplaceAll(groups[1], ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if len(groups) > 2 && groups[2] != "" {
		v *= 1000
	}
	return v, true
}

func matchYear(re *regexp.Regexp, s string) (int, bool) {
	groups := re.FindStringSubmatch(s)
	if groups == nil {
		return 0, false
	}
	y, err := strconv.Atoi(groups[1])
	if err != nil {
		return 0, false
	}
	return y, true
}
