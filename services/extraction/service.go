// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extraction is the vehicle-search slot-extraction service: the
// request-level state machine that composes the classifier, retrieval
// matcher, generative extraction client, term extractor, validator and
// context merger into one stateless per-request pipeline, plus the HTTP
// surface in front of it.
package extraction

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/autotrader/services/extraction/intent"
	"github.com/AleutianAI/autotrader/services/extraction/llmx"
	"github.com/AleutianAI/autotrader/services/extraction/merge"
	"github.com/AleutianAI/autotrader/services/extraction/retrieval"
	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

var tracer = otel.Tracer("autotrader.extraction")

// =============================================================================
// Off-Topic Heuristic
// =============================================================================

// greetings short-circuit before any model call.
var greetings = map[string]bool{
	"hi":             true,
	"hello":          true,
	"hey":            true,
	"yo":             true,
	"good morning":   true,
	"good afternoon": true,
	"good evening":   true,
	"how are you":    true,
	"thanks":         true,
	"thank you":      true,
	"bye":            true,
	"goodbye":        true,
}

// carKeywords are generic vehicle-domain words beyond the closed
// vocabularies. A query containing none of these, no vocabulary term, no
// digit and no currency mark is off-topic.
var carKeywords = []string{
	"car", "cars", "vehicle", "vehicles", "drive", "driving", "motor",
	"mileage", "engine", "transmission", "horsepower", "fuel",
	"price", "budget", "cheap", "expensive", "afford",
	"model", "make", "brand", "dealership",
}

// offTopicMessage is the fixed user-visible reply for off-topic queries.
const offTopicMessage = "I can only help with finding a vehicle. " +
	"Tell me what kind of car you're looking for and I'll take it from there."

// =============================================================================
// Service
// =============================================================================

// Service is the routing controller for one extraction request. It owns no
// per-request state; everything flows through Process arguments.
//
// # Thread Safety
//
// Safe for concurrent use once the classifier and matcher are warmed.
type Service struct {
	voc        *vocab.Vocabulary
	classifier *intent.Classifier
	matcher    *retrieval.Matcher
	extractor  *llmx.Client
	logger     *slog.Logger
}

// NewService wires the pipeline components into a service.
//
// # Inputs
//
//   - voc: Canonical vocabularies. Must not be nil.
//   - classifier: Warmed (or warmable) intent classifier. Must not be nil.
//   - matcher: Warmed (or warmable) retrieval matcher. Must not be nil.
//   - extractor: Generative extraction client. Must not be nil.
//   - logger: May be nil.
func NewService(voc *vocab.Vocabulary, classifier *intent.Classifier, matcher *retrieval.Matcher, extractor *llmx.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		voc:        voc,
		classifier: classifier,
		matcher:    matcher,
		extractor:  extractor,
		logger:     logger,
	}
}

// Warm prepares both embedding corpora. Degradation is logged, not fatal:
// the service runs fail-soft without the embedding signal.
func (s *Service) Warm(ctx context.Context) {
	if err := s.classifier.Warm(ctx); err != nil {
		s.logger.Warn("intent classifier warm-up failed, running degraded",
			slog.String("error", err.Error()))
	}
	if err := s.matcher.Warm(ctx); err != nil {
		s.logger.Warn("retrieval matcher warm-up failed, running degraded",
			slog.String("error", err.Error()))
	}
}

// Ready reports whether both embedding corpora are warmed.
func (s *Service) Ready() bool {
	return s.classifier.IsWarmed() && s.matcher.IsWarmed()
}

// Process runs the full state machine for one request.
//
// # Description
//
// Off-topic short-circuit, then intent classification, then one of three
// paths: a contextual follow-up (always extract, force clarify), a specific
// search (extract, term-scan, normalize, merge), or the vague retrieval
// path (which may redirect into a merge when a narrow direct extraction
// succeeds). Any panic anywhere inside the pipeline is recovered here and
// converted into the all-default error record — no request ever fails hard
// past this point.
//
// # Outputs
//
//   - *slots.SlotRecord: Always a complete record. Never nil.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *Service) Process(ctx context.Context, req *ParametersRequest) (rec *slots.SlotRecord) {
	ctx, span := tracer.Start(ctx, "extraction.Service.Process")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("extraction pipeline panicked",
				slog.Any("panic", r),
				slog.String("query", req.Query),
			)
			span.SetAttributes(attribute.Bool("panicked", true))
			rec = slots.NewError()
		}
	}()

	query := strings.TrimSpace(req.Query)
	cctx := req.Context()

	if isOffTopic(query, s.voc) {
		span.SetAttributes(attribute.String("path", "off_topic"))
		rec := slots.New()
		rec.Intent = slots.IntentOffTopic
		rec.IsOffTopic = true
		msg := offTopicMessage
		rec.OffTopicResponse = &msg
		return rec
	}

	if req.IsFollowUpQuery {
		span.SetAttributes(attribute.String("path", "contextual_follow_up"))
		return s.contextualFollowUp(ctx, query, req, cctx)
	}

	label, ok := s.classifier.Classify(ctx, query)
	if !ok {
		// Degraded classifier fails toward the more capable path.
		label = intent.LabelSpecificSearch
	}
	span.SetAttributes(attribute.String("label", label))

	if label == intent.LabelVagueInquiry {
		span.SetAttributes(attribute.String("path", "vague_rag"))
		return s.vagueRag(ctx, query, req, cctx)
	}

	span.SetAttributes(attribute.String("path", "specific_search"))
	return s.specificSearch(ctx, query, req, cctx, "")
}

// contextualFollowUp handles an answer to a pending clarifying question:
// always extract, force intent clarify, and never re-ask.
func (s *Service) contextualFollowUp(ctx context.Context, query string, req *ParametersRequest, cctx *slots.ConversationContext) *slots.SlotRecord {
	merged := s.specificSearch(ctx, query, req, cctx, slots.IntentClarify)
	if merged.Intent == slots.IntentConfusedFallback || merged.Intent == slots.IntentError {
		return merged
	}
	merged.ClarificationNeeded = false
	merged.ClarificationNeededFor = []string{}
	return merged
}

// specificSearch runs the full extraction pipeline. forceIntent, when
// non-empty, overrides whatever intent the generative model reported before
// the merge runs.
func (s *Service) specificSearch(ctx context.Context, query string, req *ParametersRequest, cctx *slots.ConversationContext, forceIntent string) *slots.SlotRecord {
	raw, ok := s.extractor.Extract(ctx, query, req.ConversationHistory, cctx, req.ForceModel)
	if !ok {
		// Heuristic-only fallback: normalization of nothing plus the term
		// extractor still recovers negations and explicit mentions.
		s.logger.Warn("generative extraction unavailable, merging heuristics only",
			slog.String("query", query))
		raw = nil
	}

	normalized := slots.Normalize(raw, s.voc)
	if normalized.Intent == slots.IntentError {
		return normalized
	}
	if forceIntent != "" {
		normalized.Intent = forceIntent
	}

	ts := merge.ExtractTerms(query, s.voc)
	return merge.Merge(ctx, normalized, ts, query, cctx)
}

// vagueRag handles a vague inquiry via the retrieval matcher. A successful
// narrow direct extraction redirects into the merge path.
func (s *Service) vagueRag(ctx context.Context, query string, req *ParametersRequest, cctx *slots.ConversationContext) *slots.SlotRecord {
	followUp := req.LastQuestionAsked != "" || hasAssistantTurn(req.ConversationHistory)
	outcome := s.matcher.Match(ctx, query, followUp)

	switch outcome.Kind {
	case retrieval.OutcomeHighConfidence:
		rec := slots.New()
		rec.Intent = slots.IntentClarify
		rec.ClarificationNeeded = true
		question := outcome.Question
		category := outcome.Category
		rec.RetrieverSuggestion = &question
		rec.MatchedCategory = &category
		return rec

	case retrieval.OutcomeDirectExtraction:
		ts := merge.ExtractTerms(query, s.voc)
		merged := merge.Merge(ctx, outcome.Extracted, ts, query, cctx)
		if merged.Intent != slots.IntentConfusedFallback {
			category := outcome.Category
			merged.MatchedCategory = &category
		}
		return merged

	case retrieval.OutcomeConfused:
		return slots.NewConfusedFallback()

	default: // OutcomeGenericClarify, including the degraded path
		rec := slots.New()
		rec.Intent = slots.IntentClarify
		rec.ClarificationNeeded = true
		question := outcome.Question
		if question == "" {
			question = retrieval.GenericClarifyQuestion
		}
		rec.RetrieverSuggestion = &question
		if outcome.Category != "" {
			category := outcome.Category
			rec.MatchedCategory = &category
		}
		return rec
	}
}

// =============================================================================
// Heuristics
// =============================================================================

// isOffTopic reports whether the query is outside the vehicle-search
// domain: a bare greeting, or a query with no vehicle keyword, no
// vocabulary mention, no digit and no currency mark.
func isOffTopic(query string, voc *vocab.Vocabulary) bool {
	lower := strings.ToLower(strings.TrimFunc(query, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
	if lower == "" {
		return false // let the pipeline ask for clarification instead
	}
	if greetings[lower] {
		return true
	}

	for _, r := range lower {
		if unicode.IsDigit(r) {
			return false
		}
	}
	if strings.ContainsAny(lower, "€$£") {
		return false
	}
	for _, kw := range carKeywords {
		if containsWord(lower, kw) {
			return false
		}
	}
	for _, category := range []*vocab.Category{voc.Makes, voc.FuelTypes, voc.VehicleTypes, voc.Transmissions} {
		for _, surface := range category.Surfaces() {
			if containsWord(lower, surface) {
				return false
			}
		}
	}
	return true
}

// hasAssistantTurn reports whether the history contains an assistant
// message, the weak signal that this turn answers something we said.
func hasAssistantTurn(history []slots.Turn) bool {
	for _, t := range history {
		if t.Role == "assistant" {
			return true
		}
	}
	return false
}

// containsWord is a whole-word containment check over lower-cased text.
func containsWord(haystack, needle string) bool {
	from := 0
	for {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
