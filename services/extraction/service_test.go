// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/autotrader/services/extraction/intent"
	"github.com/AleutianAI/autotrader/services/extraction/llmx"
	"github.com/AleutianAI/autotrader/services/extraction/retrieval"
	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// =============================================================================
// Stubs
// =============================================================================

// stubEmbedder maps exact texts to vectors; unknown texts error.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

func (s *stubEmbedder) Model() string { return "stub-model" }

// stubGenerator answers with the response registered for whichever query
// substring appears in the prompt. Unmatched prompts error, simulating a
// provider failure.
type stubGenerator struct {
	responses map[string]string
	failAll   bool
}

func (s *stubGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	if s.failAll {
		return "", fmt.Errorf("generation provider down")
	}
	for query, resp := range s.responses {
		if strings.Contains(prompt, query) {
			return resp, nil
		}
	}
	return "", fmt.Errorf("no stub response matches prompt")
}

// =============================================================================
// Fixture
// =============================================================================

// Test embedding space, four axes:
//
//	0: SPECIFIC_SEARCH label    2: family_suv category
//	1: VAGUE_INQUIRY label      3: budget_city_car category
var serviceCatalog = []retrieval.CatalogEntry{
	{Name: "family_suv", Description: "family suv description", Question: "How many seats do you need?"},
	{Name: "budget_city_car", Description: "budget city description", Question: "What's your budget?"},
}

func newTestService(t *testing.T, queryVectors map[string][]float32, gen llmx.Generator) *Service {
	t.Helper()
	vectors := map[string][]float32{
		intent.Labels[0].Description: {1, 0, 0, 0},
		intent.Labels[1].Description: {0, 1, 0, 0},
		"family suv description":     {0, 0, 1, 0},
		"budget city description":    {0, 0, 0, 1},
	}
	for q, v := range queryVectors {
		vectors[q] = v
	}
	embedder := &stubEmbedder{vectors: vectors}
	voc := vocab.MustDefault()

	classifier := intent.NewClassifier(embedder, nil, nil)
	matcher := retrieval.NewMatcher(serviceCatalog, voc, embedder, nil, nil)
	extractor := llmx.NewClient(gen, []string{"test-model"}, voc, nil)

	svc := NewService(voc, classifier, matcher, extractor, nil)
	svc.Warm(context.Background())
	return svc
}

func process(t *testing.T, svc *Service, req *ParametersRequest) *slots.SlotRecord {
	t.Helper()
	rec := svc.Process(context.Background(), req)
	if rec == nil {
		t.Fatal("Process returned nil")
	}
	return rec
}

// =============================================================================
// Routing Paths
// =============================================================================

func TestProcessPureNegation(t *testing.T) {
	query := "no toyota please"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"explicitlyNegatedMakes": ["Toyota"], "intent": "new_query"}`,
	}}
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, gen)

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent != slots.IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria", rec.Intent)
	}
	if len(rec.PreferredMakes) != 0 {
		t.Errorf("preferredMakes = %v, want empty", rec.PreferredMakes)
	}
	if len(rec.ExplicitlyNegatedMakes) != 1 || rec.ExplicitlyNegatedMakes[0] != "Toyota" {
		t.Errorf("explicitlyNegatedMakes = %v, want [Toyota]", rec.ExplicitlyNegatedMakes)
	}
}

func TestProcessMixedPositivesAndNegation(t *testing.T) {
	query := "I like Honda and BMW, but no toyota please. Max price is 30k"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"preferredMakes": ["Honda", "BMW"], "explicitlyNegatedMakes": ["Toyota"], "maxPrice": 30000, "intent": "new_query"}`,
	}}
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, gen)

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent != slots.IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria", rec.Intent)
	}
	if len(rec.PreferredMakes) != 2 {
		t.Fatalf("preferredMakes = %v, want [Honda BMW]", rec.PreferredMakes)
	}
	if rec.MaxPrice == nil || *rec.MaxPrice != 30000 {
		t.Errorf("maxPrice = %v, want 30000", rec.MaxPrice)
	}
	for _, m := range rec.PreferredMakes {
		if m == "Toyota" {
			t.Error("rejected make leaked into preferredMakes")
		}
	}
}

func TestProcessOffTopic(t *testing.T) {
	svc := newTestService(t, nil, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{Query: "What's the weather like today?"})

	if rec.Intent != slots.IntentOffTopic {
		t.Errorf("intent = %q, want OFF_TOPIC", rec.Intent)
	}
	if !rec.IsOffTopic {
		t.Error("isOffTopic flag not set")
	}
	if rec.OffTopicResponse == nil || *rec.OffTopicResponse == "" {
		t.Error("off-topic response message missing")
	}
}

func TestProcessGreeting(t *testing.T) {
	svc := newTestService(t, nil, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{Query: "Hello!"})
	if rec.Intent != slots.IntentOffTopic {
		t.Errorf("intent = %q, want OFF_TOPIC for a bare greeting", rec.Intent)
	}
}

func TestProcessContextualFollowUp(t *testing.T) {
	// An answer to a pending question: extraction is forced into clarify,
	// confirmed context carries over, and the service never re-asks.
	query := "under 20000"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"maxPrice": 20000, "clarificationNeeded": true, "clarificationNeededFor": ["year"], "intent": "new_query"}`,
	}}
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, gen)

	rec := process(t, svc, &ParametersRequest{
		Query:           query,
		IsFollowUpQuery: true,
		ConfirmedContext: &slots.ConversationContext{
			ConfirmedMakes: []string{"Toyota"},
		},
	})

	if rec.Intent != slots.IntentClarify {
		t.Errorf("intent = %q, want clarify", rec.Intent)
	}
	if len(rec.PreferredMakes) != 1 || rec.PreferredMakes[0] != "Toyota" {
		t.Errorf("preferredMakes = %v, want carried-over [Toyota]", rec.PreferredMakes)
	}
	if rec.MaxPrice == nil || *rec.MaxPrice != 20000 {
		t.Errorf("maxPrice = %v, want 20000", rec.MaxPrice)
	}
	if rec.ClarificationNeeded {
		t.Error("follow-up handling must not re-ask for clarification")
	}
}

func TestProcessImplausibleRecordGuardrail(t *testing.T) {
	query := "I want a BMW but my max price is 1000 euros"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"preferredMakes": ["BMW"], "maxPrice": 1000, "intent": "new_query"}`,
	}}
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, gen)

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent != slots.IntentConfusedFallback {
		t.Fatalf("intent = %q, want CONFUSED_FALLBACK", rec.Intent)
	}
	if !rec.ClarificationNeeded {
		t.Error("confused fallback must request clarification")
	}
	if rec.RetrieverSuggestion == nil || *rec.RetrieverSuggestion == "" {
		t.Error("confused fallback must carry a restate message")
	}
}

// =============================================================================
// Vague Path
// =============================================================================

func TestProcessVagueHighConfidence(t *testing.T) {
	query := "i need a car for the family"
	svc := newTestService(t, map[string][]float32{
		// Vague label wins; strong cosine against family_suv.
		query: {0, 0.3, 0.95, 0},
	}, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent != slots.IntentClarify {
		t.Errorf("intent = %q, want clarify", rec.Intent)
	}
	if !rec.ClarificationNeeded {
		t.Error("high-confidence match must ask the category question")
	}
	if rec.RetrieverSuggestion == nil || *rec.RetrieverSuggestion != "How many seats do you need?" {
		t.Errorf("retrieverSuggestion = %v, want the category question", rec.RetrieverSuggestion)
	}
	if rec.MatchedCategory == nil || *rec.MatchedCategory != "family_suv" {
		t.Errorf("matchedCategory = %v, want family_suv", rec.MatchedCategory)
	}
}

func TestProcessVagueModerateFollowUpDirectExtraction(t *testing.T) {
	// Moderate-band match on a follow-up turn: the narrow regex path
	// produces the record without any generative call.
	query := "under 15000"
	svc := newTestService(t, map[string][]float32{
		// vague≈0.74, family≈0.68: moderate band.
		query: {0, 0.6, 0.55, 0},
	}, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{
		Query:             query,
		LastQuestionAsked: "What's your budget?",
	})

	if rec.MaxPrice == nil || *rec.MaxPrice != 15000 {
		t.Fatalf("maxPrice = %v, want 15000 from direct extraction", rec.MaxPrice)
	}
	if rec.Intent != slots.IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria", rec.Intent)
	}
	if rec.MatchedCategory == nil || *rec.MatchedCategory != "family_suv" {
		t.Errorf("matchedCategory = %v, want family_suv", rec.MatchedCategory)
	}
}

func TestProcessVagueConfused(t *testing.T) {
	query := "a vehicle of pure vibes"
	svc := newTestService(t, map[string][]float32{
		// Vague label wins; nothing in the catalog resembles it.
		query: {0, 0.5, 0.1, 0.1},
	}, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent != slots.IntentConfusedFallback {
		t.Fatalf("intent = %q, want CONFUSED_FALLBACK", rec.Intent)
	}
}

// =============================================================================
// Degradation
// =============================================================================

func TestProcessHeuristicFallbackWhenGeneratorDown(t *testing.T) {
	// Every model fails: negation and positive mentions still come through
	// the string heuristics.
	query := "a honda but no toyota"
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, &stubGenerator{failAll: true})

	rec := process(t, svc, &ParametersRequest{Query: query})

	if rec.Intent == slots.IntentError {
		t.Fatal("generator failure must not surface as an error record")
	}
	if len(rec.ExplicitlyNegatedMakes) != 1 || rec.ExplicitlyNegatedMakes[0] != "Toyota" {
		t.Errorf("explicitlyNegatedMakes = %v, want [Toyota]", rec.ExplicitlyNegatedMakes)
	}
	if len(rec.PreferredMakes) != 1 || rec.PreferredMakes[0] != "Honda" {
		t.Errorf("preferredMakes = %v, want [Honda]", rec.PreferredMakes)
	}
}

func TestProcessDegradedClassifierDefaultsToSpecific(t *testing.T) {
	// The embedder knows no texts at all: warm-up fails, classification
	// degrades, and the request takes the specific-search path.
	query := "show me a honda"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"preferredMakes": ["Honda"], "intent": "new_query"}`,
	}}
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	voc := vocab.MustDefault()
	svc := NewService(
		voc,
		intent.NewClassifier(embedder, nil, nil),
		retrieval.NewMatcher(serviceCatalog, voc, embedder, nil, nil),
		llmx.NewClient(gen, []string{"test-model"}, voc, nil),
		nil,
	)
	svc.Warm(context.Background())

	if svc.Ready() {
		t.Error("service should report not ready with failed warm-up")
	}

	rec := process(t, svc, &ParametersRequest{Query: query})
	if len(rec.PreferredMakes) != 1 || rec.PreferredMakes[0] != "Honda" {
		t.Errorf("preferredMakes = %v, want [Honda] via the specific path", rec.PreferredMakes)
	}
}

func TestProcessRecoversFromPanic(t *testing.T) {
	// A nil vocabulary blows up deep inside the pipeline; the request must
	// still come back as the uniform error record.
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	svc := NewService(
		nil,
		intent.NewClassifier(embedder, nil, nil),
		retrieval.NewMatcher(serviceCatalog, nil, embedder, nil, nil),
		llmx.NewClient(&stubGenerator{failAll: true}, []string{"test-model"}, nil, nil),
		nil,
	)

	rec := process(t, svc, &ParametersRequest{Query: "bmw under 20000"})
	if rec.Intent != slots.IntentError {
		t.Errorf("intent = %q, want error after pipeline panic", rec.Intent)
	}
}

func TestProcessDeterministic(t *testing.T) {
	query := "I like Honda and BMW, but no toyota please. Max price is 30k"
	gen := &stubGenerator{responses: map[string]string{
		query: `{"preferredMakes": ["Honda", "BMW"], "explicitlyNegatedMakes": ["Toyota"], "maxPrice": 30000, "intent": "new_query"}`,
	}}
	svc := newTestService(t, map[string][]float32{query: {1, 0, 0, 0}}, gen)

	req := &ParametersRequest{Query: query}
	a, err := json.Marshal(process(t, svc, req))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(process(t, svc, req))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("identical requests produced different records:\n%s\n%s", a, b)
	}
}
