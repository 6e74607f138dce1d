// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

// runMerge is the common path: extract terms from the query, then merge.
func runMerge(t *testing.T, normalized *slots.SlotRecord, query string, cctx *slots.ConversationContext) *slots.SlotRecord {
	t.Helper()
	ts := ExtractTerms(query, vocab.MustDefault())
	out := Merge(context.Background(), normalized, ts, query, cctx)
	if out == nil {
		t.Fatal("Merge returned nil")
	}
	return out
}

func TestMergePureRejection(t *testing.T) {
	// "no toyota please": the model labels a fresh-sounding message
	// new_query, but a pure rejection references an existing search.
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.ExplicitlyNegatedMakes = []string{"Toyota"}

	out := runMerge(t, normalized, "no toyota please", nil)

	if out.Intent != slots.IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria", out.Intent)
	}
	if len(out.PreferredMakes) != 0 {
		t.Errorf("preferredMakes = %v, want empty on pure rejection", out.PreferredMakes)
	}
	if len(out.ExplicitlyNegatedMakes) != 1 || out.ExplicitlyNegatedMakes[0] != "Toyota" {
		t.Errorf("explicitlyNegatedMakes = %v, want [Toyota]", out.ExplicitlyNegatedMakes)
	}
}

func TestMergeMixedPositivesAndNegation(t *testing.T) {
	// Positives plus a negation in one utterance. Even if the model leaks
	// the rejected make into the preferred list, the merge removes it.
	query := "I like Honda and BMW, but no toyota please. Max price is 30k"
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"Honda", "BMW", "Toyota"}
	normalized.ExplicitlyNegatedMakes = []string{"Toyota"}
	normalized.MaxPrice = f(30000)

	out := runMerge(t, normalized, query, nil)

	if out.Intent != slots.IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria (negation demotes new_query)", out.Intent)
	}
	if len(out.PreferredMakes) != 2 {
		t.Fatalf("preferredMakes = %v, want [Honda BMW]", out.PreferredMakes)
	}
	for _, m := range out.PreferredMakes {
		if m == "Toyota" {
			t.Error("rejected make leaked into preferredMakes")
		}
	}
	if out.MaxPrice == nil || *out.MaxPrice != 30000 {
		t.Errorf("maxPrice = %v, want 30000 (grounded by the utterance)", out.MaxPrice)
	}
}

func TestMergeDisjointness(t *testing.T) {
	query := "honda is good but not toyota"
	normalized := slots.New()
	normalized.Intent = slots.IntentRefineCriteria
	normalized.PreferredMakes = []string{"Honda", "Toyota"}

	out := runMerge(t, normalized, query, nil)

	negated := map[string]bool{}
	for _, m := range out.ExplicitlyNegatedMakes {
		negated[m] = true
	}
	for _, m := range out.PreferredMakes {
		if negated[m] {
			t.Errorf("%q appears in both preferred and negated makes", m)
		}
	}
	if !negated["Toyota"] {
		t.Errorf("negated = %v, want Toyota", out.ExplicitlyNegatedMakes)
	}
}

func TestMergeCarryOver(t *testing.T) {
	// A short follow-up: the confirmed make carries over and the new bound
	// lands alongside it.
	normalized := slots.New()
	normalized.Intent = slots.IntentClarify
	normalized.MaxPrice = f(20000)
	cctx := &slots.ConversationContext{ConfirmedMakes: []string{"Toyota"}}

	out := runMerge(t, normalized, "under 20000", cctx)

	if len(out.PreferredMakes) != 1 || out.PreferredMakes[0] != "Toyota" {
		t.Errorf("preferredMakes = %v, want carried-over [Toyota]", out.PreferredMakes)
	}
	if out.MaxPrice == nil || *out.MaxPrice != 20000 {
		t.Errorf("maxPrice = %v, want 20000", out.MaxPrice)
	}
}

func TestMergeScalarCarryOver(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentAddCriteria
	normalized.MaxMileage = i(80000)
	cctx := &slots.ConversationContext{
		ConfirmedMaxPrice: f(15000),
		ConfirmedMinYear:  i(2018),
	}

	out := runMerge(t, normalized, "with less than 80000 km on the clock", cctx)

	if out.MaxMileage == nil || *out.MaxMileage != 80000 {
		t.Errorf("maxMileage = %v, want 80000", out.MaxMileage)
	}
	if out.MaxPrice == nil || *out.MaxPrice != 15000 {
		t.Errorf("maxPrice = %v, want carried-over 15000", out.MaxPrice)
	}
	if out.MinYear == nil || *out.MinYear != 2018 {
		t.Errorf("minYear = %v, want carried-over 2018", out.MinYear)
	}
}

func TestMergeNewQueryDiscardsContext(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"Honda"}
	cctx := &slots.ConversationContext{
		ConfirmedMakes:    []string{"Toyota"},
		ConfirmedMaxPrice: f(15000),
	}

	out := runMerge(t, normalized, "actually, show me a honda instead", cctx)

	if len(out.PreferredMakes) != 1 || out.PreferredMakes[0] != "Honda" {
		t.Errorf("preferredMakes = %v, want [Honda] only on new_query", out.PreferredMakes)
	}
	if out.MaxPrice != nil {
		t.Errorf("maxPrice = %v, want nil: new_query drops confirmed scalars", *out.MaxPrice)
	}
}

func TestMergeHallucinationSuppression(t *testing.T) {
	// The model invents a mileage bound the user never mentioned. No
	// mileage keyword in the utterance means the value is discarded.
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"Honda"}
	normalized.MaxMileage = i(50000)

	out := runMerge(t, normalized, "show me a honda", nil)

	if out.MaxMileage != nil {
		t.Errorf("maxMileage = %v, want nil for an ungrounded value", *out.MaxMileage)
	}
	if len(out.PreferredMakes) != 1 || out.PreferredMakes[0] != "Honda" {
		t.Errorf("preferredMakes = %v, want [Honda]", out.PreferredMakes)
	}
}

func TestMergeNegationThisTurnOnly(t *testing.T) {
	// A previously rejected make must not reappear in the negated output of
	// a later turn that does not restate it.
	normalized := slots.New()
	normalized.Intent = slots.IntentRefineCriteria
	normalized.MaxPrice = f(10000)
	cctx := &slots.ConversationContext{RejectedMakes: []string{"Fiat"}}

	out := runMerge(t, normalized, "budget of 10000", cctx)

	if len(out.ExplicitlyNegatedMakes) != 0 {
		t.Errorf("explicitlyNegatedMakes = %v, want empty: negations are per-turn", out.ExplicitlyNegatedMakes)
	}
}

func TestMergeInvertedBoundsGuardrail(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.MinPrice = f(40000)
	normalized.MaxPrice = f(20000)

	out := runMerge(t, normalized, "price between 40000 and max 20000", nil)

	if out.Intent != slots.IntentConfusedFallback {
		t.Fatalf("intent = %q, want CONFUSED_FALLBACK on inverted bounds", out.Intent)
	}
	if !out.ClarificationNeeded {
		t.Error("confused fallback must request clarification")
	}
	if out.MinPrice != nil || out.MaxPrice != nil {
		t.Error("confused fallback must not keep the contradictory bounds")
	}
}

func TestMergeLuxuryGuardrail(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"BMW"}
	normalized.MaxPrice = f(1500)

	out := runMerge(t, normalized, "a bmw under 1500", nil)

	if out.Intent != slots.IntentConfusedFallback {
		t.Fatalf("intent = %q, want CONFUSED_FALLBACK for a luxury make at that price", out.Intent)
	}
}

func TestMergeLuxuryGuardrailNotOvereager(t *testing.T) {
	// Cheap but plausible: a non-luxury make at the same price passes.
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"Mazda"}
	normalized.MaxPrice = f(1500)

	out := runMerge(t, normalized, "a mazda under 1500", nil)
	if out.Intent == slots.IntentConfusedFallback {
		t.Error("guardrail fired for a plausible cheap search")
	}
}

func TestMergeSufficiencyOverride(t *testing.T) {
	// The model asks for clarification, but the record already says what to
	// search for and how to bound it.
	normalized := slots.New()
	normalized.Intent = slots.IntentNewQuery
	normalized.PreferredMakes = []string{"Honda"}
	normalized.MaxPrice = f(20000)
	normalized.ClarificationNeeded = true
	normalized.ClarificationNeededFor = []string{"year"}

	out := runMerge(t, normalized, "a honda under 20000", nil)

	if out.ClarificationNeeded {
		t.Error("sufficiency override should clear the clarification request")
	}
	if len(out.ClarificationNeededFor) != 0 {
		t.Errorf("clarificationNeededFor = %v, want empty", out.ClarificationNeededFor)
	}
}

func TestMergeIndifferenceOverride(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentClarify
	normalized.ClarificationNeeded = true
	normalized.ClarificationNeededFor = []string{"transmission"}

	out := runMerge(t, normalized, "i don't care about the transmission", nil)

	if len(out.ClarificationNeededFor) != 0 {
		t.Errorf("clarificationNeededFor = %v, want the waved-off entry removed", out.ClarificationNeededFor)
	}
	if out.ClarificationNeeded {
		t.Error("clarification flag should clear once nothing is left to ask")
	}
}

func TestMergeIndifferencePreservesOtherNeeds(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentClarify
	normalized.ClarificationNeeded = true
	normalized.ClarificationNeededFor = []string{"transmission", "price"}

	out := runMerge(t, normalized, "i don't care about the transmission", nil)

	if len(out.ClarificationNeededFor) != 1 || out.ClarificationNeededFor[0] != "price" {
		t.Errorf("clarificationNeededFor = %v, want [price]", out.ClarificationNeededFor)
	}
	if !out.ClarificationNeeded {
		t.Error("clarification flag must survive while a need remains")
	}
}

func TestMergeDeterministic(t *testing.T) {
	query := "I like Honda and BMW, but no toyota please. Max price is 30k"
	build := func() *slots.SlotRecord {
		normalized := slots.New()
		normalized.Intent = slots.IntentNewQuery
		normalized.PreferredMakes = []string{"Honda", "BMW"}
		normalized.ExplicitlyNegatedMakes = []string{"Toyota"}
		normalized.MaxPrice = f(30000)
		return runMerge(t, normalized, query, nil)
	}

	a, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("merge is not deterministic:\n%s\n%s", a, b)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	normalized := slots.New()
	normalized.Intent = slots.IntentRefineCriteria
	normalized.PreferredMakes = []string{"Honda"}
	cctx := &slots.ConversationContext{ConfirmedMakes: []string{"Toyota"}}

	_ = runMerge(t, normalized, "also a honda please", cctx)

	if len(normalized.PreferredMakes) != 1 || normalized.PreferredMakes[0] != "Honda" {
		t.Errorf("normalized record mutated: %v", normalized.PreferredMakes)
	}
	if len(cctx.ConfirmedMakes) != 1 || cctx.ConfirmedMakes[0] != "Toyota" {
		t.Errorf("context mutated: %v", cctx.ConfirmedMakes)
	}
}
