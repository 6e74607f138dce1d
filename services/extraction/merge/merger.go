// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge combines a normalized single-turn extraction with
// caller-supplied conversation context and the term-extractor output.
//
// This is where the pipeline's trust decisions live: an extracted scalar is
// kept only when the utterance contains keywords that could have produced
// it (hallucination suppression), negations beat everything for list
// fields, and a handful of overrides (sufficiency, indifference,
// plausibility) run after the field-level merge. The merger is a pure
// function over its inputs; it never mutates the context or the normalized
// record it receives.
package merge

import (
	"context"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/terms"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// =============================================================================
// Grounding Keyword Sets
// =============================================================================

// Scalar grounding: an extracted value survives only when the utterance
// contains at least one keyword from its field's set. Symbols and currency
// marks match as substrings; words match whole-word.
var (
	priceKeywords = keywordSet{
		words:   []string{"price", "prices", "budget", "cost", "costs", "under", "over", "cheap", "cheaper", "affordable", "expensive", "spend", "pay", "max", "min", "k", "euro", "euros", "eur", "dollars", "grand"},
		symbols: []string{"€", "$", "£"},
	}
	yearKeywords = keywordSet{
		words: []string{"year", "years", "newer", "older", "new", "recent", "model", "reg", "registered", "before", "after", "since", "from"},
	}
	mileageKeywords = keywordSet{
		words: []string{"mileage", "miles", "mile", "km", "kms", "kilometers", "kilometres", "odometer", "clock", "driven"},
	}
	transmissionKeywords = keywordSet{
		words: []string{"transmission", "automatic", "auto", "manual", "gearbox", "gear", "gears", "stick", "shift"},
	}
	engineKeywords = keywordSet{
		words: []string{"engine", "liter", "liters", "litre", "litres", "cc", "displacement"},
	}
	horsepowerKeywords = keywordSet{
		words: []string{"horsepower", "hp", "bhp", "ps", "power", "powerful", "fast", "quick"},
	}
	fuelKeywords = keywordSet{
		words: []string{"fuel", "petrol", "diesel", "electric", "hybrid", "gas", "gasoline", "ev"},
	}
	makeKeywords = keywordSet{
		words: []string{"make", "makes", "brand", "brands", "manufacturer", "manufacturers"},
	}
	vehicleTypeKeywords = keywordSet{
		words: []string{"body", "type", "style", "suv", "sedan", "saloon", "hatchback", "coupe", "convertible", "wagon", "estate", "van", "truck", "pickup"},
	}
)

// yearDigitsRe grounds year fields: a literal four-digit year in the
// utterance counts as year keywords.
var yearDigitsRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

type keywordSet struct {
	words   []string
	symbols []string
}

// matches reports whether the lower-cased utterance contains any keyword.
func (k keywordSet) matches(lower string) bool {
	for _, sym := range k.symbols {
		if strings.Contains(lower, sym) {
			return true
		}
	}
	for _, w := range k.words {
		if containsWholeWord(lower, w) {
			return true
		}
	}
	return false
}

// =============================================================================
// Indifference Phrases
// =============================================================================

// indifferencePhrases signal the user does not care about some parameter.
var indifferencePhrases = []string{
	"don't care",
	"dont care",
	"doesn't matter",
	"doesnt matter",
	"don't mind",
	"dont mind",
	"no preference",
	"any is fine",
	"anything is fine",
	"whatever",
	"not fussy",
	"not bothered",
}

// clarificationCategories maps a clarificationNeededFor entry onto the
// keyword set that detects indifference toward it.
var clarificationCategories = map[string]keywordSet{
	"price":        priceKeywords,
	"budget":       priceKeywords,
	"year":         yearKeywords,
	"mileage":      mileageKeywords,
	"transmission": transmissionKeywords,
	"engine":       engineKeywords,
	"horsepower":   horsepowerKeywords,
	"fuel":         fuelKeywords,
	"make":         makeKeywords,
	"brand":        makeKeywords,
	"manufacturer": makeKeywords,
	"body":         vehicleTypeKeywords,
	"type":         vehicleTypeKeywords,
	"style":        vehicleTypeKeywords,
}

// =============================================================================
// Plausibility Guardrail
// =============================================================================

// luxuryMakes paired with an unrealistically low price ceiling trip the
// guardrail. Canonical casing.
var luxuryMakes = map[string]bool{
	"BMW":      true,
	"Mercedes": true,
	"Audi":     true,
	"Tesla":    true,
}

// luxuryPriceFloor is the maxPrice below which a luxury-make search is
// treated as implausible rather than merely ambitious.
const luxuryPriceFloor = 2000.0

// =============================================================================
// Metrics
// =============================================================================

var mergeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autotrader",
	Subsystem: "merge",
	Name:      "merge_total",
	Help:      "Context merges by outcome: ok, guardrail",
}, []string{"outcome"})

var tracer = otel.Tracer("autotrader.extraction.merge")

// =============================================================================
// Term Sets
// =============================================================================

// TermSets is the term-extractor output for one utterance, per category.
// All slices are canonical-cased and never nil.
type TermSets struct {
	NegatedMakes        []string
	NegatedVehicleTypes []string
	NegatedFuelTypes    []string

	PositiveMakes        []string
	PositiveVehicleTypes []string
	PositiveFuelTypes    []string
}

// ExtractTerms runs negation and positive detection over the utterance for
// every closed category.
func ExtractTerms(query string, voc *vocab.Vocabulary) TermSets {
	ts := TermSets{
		NegatedMakes:        terms.FindNegated(query, voc.Makes),
		NegatedVehicleTypes: terms.FindNegated(query, voc.VehicleTypes),
		NegatedFuelTypes:    terms.FindNegated(query, voc.FuelTypes),
	}
	ts.PositiveMakes = terms.FindPositive(query, voc.Makes, ts.NegatedMakes)
	ts.PositiveVehicleTypes = terms.FindPositive(query, voc.VehicleTypes, ts.NegatedVehicleTypes)
	ts.PositiveFuelTypes = terms.FindPositive(query, voc.FuelTypes, ts.NegatedFuelTypes)
	return ts
}

// hasNegation reports whether any category has a negated term this turn.
func (ts TermSets) hasNegation() bool {
	return len(ts.NegatedMakes)+len(ts.NegatedVehicleTypes)+len(ts.NegatedFuelTypes) > 0
}

// hasPositive reports whether any category has a positive mention this turn.
func (ts TermSets) hasPositive() bool {
	return len(ts.PositiveMakes)+len(ts.PositiveVehicleTypes)+len(ts.PositiveFuelTypes) > 0
}

// =============================================================================
// Merge
// =============================================================================

// Merge combines a normalized single-turn extraction with conversation
// context and the term-extractor output into the final SlotRecord.
//
// # Description
//
// The merge runs in a fixed order: intent resolution (negation overrides),
// scalar fields (keyword grounding, then context carry-over), list fields
// (intent-dependent union/difference with negation precedence), negated
// outputs (this turn only), features, the sufficiency and indifference
// overrides, and finally the plausibility guardrail — which, when it fires,
// discards everything and returns the confused-fallback record.
//
// # Inputs
//
//   - ctx: Context for tracing only; the merge itself never blocks.
//   - normalized: Validator output for this turn. Must not be nil. Not mutated.
//   - ts: Term-extractor output for the utterance.
//   - query: The raw utterance, for keyword grounding.
//   - cctx: Confirmed/rejected context. May be nil. Never mutated.
//
// # Outputs
//
//   - *SlotRecord: The merged record, or the confused fallback. Never nil.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Merge(ctx context.Context, normalized *slots.SlotRecord, ts TermSets, query string, cctx *slots.ConversationContext) *slots.SlotRecord {
	_, span := tracer.Start(ctx, "merge.Merge")
	defer span.End()

	lower := strings.ToLower(query)
	out := slots.New()

	// Intent first; list merging depends on it. A negation inherently
	// references an existing search, so it demotes new_query, and a pure
	// negation (no positive mention anywhere) forces refine_criteria no
	// matter what the model said.
	intent := normalized.Intent
	if ts.hasNegation() {
		if !ts.hasPositive() || intent == slots.IntentNewQuery {
			intent = slots.IntentRefineCriteria
		}
	}
	out.Intent = intent
	carryScalars := intent == slots.IntentRefineCriteria ||
		intent == slots.IntentClarify ||
		intent == slots.IntentAddCriteria

	// Scalars: grounded extraction wins, then context carry-over, else null.
	yearGrounded := yearKeywords.matches(lower) || yearDigitsRe.MatchString(lower)
	out.MinPrice = mergeFloat(normalized.MinPrice, confirmedOrNilF(cctx, func(c *slots.ConversationContext) *float64 { return c.ConfirmedMinPrice }), priceKeywords.matches(lower), carryScalars)
	out.MaxPrice = mergeFloat(normalized.MaxPrice, confirmedOrNilF(cctx, func(c *slots.ConversationContext) *float64 { return c.ConfirmedMaxPrice }), priceKeywords.matches(lower), carryScalars)
	out.MinYear = mergeInt(normalized.MinYear, confirmedOrNilI(cctx, func(c *slots.ConversationContext) *int { return c.ConfirmedMinYear }), yearGrounded, carryScalars)
	out.MaxYear = mergeInt(normalized.MaxYear, confirmedOrNilI(cctx, func(c *slots.ConversationContext) *int { return c.ConfirmedMaxYear }), yearGrounded, carryScalars)
	out.MaxMileage = mergeInt(normalized.MaxMileage, confirmedOrNilI(cctx, func(c *slots.ConversationContext) *int { return c.ConfirmedMaxMileage }), mileageKeywords.matches(lower), carryScalars)
	out.MinEngineSize = mergeFloat(normalized.MinEngineSize, confirmedOrNilF(cctx, func(c *slots.ConversationContext) *float64 { return c.ConfirmedMinEngineSize }), engineKeywords.matches(lower), carryScalars)
	out.MaxEngineSize = mergeFloat(normalized.MaxEngineSize, confirmedOrNilF(cctx, func(c *slots.ConversationContext) *float64 { return c.ConfirmedMaxEngineSize }), engineKeywords.matches(lower), carryScalars)
	out.MinHorsepower = mergeInt(normalized.MinHorsepower, confirmedOrNilI(cctx, func(c *slots.ConversationContext) *int { return c.ConfirmedMinHorsepower }), horsepowerKeywords.matches(lower), carryScalars)
	out.MaxHorsepower = mergeInt(normalized.MaxHorsepower, confirmedOrNilI(cctx, func(c *slots.ConversationContext) *int { return c.ConfirmedMaxHorsepower }), horsepowerKeywords.matches(lower), carryScalars)

	if normalized.Transmission != nil && transmissionKeywords.matches(lower) {
		out.Transmission = copyString(normalized.Transmission)
	} else if carryScalars && cctx != nil && cctx.ConfirmedTransmission != nil {
		out.Transmission = copyString(cctx.ConfirmedTransmission)
	}

	// Negated outputs reflect this turn only; cross-turn accumulation is
	// the caller's job via rejectedContext. The model's own this-turn
	// negations are folded in alongside the string heuristic's.
	out.ExplicitlyNegatedMakes = union(ts.NegatedMakes, normalized.ExplicitlyNegatedMakes)
	out.ExplicitlyNegatedVehicleTypes = union(ts.NegatedVehicleTypes, normalized.ExplicitlyNegatedVehicleTypes)
	out.ExplicitlyNegatedFuelTypes = union(ts.NegatedFuelTypes, normalized.ExplicitlyNegatedFuelTypes)

	out.PreferredMakes = mergeList(intent, normalized.PreferredMakes, ts.PositiveMakes, confirmedList(cctx, func(c *slots.ConversationContext) []string { return c.ConfirmedMakes }), out.ExplicitlyNegatedMakes)
	out.PreferredVehicleTypes = mergeList(intent, normalized.PreferredVehicleTypes, ts.PositiveVehicleTypes, confirmedList(cctx, func(c *slots.ConversationContext) []string { return c.ConfirmedVehicleTypes }), out.ExplicitlyNegatedVehicleTypes)
	out.PreferredFuelTypes = mergeList(intent, normalized.PreferredFuelTypes, ts.PositiveFuelTypes, confirmedList(cctx, func(c *slots.ConversationContext) []string { return c.ConfirmedFuelTypes }), out.ExplicitlyNegatedFuelTypes)

	// Features accumulate; no negation semantics defined for them.
	out.DesiredFeatures = union(confirmedList(cctx, func(c *slots.ConversationContext) []string { return c.ConfirmedFeatures }), normalized.DesiredFeatures)

	out.ClarificationNeeded = normalized.ClarificationNeeded
	out.ClarificationNeededFor = append([]string{}, normalized.ClarificationNeededFor...)
	out.IsOffTopic = normalized.IsOffTopic
	out.OffTopicResponse = copyString(normalized.OffTopicResponse)
	out.RetrieverSuggestion = copyString(normalized.RetrieverSuggestion)
	out.MatchedCategory = copyString(normalized.MatchedCategory)

	applySufficiencyOverride(out)
	hadNeeds := len(out.ClarificationNeededFor) > 0
	out.ClarificationNeededFor = removeIndifferent(lower, out.ClarificationNeededFor)
	if hadNeeds && len(out.ClarificationNeededFor) == 0 {
		// Indifference answered everything we would have asked about.
		out.ClarificationNeeded = false
	}

	if reason := implausible(out); reason != "" {
		span.SetAttributes(attribute.String("guardrail", reason))
		mergeTotal.WithLabelValues("guardrail").Inc()
		return slots.NewConfusedFallback()
	}

	span.SetAttributes(attribute.String("intent", out.Intent))
	mergeTotal.WithLabelValues("ok").Inc()
	return out
}

// =============================================================================
// Field-Level Rules
// =============================================================================

// mergeFloat applies the scalar rule: grounded extraction, then carry-over,
// else null. An ungrounded extracted value is discarded as a likely
// hallucination.
func mergeFloat(extracted, confirmed *float64, grounded, carry bool) *float64 {
	if extracted != nil && grounded {
		v := *extracted
		return &v
	}
	if carry && confirmed != nil {
		v := *confirmed
		return &v
	}
	return nil
}

func mergeInt(extracted, confirmed *int, grounded, carry bool) *int {
	if extracted != nil && grounded {
		v := *extracted
		return &v
	}
	if carry && confirmed != nil {
		v := *confirmed
		return &v
	}
	return nil
}

// mergeList applies the list rule for one category.
//
// A new_query supersedes history: the merged list is exactly this turn's
// positive mentions. Otherwise the merged list unions the model's
// extraction, this turn's positive mentions and the confirmed context,
// minus this turn's negations. One special case: negations for the category
// with zero positive mentions anywhere in the utterance mean pure
// rejection, and the merged list empties regardless of context.
func mergeList(intent string, extracted, positives, confirmed, negated []string) []string {
	if len(negated) > 0 && len(positives) == 0 {
		return []string{}
	}
	if intent == slots.IntentNewQuery {
		return subtract(union(positives, nil), negated)
	}
	return subtract(union(union(extracted, positives), confirmed), negated)
}

// applySufficiencyOverride clears a clarification request when the merged
// record already identifies what to search for (a make or body style) and
// how to bound it (any scalar constraint or a fuel type).
func applySufficiencyOverride(r *slots.SlotRecord) {
	if !r.ClarificationNeeded {
		return
	}
	what := len(r.PreferredMakes) > 0 || len(r.PreferredVehicleTypes) > 0
	bound := r.MinPrice != nil || r.MaxPrice != nil ||
		r.MinYear != nil || r.MaxYear != nil ||
		r.MaxMileage != nil ||
		len(r.PreferredFuelTypes) > 0 ||
		r.Transmission != nil
	if what && bound {
		r.ClarificationNeeded = false
		r.ClarificationNeededFor = []string{}
	}
}

// removeIndifferent drops clarification entries the user explicitly waved
// off ("don't care about the transmission").
func removeIndifferent(lower string, needs []string) []string {
	if len(needs) == 0 {
		return needs
	}
	indifferent := false
	for _, phrase := range indifferencePhrases {
		if strings.Contains(lower, phrase) {
			indifferent = true
			break
		}
	}
	if !indifferent {
		return needs
	}

	kept := []string{}
	for _, need := range needs {
		kw, known := clarificationCategories[strings.ToLower(strings.TrimSpace(need))]
		if known && kw.matches(lower) {
			continue
		}
		kept = append(kept, need)
	}
	return kept
}

// implausible names the guardrail violation, or returns "" when the record
// is consistent.
func implausible(r *slots.SlotRecord) string {
	if r.MinPrice != nil && r.MaxPrice != nil && *r.MinPrice > *r.MaxPrice {
		return "price_bounds_inverted"
	}
	if r.MinYear != nil && r.MaxYear != nil && *r.MinYear > *r.MaxYear {
		return "year_bounds_inverted"
	}
	if r.MinEngineSize != nil && r.MaxEngineSize != nil && *r.MinEngineSize > *r.MaxEngineSize {
		return "engine_bounds_inverted"
	}
	if r.MinHorsepower != nil && r.MaxHorsepower != nil && *r.MinHorsepower > *r.MaxHorsepower {
		return "horsepower_bounds_inverted"
	}
	if r.MaxPrice != nil && *r.MaxPrice < luxuryPriceFloor {
		for _, m := range r.PreferredMakes {
			if luxuryMakes[m] {
				return "luxury_make_implausible_price"
			}
		}
	}
	return ""
}

// =============================================================================
// Small Helpers
// =============================================================================

// union concatenates both lists with duplicates removed, preserving
// first-seen order. Never returns nil.
func union(a, b []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// subtract removes every entry of b from a. Never returns nil.
func subtract(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	drop := make(map[string]bool, len(b))
	for _, v := range b {
		drop[v] = true
	}
	out := []string{}
	for _, v := range a {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func confirmedOrNilF(c *slots.ConversationContext, get func(*slots.ConversationContext) *float64) *float64 {
	if c == nil {
		return nil
	}
	return get(c)
}

func confirmedOrNilI(c *slots.ConversationContext, get func(*slots.ConversationContext) *int) *int {
	if c == nil {
		return nil
	}
	return get(c)
}

func confirmedList(c *slots.ConversationContext, get func(*slots.ConversationContext) []string) []string {
	if c == nil {
		return nil
	}
	return get(c)
}

// containsWholeWord reports whether needle occurs in haystack bounded by
// non-letter, non-digit runes. Both inputs must already be lower-cased.
func containsWholeWord(haystack, needle string) bool {
	from := 0
	for {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
