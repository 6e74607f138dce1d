// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slots defines the canonical search-slot record produced by the
// extraction pipeline, plus the validator that converts an untrusted
// generative-model result into that record.
package slots

// =============================================================================
// Intents
// =============================================================================

// Intent values form a closed set. Anything else normalizes to IntentNewQuery.
const (
	// IntentNewQuery starts a fresh search; prior list context is superseded.
	IntentNewQuery = "new_query"

	// IntentRefineCriteria narrows or adjusts an existing search.
	IntentRefineCriteria = "refine_criteria"

	// IntentAddCriteria adds criteria on top of an existing search.
	IntentAddCriteria = "add_criteria"

	// IntentClarify answers a clarifying question previously asked.
	IntentClarify = "clarify"

	// IntentOffTopic marks a query outside the vehicle-search domain.
	IntentOffTopic = "off_topic"

	// IntentError marks a request that failed inside the pipeline. The
	// record carrying it is always all-default.
	IntentError = "error"

	// IntentConfusedFallback marks a merge result discarded by the
	// plausibility guardrail, downgraded to a clarification request.
	IntentConfusedFallback = "CONFUSED_FALLBACK"
)

// knownIntents are the values NormalizeIntent accepts unchanged.
var knownIntents = map[string]bool{
	IntentNewQuery:         true,
	IntentRefineCriteria:   true,
	IntentAddCriteria:      true,
	IntentClarify:          true,
	IntentOffTopic:         true,
	IntentError:            true,
	IntentConfusedFallback: true,
}

// NormalizeIntent maps an arbitrary intent string onto the closed set,
// defaulting to IntentNewQuery when absent or unrecognized.
func NormalizeIntent(s string) string {
	if knownIntents[s] {
		return s
	}
	return IntentNewQuery
}

// =============================================================================
// SlotRecord
// =============================================================================

// SlotRecord is the structured, validated search-parameter set for one
// request. Every field is always present in the JSON encoding, even when
// null or empty — there is no partial SlotRecord.
//
// # Invariants
//
//   - For each category, preferred ∩ explicitly-negated = ∅.
//   - When both bounds of a range are non-nil, min ≤ max (otherwise the
//     plausibility guardrail replaces the record with a confused fallback).
//   - List entries are always canonical vocabulary casing, except
//     DesiredFeatures which is open vocabulary.
//
// # Thread Safety
//
// Not safe for concurrent mutation. Records are request-scoped.
type SlotRecord struct {
	MinPrice      *float64 `json:"minPrice"`
	MaxPrice      *float64 `json:"maxPrice"`
	MinYear       *int     `json:"minYear"`
	MaxYear       *int     `json:"maxYear"`
	MaxMileage    *int     `json:"maxMileage"`
	Transmission  *string  `json:"transmission"`
	MinEngineSize *float64 `json:"minEngineSize"`
	MaxEngineSize *float64 `json:"maxEngineSize"`
	MinHorsepower *int     `json:"minHorsepower"`
	MaxHorsepower *int     `json:"maxHorsepower"`

	PreferredMakes        []string `json:"preferredMakes"`
	PreferredFuelTypes    []string `json:"preferredFuelTypes"`
	PreferredVehicleTypes []string `json:"preferredVehicleTypes"`
	DesiredFeatures       []string `json:"desiredFeatures"`

	ExplicitlyNegatedMakes        []string `json:"explicitlyNegatedMakes"`
	ExplicitlyNegatedVehicleTypes []string `json:"explicitlyNegatedVehicleTypes"`
	ExplicitlyNegatedFuelTypes    []string `json:"explicitlyNegatedFuelTypes"`

	IsOffTopic          bool `json:"isOffTopic"`
	ClarificationNeeded bool `json:"clarificationNeeded"`

	OffTopicResponse       *string  `json:"offTopicResponse"`
	ClarificationNeededFor []string `json:"clarificationNeededFor"`
	RetrieverSuggestion    *string  `json:"retrieverSuggestion"`
	MatchedCategory        *string  `json:"matchedCategory"`
	Intent                 string   `json:"intent"`
}

// New returns the canonical all-default SlotRecord: every scalar nil, every
// list empty (never nil, so JSON emits [] rather than null), intent
// new_query.
func New() *SlotRecord {
	return &SlotRecord{
		PreferredMakes:                []string{},
		PreferredFuelTypes:            []string{},
		PreferredVehicleTypes:         []string{},
		DesiredFeatures:               []string{},
		ExplicitlyNegatedMakes:        []string{},
		ExplicitlyNegatedVehicleTypes: []string{},
		ExplicitlyNegatedFuelTypes:    []string{},
		ClarificationNeededFor:        []string{},
		Intent:                        IntentNewQuery,
	}
}

// NewError returns the all-default record tagged intent=error, the uniform
// shape for any unexpected internal failure.
func NewError() *SlotRecord {
	rec := New()
	rec.Intent = IntentError
	return rec
}

// NewConfusedFallback returns the fixed "I got confused, please restate"
// state: all-default, clarification requested, a polite user-visible message.
func NewConfusedFallback() *SlotRecord {
	rec := New()
	rec.Intent = IntentConfusedFallback
	rec.ClarificationNeeded = true
	msg := "I got a bit confused there. Could you restate what you're looking for in a car?"
	rec.RetrieverSuggestion = &msg
	return rec
}

// Clone returns a deep copy. Useful in tests and for the merger, which
// rewrites records field by field without mutating its input.
func (r *SlotRecord) Clone() *SlotRecord {
	out := *r
	out.PreferredMakes = append([]string{}, r.PreferredMakes...)
	out.PreferredFuelTypes = append([]string{}, r.PreferredFuelTypes...)
	out.PreferredVehicleTypes = append([]string{}, r.PreferredVehicleTypes...)
	out.DesiredFeatures = append([]string{}, r.DesiredFeatures...)
	out.ExplicitlyNegatedMakes = append([]string{}, r.ExplicitlyNegatedMakes...)
	out.ExplicitlyNegatedVehicleTypes = append([]string{}, r.ExplicitlyNegatedVehicleTypes...)
	out.ExplicitlyNegatedFuelTypes = append([]string{}, r.ExplicitlyNegatedFuelTypes...)
	out.ClarificationNeededFor = append([]string{}, r.ClarificationNeededFor...)
	return &out
}

// =============================================================================
// Conversation Inputs
// =============================================================================

// Turn is one message in the conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// HistoryWindow is the number of trailing turns included in the extraction
// prompt and used for follow-up detection.
const HistoryWindow = 5

// LastTurns returns the trailing window of at most HistoryWindow turns.
func LastTurns(history []Turn) []Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}

// ConversationContext carries slot values the caller asserts were accepted
// (confirmed) or explicitly rejected in prior turns. The core never mutates
// or persists it; cross-turn accumulation is the caller's responsibility.
type ConversationContext struct {
	ConfirmedMinPrice      *float64 `json:"confirmedMinPrice"`
	ConfirmedMaxPrice      *float64 `json:"confirmedMaxPrice"`
	ConfirmedMinYear       *int     `json:"confirmedMinYear"`
	ConfirmedMaxYear       *int     `json:"confirmedMaxYear"`
	ConfirmedMaxMileage    *int     `json:"confirmedMaxMileage"`
	ConfirmedTransmission  *string  `json:"confirmedTransmission"`
	ConfirmedMinEngineSize *float64 `json:"confirmedMinEngineSize"`
	ConfirmedMaxEngineSize *float64 `json:"confirmedMaxEngineSize"`
	ConfirmedMinHorsepower *int     `json:"confirmedMinHorsepower"`
	ConfirmedMaxHorsepower *int     `json:"confirmedMaxHorsepower"`

	ConfirmedMakes        []string `json:"confirmedMakes"`
	ConfirmedFuelTypes    []string `json:"confirmedFuelTypes"`
	ConfirmedVehicleTypes []string `json:"confirmedVehicleTypes"`
	ConfirmedFeatures     []string `json:"confirmedFeatures"`

	RejectedMakes        []string `json:"rejectedMakes"`
	RejectedFuelTypes    []string `json:"rejectedFuelTypes"`
	RejectedVehicleTypes []string `json:"rejectedVehicleTypes"`
}

// IsZero reports whether the context carries no confirmed or rejected values.
func (c *ConversationContext) IsZero() bool {
	if c == nil {
		return true
	}
	return c.ConfirmedMinPrice == nil && c.ConfirmedMaxPrice == nil &&
		c.ConfirmedMinYear == nil && c.ConfirmedMaxYear == nil &&
		c.ConfirmedMaxMileage == nil && c.ConfirmedTransmission == nil &&
		c.ConfirmedMinEngineSize == nil && c.ConfirmedMaxEngineSize == nil &&
		c.ConfirmedMinHorsepower == nil && c.ConfirmedMaxHorsepower == nil &&
		len(c.ConfirmedMakes) == 0 && len(c.ConfirmedFuelTypes) == 0 &&
		len(c.ConfirmedVehicleTypes) == 0 && len(c.ConfirmedFeatures) == 0 &&
		len(c.RejectedMakes) == 0 && len(c.RejectedFuelTypes) == 0 &&
		len(c.RejectedVehicleTypes) == 0
}
