// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slots

import (
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// =============================================================================
// Range Bounds
// =============================================================================

// Accepted value ranges. Values outside these bounds are dropped, not
// clamped — a model that produced them is not trustworthy about intent.
const (
	minValidYear    = 1900
	minEngineLiters = 0.5
	maxEngineLiters = 10.0
	minHorsepowerHP = 20
	maxHorsepowerHP = 1500
)

// =============================================================================
// Normalize
// =============================================================================

// Normalize converts a raw, untrusted extraction result into a fully-typed,
// range-checked SlotRecord.
//
// # Description
//
// Starts from the all-default record and copies over only fields that pass
// type and range checks. List fields are filtered to vocabulary membership
// and re-emitted in canonical casing; desiredFeatures only requires
// non-empty strings. Alias keys the generative model is known to emit
// (manufacturers, fuelType, bodyType) are accepted alongside the canonical
// names.
//
// Normalization is total: any unexpected internal panic is recovered and
// the all-default record tagged intent=error is returned instead of a
// partially-applied one.
//
// # Inputs
//
//   - raw: Decoded JSON object from the generative collaborator. May be nil.
//   - voc: Vocabulary for categorical filtering. Must not be nil.
//
// # Outputs
//
//   - *SlotRecord: Never nil. All-default with intent=error on internal failure.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Normalize(raw map[string]any, voc *vocab.Vocabulary) (rec *SlotRecord) {
	rec = New()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("slot normalization panicked, returning error record",
				slog.Any("panic", r),
			)
			rec = NewError()
		}
	}()

	if raw == nil {
		return rec
	}

	currentYear := time.Now().Year()

	if v, ok := positiveNumber(raw["minPrice"]); ok {
		rec.MinPrice = &v
	}
	if v, ok := positiveNumber(raw["maxPrice"]); ok {
		rec.MaxPrice = &v
	}
	if v, ok := integerInRange(raw["minYear"], minValidYear, currentYear+1); ok {
		rec.MinYear = &v
	}
	if v, ok := integerInRange(raw["maxYear"], minValidYear, currentYear+1); ok {
		rec.MaxYear = &v
	}
	if v, ok := integerInRange(raw["maxMileage"], 0, 1<<31); ok {
		rec.MaxMileage = &v
	}
	if v, ok := numberInRange(raw["minEngineSize"], minEngineLiters, maxEngineLiters); ok {
		rec.MinEngineSize = &v
	}
	if v, ok := numberInRange(raw["maxEngineSize"], minEngineLiters, maxEngineLiters); ok {
		rec.MaxEngineSize = &v
	}
	if v, ok := integerInRange(raw["minHorsepower"], minHorsepowerHP, maxHorsepowerHP); ok {
		rec.MinHorsepower = &v
	}
	if v, ok := integerInRange(raw["maxHorsepower"], minHorsepowerHP, maxHorsepowerHP); ok {
		rec.MaxHorsepower = &v
	}
	if t, ok := voc.Transmissions.Canonicalize(stringValue(raw["transmission"])); ok {
		rec.Transmission = &t
	}

	rec.PreferredMakes = voc.Makes.FilterCanonical(
		stringList(raw, "preferredMakes", "manufacturers"))
	rec.PreferredFuelTypes = voc.FuelTypes.FilterCanonical(
		stringList(raw, "preferredFuelTypes", "fuelType"))
	rec.PreferredVehicleTypes = voc.VehicleTypes.FilterCanonical(
		stringList(raw, "preferredVehicleTypes", "bodyType"))

	rec.ExplicitlyNegatedMakes = voc.Makes.FilterCanonical(
		stringList(raw, "explicitlyNegatedMakes"))
	rec.ExplicitlyNegatedFuelTypes = voc.FuelTypes.FilterCanonical(
		stringList(raw, "explicitlyNegatedFuelTypes"))
	rec.ExplicitlyNegatedVehicleTypes = voc.VehicleTypes.FilterCanonical(
		stringList(raw, "explicitlyNegatedVehicleTypes"))

	for _, f := range stringList(raw, "desiredFeatures") {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			rec.DesiredFeatures = append(rec.DesiredFeatures, trimmed)
		}
	}

	if needs := stringList(raw, "clarificationNeededFor"); len(needs) > 0 {
		rec.ClarificationNeededFor = needs
	}
	if b, ok := raw["clarificationNeeded"].(bool); ok {
		rec.ClarificationNeeded = b
	}
	if b, ok := raw["isOffTopic"].(bool); ok {
		rec.IsOffTopic = b
	}
	if s := stringValue(raw["offTopicResponse"]); s != "" {
		rec.OffTopicResponse = &s
	}

	rec.Intent = NormalizeIntent(stringValue(raw["intent"]))

	return rec
}

// =============================================================================
// Untrusted-Value Helpers
// =============================================================================

// asNumber accepts the numeric shapes encoding/json can produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func positiveNumber(v any) (float64, bool) {
	n, ok := asNumber(v)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

func numberInRange(v any, lo, hi float64) (float64, bool) {
	n, ok := asNumber(v)
	if !ok || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// integerInRange accepts whole-valued numbers only; 2018.5 is not a year.
func integerInRange(v any, lo, hi int) (int, bool) {
	n, ok := asNumber(v)
	if !ok || n != float64(int(n)) {
		return 0, false
	}
	i := int(n)
	if i < lo || i > hi {
		return 0, false
	}
	return i, true
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// stringList collects string entries from the first present key. Non-string
// entries are skipped, not errors — the source is an LLM.
func stringList(raw map[string]any, keys ...string) []string {
	for _, key := range keys {
		v, present := raw[key]
		if !present {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
