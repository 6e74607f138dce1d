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
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

func TestNormalizeNilInput(t *testing.T) {
	rec := Normalize(nil, vocab.MustDefault())
	if rec == nil {
		t.Fatal("Normalize(nil) returned nil record")
	}
	if rec.Intent != IntentNewQuery {
		t.Errorf("intent = %q, want %q", rec.Intent, IntentNewQuery)
	}
	if rec.PreferredMakes == nil || rec.ExplicitlyNegatedMakes == nil {
		t.Error("list fields must never be nil")
	}
}

func TestNormalizeScalars(t *testing.T) {
	voc := vocab.MustDefault()
	raw := map[string]any{
		"minPrice":      5000.0,
		"maxPrice":      20000.0,
		"minYear":       2018.0,
		"maxMileage":    80000.0,
		"transmission":  "automatic",
		"minEngineSize": 1.6,
		"maxHorsepower": 300.0,
		"intent":        "refine_criteria",
	}
	rec := Normalize(raw, voc)

	if rec.MinPrice == nil || *rec.MinPrice != 5000 {
		t.Errorf("minPrice = %v, want 5000", rec.MinPrice)
	}
	if rec.MaxPrice == nil || *rec.MaxPrice != 20000 {
		t.Errorf("maxPrice = %v, want 20000", rec.MaxPrice)
	}
	if rec.MinYear == nil || *rec.MinYear != 2018 {
		t.Errorf("minYear = %v, want 2018", rec.MinYear)
	}
	if rec.Transmission == nil || *rec.Transmission != "Automatic" {
		t.Errorf("transmission = %v, want Automatic", rec.Transmission)
	}
	if rec.Intent != IntentRefineCriteria {
		t.Errorf("intent = %q, want refine_criteria", rec.Intent)
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	voc := vocab.MustDefault()
	raw := map[string]any{
		"minPrice":      -100.0,
		"minYear":       1850.0,
		"maxYear":       float64(time.Now().Year() + 10),
		"minEngineSize": 0.1,
		"maxEngineSize": 50.0,
		"minHorsepower": 5.0,
		"maxHorsepower": 9000.0,
		"maxMileage":    -1.0,
	}
	rec := Normalize(raw, voc)

	if rec.MinPrice != nil {
		t.Error("negative minPrice should be dropped")
	}
	if rec.MinYear != nil || rec.MaxYear != nil {
		t.Error("out-of-range years should be dropped")
	}
	if rec.MinEngineSize != nil || rec.MaxEngineSize != nil {
		t.Error("out-of-range engine sizes should be dropped")
	}
	if rec.MinHorsepower != nil || rec.MaxHorsepower != nil {
		t.Error("out-of-range horsepower should be dropped")
	}
	if rec.MaxMileage != nil {
		t.Error("negative mileage should be dropped")
	}
}

func TestNormalizeRejectsFractionalIntegers(t *testing.T) {
	rec := Normalize(map[string]any{"minYear": 2018.5}, vocab.MustDefault())
	if rec.MinYear != nil {
		t.Error("fractional year should be dropped")
	}
}

func TestNormalizeFiltersListsToVocabulary(t *testing.T) {
	voc := vocab.MustDefault()
	raw := map[string]any{
		"preferredMakes":        []any{"toyota", "Lada", "BMW"},
		"preferredVehicleTypes": []any{"crossover", "spaceship"},
		"desiredFeatures":       []any{"  Sunroof ", "", "Low Mileage"},
	}
	rec := Normalize(raw, voc)

	if len(rec.PreferredMakes) != 2 || rec.PreferredMakes[0] != "Toyota" || rec.PreferredMakes[1] != "BMW" {
		t.Errorf("preferredMakes = %v, want [Toyota BMW]", rec.PreferredMakes)
	}
	if len(rec.PreferredVehicleTypes) != 1 || rec.PreferredVehicleTypes[0] != "SUV" {
		t.Errorf("preferredVehicleTypes = %v, want [SUV]", rec.PreferredVehicleTypes)
	}
	if len(rec.DesiredFeatures) != 2 || rec.DesiredFeatures[0] != "Sunroof" {
		t.Errorf("desiredFeatures = %v, want [Sunroof, Low Mileage]", rec.DesiredFeatures)
	}
}

func TestNormalizeAcceptsAliasKeys(t *testing.T) {
	voc := vocab.MustDefault()
	raw := map[string]any{
		"manufacturers": []any{"Honda"},
		"fuelType":      []any{"diesel"},
		"bodyType":      []any{"estate"},
	}
	rec := Normalize(raw, voc)

	if len(rec.PreferredMakes) != 1 || rec.PreferredMakes[0] != "Honda" {
		t.Errorf("manufacturers alias not honored: %v", rec.PreferredMakes)
	}
	if len(rec.PreferredFuelTypes) != 1 || rec.PreferredFuelTypes[0] != "Diesel" {
		t.Errorf("fuelType alias not honored: %v", rec.PreferredFuelTypes)
	}
	if len(rec.PreferredVehicleTypes) != 1 || rec.PreferredVehicleTypes[0] != "Wagon" {
		t.Errorf("bodyType alias not honored: %v", rec.PreferredVehicleTypes)
	}
}

func TestNormalizeUnknownIntentDefaults(t *testing.T) {
	rec := Normalize(map[string]any{"intent": "destroy_all_context"}, vocab.MustDefault())
	if rec.Intent != IntentNewQuery {
		t.Errorf("unknown intent should default to new_query, got %q", rec.Intent)
	}
}

// Normalizing an already-normalized record's JSON shape must be a fixpoint.
func TestNormalizeIdempotent(t *testing.T) {
	voc := vocab.MustDefault()
	raw := map[string]any{
		"maxPrice":       30000.0,
		"preferredMakes": []any{"honda", "bmw"},
		"intent":         "refine_criteria",
	}
	once := Normalize(raw, voc)

	encoded, err := json.Marshal(once)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(encoded, &roundTrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	twice := Normalize(roundTrip, voc)

	onceJSON, _ := json.Marshal(once)
	twiceJSON, _ := json.Marshal(twice)
	if string(onceJSON) != string(twiceJSON) {
		t.Errorf("normalize is not idempotent:\nonce:  %s\ntwice: %s", onceJSON, twiceJSON)
	}
}

func TestRecordJSONAlwaysComplete(t *testing.T) {
	data, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	required := []string{
		"minPrice", "maxPrice", "minYear", "maxYear", "maxMileage",
		"transmission", "minEngineSize", "maxEngineSize", "minHorsepower", "maxHorsepower",
		"preferredMakes", "preferredFuelTypes", "preferredVehicleTypes", "desiredFeatures",
		"explicitlyNegatedMakes", "explicitlyNegatedVehicleTypes", "explicitlyNegatedFuelTypes",
		"isOffTopic", "clarificationNeeded", "offTopicResponse", "clarificationNeededFor",
		"retrieverSuggestion", "matchedCategory", "intent",
	}
	for _, field := range required {
		if _, present := decoded[field]; !present {
			t.Errorf("field %q missing from JSON encoding", field)
		}
	}

	// List fields must encode as [] rather than null.
	if decoded["preferredMakes"] == nil {
		t.Error("preferredMakes encoded as null, want []")
	}
}

func TestLastTurns(t *testing.T) {
	history := make([]Turn, 8)
	for i := range history {
		history[i] = Turn{Role: "user", Content: string(rune('a' + i))}
	}
	window := LastTurns(history)
	if len(window) != HistoryWindow {
		t.Fatalf("window length = %d, want %d", len(window), HistoryWindow)
	}
	if window[0].Content != "d" {
		t.Errorf("window should start at the 4th turn, got %q", window[0].Content)
	}

	short := []Turn{{Role: "user", Content: "hi"}}
	if len(LastTurns(short)) != 1 {
		t.Error("short history should be returned unchanged")
	}
}
