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
	"fmt"
	"strings"

	"github.com/AleutianAI/autotrader/services/extraction/slots"
	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// schemaSkeleton is the exact target shape shown to the model, with example
// values. Every SlotRecord field appears so the model never invents keys.
const schemaSkeleton = `{
  "minPrice": 5000.0,
  "maxPrice": 20000.0,
  "minYear": 2018,
  "maxYear": 2023,
  "maxMileage": 80000,
  "transmission": "Automatic",
  "minEngineSize": 1.6,
  "maxEngineSize": 3.0,
  "minHorsepower": 120,
  "maxHorsepower": 300,
  "preferredMakes": ["BMW", "Audi"],
  "preferredFuelTypes": ["Petrol"],
  "preferredVehicleTypes": ["SUV"],
  "desiredFeatures": ["Sunroof", "Low Mileage"],
  "explicitlyNegatedMakes": ["Toyota"],
  "explicitlyNegatedVehicleTypes": [],
  "explicitlyNegatedFuelTypes": [],
  "intent": "new_query"
}`

// promptRules are the extraction instructions. The unit-conversion and
// colloquial-budget rules live here, at the prompt level, rather than as
// post-hoc rewrites.
const promptRules = `Rules:
- Output ONLY a single JSON object matching the schema above. No prose.
- Use null for any field the user did not mention. Numeric fields must be
  plain numbers, never strings.
- A manufacturer, fuel type, or body style the user REJECTS ("no Toyota",
  "not diesel") goes ONLY in the matching explicitlyNegated list, never in
  a preferred list.
- Convert engine sizes given in cc to liters (1600cc -> 1.6).
- "cheap" or "affordable" implies maxPrice no higher than 15000.
- "expensive" or "high-end" implies minPrice of at least 30000.
- "new" or "recent" implies minYear of at least 2020.
- "low mileage" adds "Low Mileage" to desiredFeatures.
- intent is one of:
    "new_query"       - a fresh search, unrelated to earlier turns
    "refine_criteria" - narrows or changes an existing search
    "add_criteria"    - adds criteria on top of an existing search
    "clarify"         - answers a question the assistant asked
    "off_topic"       - not about finding a vehicle

Examples:
User: "Looking for a cheap automatic hatchback"
{"minPrice": null, "maxPrice": 15000.0, "minYear": null, "maxYear": null, "maxMileage": null, "transmission": "Automatic", "minEngineSize": null, "maxEngineSize": null, "minHorsepower": null, "maxHorsepower": null, "preferredMakes": [], "preferredFuelTypes": [], "preferredVehicleTypes": ["Hatchback"], "desiredFeatures": [], "explicitlyNegatedMakes": [], "explicitlyNegatedVehicleTypes": [], "explicitlyNegatedFuelTypes": [], "intent": "new_query"}

User: "Actually make that under 10k, and no diesels"
{"minPrice": null, "maxPrice": 10000.0, "minYear": null, "maxYear": null, "maxMileage": null, "transmission": null, "minEngineSize": null, "maxEngineSize": null, "minHorsepower": null, "maxHorsepower": null, "preferredMakes": [], "preferredFuelTypes": [], "preferredVehicleTypes": [], "desiredFeatures": [], "explicitlyNegatedMakes": [], "explicitlyNegatedVehicleTypes": [], "explicitlyNegatedFuelTypes": ["Diesel"], "intent": "refine_criteria"}`

// BuildPrompt assembles the full instruction payload for one extraction
// call.
//
// # Description
//
// The payload contains, in order: the task statement, the target schema
// with example values, the canonical vocabularies, the extraction rules,
// the trailing conversation-history window, the confirmed/rejected context
// rendered as bullets, and finally the utterance to extract from.
//
// # Inputs
//
//   - query: The current utterance. Must be non-empty.
//   - history: Full conversation history; only the trailing window is used.
//   - cctx: Confirmed/rejected context. May be nil.
//   - voc: Canonical vocabularies. Must not be nil.
//
// # Outputs
//
//   - string: The complete prompt.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func BuildPrompt(query string, history []slots.Turn, cctx *slots.ConversationContext, voc *vocab.Vocabulary) string {
	var b strings.Builder
	b.Grow(4096)

	b.WriteString("You extract structured vehicle-search parameters from a user's message.\n")
	b.WriteString("Fill in this JSON schema (example values shown):\n\n")
	b.WriteString(schemaSkeleton)
	b.WriteString("\n\nValid values:\n")
	fmt.Fprintf(&b, "- preferredMakes / explicitlyNegatedMakes: %s\n", strings.Join(voc.Makes.Canonical(), ", "))
	fmt.Fprintf(&b, "- preferredFuelTypes / explicitlyNegatedFuelTypes: %s\n", strings.Join(voc.FuelTypes.Canonical(), ", "))
	fmt.Fprintf(&b, "- preferredVehicleTypes / explicitlyNegatedVehicleTypes: %s\n", strings.Join(voc.VehicleTypes.Canonical(), ", "))
	fmt.Fprintf(&b, "- transmission: %s\n", strings.Join(voc.Transmissions.Canonical(), ", "))
	b.WriteString("\n")
	b.WriteString(promptRules)

	if window := slots.LastTurns(history); len(window) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, turn := range window {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	if bullets := contextBullets(cctx); bullets != "" {
		b.WriteString("\nAlready established in earlier turns:\n")
		b.WriteString(bullets)
	}

	b.WriteString("\nUser message to extract from:\n")
	b.WriteString(query)
	b.WriteString("\n\nJSON:")
	return b.String()
}

// contextBullets renders confirmed/rejected context as readable bullet
// text, empty when there is nothing to say.
func contextBullets(c *slots.ConversationContext) string {
	if c.IsZero() {
		return ""
	}
	var b strings.Builder

	writeF := func(label string, v *float64) {
		if v != nil {
			fmt.Fprintf(&b, "- %s: %.0f\n", label, *v)
		}
	}
	writeI := func(label string, v *int) {
		if v != nil {
			fmt.Fprintf(&b, "- %s: %d\n", label, *v)
		}
	}
	writeL := func(label string, vs []string) {
		if len(vs) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", label, strings.Join(vs, ", "))
		}
	}

	writeF("confirmed minimum price", c.ConfirmedMinPrice)
	writeF("confirmed maximum price", c.ConfirmedMaxPrice)
	writeI("confirmed minimum year", c.ConfirmedMinYear)
	writeI("confirmed maximum year", c.ConfirmedMaxYear)
	writeI("confirmed maximum mileage", c.ConfirmedMaxMileage)
	if c.ConfirmedTransmission != nil {
		fmt.Fprintf(&b, "- confirmed transmission: %s\n", *c.ConfirmedTransmission)
	}
	if c.ConfirmedMinEngineSize != nil {
		fmt.Fprintf(&b, "- confirmed minimum engine size: %.1f liters\n", *c.ConfirmedMinEngineSize)
	}
	if c.ConfirmedMaxEngineSize != nil {
		fmt.Fprintf(&b, "- confirmed maximum engine size: %.1f liters\n", *c.ConfirmedMaxEngineSize)
	}
	writeI("confirmed minimum horsepower", c.ConfirmedMinHorsepower)
	writeI("confirmed maximum horsepower", c.ConfirmedMaxHorsepower)
	writeL("confirmed manufacturers", c.ConfirmedMakes)
	writeL("confirmed fuel types", c.ConfirmedFuelTypes)
	writeL("confirmed body styles", c.ConfirmedVehicleTypes)
	writeL("confirmed features", c.ConfirmedFeatures)
	writeL("already rejected manufacturers", c.RejectedMakes)
	writeL("already rejected fuel types", c.RejectedFuelTypes)
	writeL("already rejected body styles", c.RejectedVehicleTypes)

	return b.String()
}
