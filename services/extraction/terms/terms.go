// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package terms implements phrase-level negation and positive-mention
// detection against the closed vehicle vocabularies.
//
// This is deliberately a string heuristic, not a parser. It scans for fixed
// negation trigger phrases, takes the span up to the next clause boundary,
// splits on conjunctions, and whole-word-matches the fragments against the
// vocabulary. It tolerates overlapping triggers and partial phrases; the
// worst outcome of a miss is an empty set, never an error. The heuristic
// sits behind a two-function surface so it can be replaced without touching
// merge logic.
package terms

import (
	"strings"
	"unicode"

	"github.com/AleutianAI/autotrader/services/extraction/vocab"
)

// =============================================================================
// Trigger and Boundary Tables
// =============================================================================

// negationTriggers open a negated span. Trailing space keeps "no" from
// firing inside "nothing" or "notchback".
var negationTriggers = []string{
	"no ",
	"not ",
	"don't want ",
	"dont want ",
	"don't like ",
	"dont like ",
	"except ",
	"anything but ",
	"without ",
	"avoid ",
	"exclude ",
	"hate ",
}

// clauseBoundaryWords end a negated span. A negation's scope rarely
// survives past these.
var clauseBoundaryWords = []string{
	" but ",
	" also ",
	" and ",
	" with ",
	" like ",
	" prefer ",
	" however ",
}

// conjunctionSplitters separate co-negated terms inside one span
// ("no toyota or nissan").
var conjunctionSplitters = []string{
	" or ",
	" and ",
	", ",
}

// clauseBoundaryPunct is sentence punctuation that ends a negated span.
const clauseBoundaryPunct = ".!?;:,"

// =============================================================================
// Detection
// =============================================================================

// FindNegated returns the canonical-cased vocabulary terms negated in text.
//
// # Description
//
// For every trigger phrase, every occurrence in the lower-cased text opens
// a span running to the next clause boundary (punctuation or boundary
// word). The span is split on conjunctions and each fragment is
// whole-word-matched against the category's surface forms (canonical
// entries and aliases, case-insensitive). Matches are returned in
// first-seen order.
//
// # Inputs
//
//   - text: Raw utterance. Empty input yields an empty set.
//   - category: Vocabulary category to match against. Must not be nil.
//
// # Outputs
//
//   - []string: Canonical-cased negated terms, duplicates removed. Never nil.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func FindNegated(text string, category *vocab.Category) []string {
	out := []string{}
	if text == "" {
		return out
	}
	lower := strings.ToLower(text)
	seen := make(map[string]bool)

	for _, trigger := range negationTriggers {
		from := 0
		for {
			idx := strings.Index(lower[from:], trigger)
			if idx < 0 {
				break
			}
			start := from + idx + len(trigger)
			span := clipToClauseBoundary(lower[start:])
			for _, fragment := range splitConjunctions(span) {
				canon, ok := matchWholeWord(fragment, category)
				if ok && !seen[canon] {
					seen[canon] = true
					out = append(out, canon)
				}
			}
			from = start
		}
	}
	return out
}

// FindPositive returns canonical-cased vocabulary terms mentioned anywhere
// in text, excluding terms already detected as negated.
//
// # Inputs
//
//   - text: Raw utterance.
//   - category: Vocabulary category to match against. Must not be nil.
//   - negated: Canonical terms to exclude (output of FindNegated). May be nil.
//
// # Outputs
//
//   - []string: Canonical-cased positive mentions, duplicates removed. Never nil.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func FindPositive(text string, category *vocab.Category, negated []string) []string {
	out := []string{}
	if text == "" {
		return out
	}
	lower := strings.ToLower(text)
	excluded := make(map[string]bool, len(negated))
	for _, n := range negated {
		excluded[n] = true
	}

	seen := make(map[string]bool)
	for _, surface := range category.Surfaces() {
		if !containsWholeWord(lower, surface) {
			continue
		}
		canon, ok := category.Canonicalize(surface)
		if !ok || excluded[canon] || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	return out
}

// =============================================================================
// Span Helpers
// =============================================================================

// clipToClauseBoundary returns the prefix of s up to the first sentence
// punctuation or boundary word.
func clipToClauseBoundary(s string) string {
	end := len(s)
	if idx := strings.IndexAny(s, clauseBoundaryPunct); idx >= 0 && idx < end {
		end = idx
	}
	for _, word := range clauseBoundaryWords {
		if idx := strings.Index(s, word); idx >= 0 && idx < end {
			end = idx
		}
	}
	return s[:end]
}

// splitConjunctions splits a negated span into individually negated
// fragments.
func splitConjunctions(span string) []string {
	fragments := []string{span}
	for _, sep := range conjunctionSplitters {
		var next []string
		for _, f := range fragments {
			next = append(next, strings.Split(f, sep)...)
		}
		fragments = next
	}
	for i, f := range fragments {
		fragments[i] = strings.TrimSpace(f)
	}
	return fragments
}

// matchWholeWord finds the first vocabulary surface form appearing as a
// whole word inside the fragment and returns its canonical form.
func matchWholeWord(fragment string, category *vocab.Category) (string, bool) {
	if fragment == "" {
		return "", false
	}
	// Exact fragment match first: the common case after conjunction
	// splitting ("toyota", "suv").
	if canon, ok := category.Canonicalize(fragment); ok {
		return canon, true
	}
	// Otherwise scan for any surface form embedded as a whole word
	// ("a toyota corolla").
	for _, surface := range category.Surfaces() {
		if containsWholeWord(fragment, surface) {
			return category.Canonicalize(surface)
		}
	}
	return "", false
}

// containsWholeWord reports whether needle occurs in haystack bounded by
// non-letter, non-digit runes. Both inputs must already be lower-cased.
func containsWholeWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	from := 0
	for {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		beforeOK := start == 0 || !isWordRune(rune(haystack[start-1]))
		afterOK := end == len(haystack) || !isWordRune(rune(haystack[end]))
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
