// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vocab holds the closed vehicle vocabularies (manufacturers, fuel
// types, vehicle types with aliases, transmissions) and the case-insensitive
// canonicalization used everywhere else in the extraction pipeline.
//
// The data lives in an embedded YAML file so the lists can be edited without
// touching Go code, mirroring how pre-filter rules are shipped elsewhere in
// this codebase.
package vocab

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Vocabulary
// =============================================================================

//go:embed vocab.yaml
var defaultVocabYAML []byte

// =============================================================================
// YAML Schema
// =============================================================================

// vehicleTypeEntry is one vehicle-type row in vocab.yaml.
type vehicleTypeEntry struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

// vocabFile is the top-level vocab.yaml schema.
type vocabFile struct {
	Makes         []string           `yaml:"makes"`
	FuelTypes     []string           `yaml:"fuel_types"`
	VehicleTypes  []vehicleTypeEntry `yaml:"vehicle_types"`
	Transmissions []string           `yaml:"transmissions"`
}

// =============================================================================
// Category
// =============================================================================

// Category is one closed vocabulary (makes, fuel types, ...) with
// case-insensitive lookup and alias resolution to a canonical casing.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Category struct {
	name      string
	canonical []string          // canonical entries, original order
	lookup    map[string]string // lowercased surface form → canonical form
	surfaces  []string          // all matchable surface forms, lowercased, longest first
}

// NewCategory builds a Category from canonical entries and an alias map.
//
// # Inputs
//
//   - name: Category name for diagnostics (e.g. "makes").
//   - canonical: Canonical entries in canonical casing.
//   - aliases: Alias → canonical mapping. May be nil. Alias casing is ignored.
//
// # Outputs
//
//   - *Category: Ready-to-use category. Never nil.
func NewCategory(name string, canonical []string, aliases map[string]string) *Category {
	c := &Category{
		name:      name,
		canonical: append([]string(nil), canonical...),
		lookup:    make(map[string]string, len(canonical)+len(aliases)),
	}
	for _, entry := range canonical {
		c.lookup[strings.ToLower(entry)] = entry
	}
	for alias, target := range aliases {
		c.lookup[strings.ToLower(alias)] = target
	}
	c.surfaces = make([]string, 0, len(c.lookup))
	for surface := range c.lookup {
		c.surfaces = append(c.surfaces, surface)
	}
	// Longest first so multi-word surface forms win over substrings.
	sort.Slice(c.surfaces, func(i, j int) bool {
		if len(c.surfaces[i]) != len(c.surfaces[j]) {
			return len(c.surfaces[i]) > len(c.surfaces[j])
		}
		return c.surfaces[i] < c.surfaces[j]
	})
	return c
}

// Name returns the category name.
func (c *Category) Name() string { return c.name }

// Canonical returns the canonical entries in their canonical casing.
// The returned slice is a copy; callers may mutate it freely.
func (c *Category) Canonical() []string {
	return append([]string(nil), c.canonical...)
}

// Surfaces returns every matchable surface form, lowercased, longest first.
// Includes aliases. The returned slice is shared; callers must not mutate it.
func (c *Category) Surfaces() []string { return c.surfaces }

// Canonicalize resolves a surface form (any casing, alias or canonical) to
// its canonical entry.
//
// # Outputs
//
//   - string: Canonical form. Empty when not found.
//   - bool: True when the input belongs to this category.
func (c *Category) Canonicalize(s string) (string, bool) {
	out, ok := c.lookup[strings.ToLower(strings.TrimSpace(s))]
	return out, ok
}

// FilterCanonical keeps only entries belonging to this category, re-emitted
// in canonical casing with duplicates removed. Order follows the input.
func (c *Category) FilterCanonical(entries []string) []string {
	out := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		canon, ok := c.Canonicalize(e)
		if !ok || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	return out
}

// =============================================================================
// Vocabulary
// =============================================================================

// Vocabulary aggregates every closed category the extraction pipeline knows.
//
// # Thread Safety
//
// Immutable after Load; safe for concurrent use.
type Vocabulary struct {
	Makes         *Category
	FuelTypes     *Category
	VehicleTypes  *Category
	Transmissions *Category
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
	defaultErr   error
)

// Default returns the process-wide vocabulary parsed from the embedded YAML.
//
// # Description
//
// Parsed once; subsequent calls return the cached instance. The embedded
// data is compiled into the binary, so a parse failure is a programming
// error surfaced at first use rather than a runtime condition.
//
// # Thread Safety
//
// Safe for concurrent use.
func Default() (*Vocabulary, error) {
	defaultOnce.Do(func() {
		defaultVocab, defaultErr = Parse(defaultVocabYAML)
	})
	return defaultVocab, defaultErr
}

// MustDefault returns the default vocabulary or panics. Intended for main
// and for tests where the embedded data is known good.
func MustDefault() *Vocabulary {
	v, err := Default()
	if err != nil {
		panic(fmt.Sprintf("vocab: embedded vocabulary invalid: %v", err))
	}
	return v
}

// Parse builds a Vocabulary from YAML bytes.
//
// # Inputs
//
//   - data: YAML document matching the vocab.yaml schema.
//
// # Outputs
//
//   - *Vocabulary: Parsed vocabulary. Nil on error.
//   - error: Non-nil on YAML syntax errors or empty required categories.
func Parse(data []byte) (*Vocabulary, error) {
	var file vocabFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse vocabulary yaml: %w", err)
	}
	if len(file.Makes) == 0 || len(file.FuelTypes) == 0 ||
		len(file.VehicleTypes) == 0 || len(file.Transmissions) == 0 {
		return nil, fmt.Errorf("vocabulary yaml is missing one or more required categories")
	}

	typeCanonical := make([]string, 0, len(file.VehicleTypes))
	typeAliases := make(map[string]string)
	for _, entry := range file.VehicleTypes {
		if entry.Canonical == "" {
			return nil, fmt.Errorf("vehicle_types entry with empty canonical form")
		}
		typeCanonical = append(typeCanonical, entry.Canonical)
		for _, alias := range entry.Aliases {
			typeAliases[alias] = entry.Canonical
		}
	}

	return &Vocabulary{
		Makes:         NewCategory("makes", file.Makes, nil),
		FuelTypes:     NewCategory("fuel_types", file.FuelTypes, nil),
		VehicleTypes:  NewCategory("vehicle_types", typeCanonical, typeAliases),
		Transmissions: NewCategory("transmissions", file.Transmissions, nil),
	}, nil
}
