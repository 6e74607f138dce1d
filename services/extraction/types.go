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
	"github.com/AleutianAI/autotrader/services/extraction/slots"
)

// ParametersRequest is the body of POST /v1/extraction/parameters.
//
// confirmedContext and rejectedContext arrive as separate objects keyed by
// confirmed*/rejected* slot names; both decode into ConversationContext and
// are folded together before the pipeline runs.
type ParametersRequest struct {
	Query               string                     `json:"query"`
	ConversationHistory []slots.Turn               `json:"conversationHistory"`
	ConfirmedContext    *slots.ConversationContext `json:"confirmedContext"`
	RejectedContext     *slots.ConversationContext `json:"rejectedContext"`
	ForceModel          string                     `json:"forceModel"`
	IsFollowUpQuery     bool                       `json:"isFollowUpQuery"`
	LastQuestionAsked   string                     `json:"lastQuestionAsked"`
}

// Context folds the confirmed and rejected context objects into the single
// ConversationContext the pipeline consumes. Returns nil when the caller
// sent neither.
func (r *ParametersRequest) Context() *slots.ConversationContext {
	if r.ConfirmedContext == nil && r.RejectedContext == nil {
		return nil
	}
	out := &slots.ConversationContext{}
	if c := r.ConfirmedContext; c != nil {
		out.ConfirmedMinPrice = c.ConfirmedMinPrice
		out.ConfirmedMaxPrice = c.ConfirmedMaxPrice
		out.ConfirmedMinYear = c.ConfirmedMinYear
		out.ConfirmedMaxYear = c.ConfirmedMaxYear
		out.ConfirmedMaxMileage = c.ConfirmedMaxMileage
		out.ConfirmedTransmission = c.ConfirmedTransmission
		out.ConfirmedMinEngineSize = c.ConfirmedMinEngineSize
		out.ConfirmedMaxEngineSize = c.ConfirmedMaxEngineSize
		out.ConfirmedMinHorsepower = c.ConfirmedMinHorsepower
		out.ConfirmedMaxHorsepower = c.ConfirmedMaxHorsepower
		out.ConfirmedMakes = c.ConfirmedMakes
		out.ConfirmedFuelTypes = c.ConfirmedFuelTypes
		out.ConfirmedVehicleTypes = c.ConfirmedVehicleTypes
		out.ConfirmedFeatures = c.ConfirmedFeatures
	}
	if c := r.RejectedContext; c != nil {
		out.RejectedMakes = c.RejectedMakes
		out.RejectedFuelTypes = c.RejectedFuelTypes
		out.RejectedVehicleTypes = c.RejectedVehicleTypes
	}
	return out
}

// ErrorResponse is the uniform error envelope for hard request errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of the health and readiness endpoints.
type HealthResponse struct {
	Status string `json:"status"`

	// Degraded marks a ready-but-unwarmed state: the service answers
	// requests on its fail-soft paths without the embedding signal.
	Degraded bool `json:"degraded,omitempty"`
}
