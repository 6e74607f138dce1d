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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers holds the HTTP handlers for the extraction service.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the handler set over a wired service.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// HandleParameters handles POST /v1/extraction/parameters.
//
// # Description
//
// Decodes the request, runs the extraction pipeline, and returns the full
// SlotRecord. Soft failures (collaborator outages, plausibility guardrail,
// internal errors converted to intent=error) are still 200 responses — the
// only hard client error is a missing query.
//
// # Responses
//
//   - 200 OK: slots.SlotRecord, every field present.
//   - 400 Bad Request: malformed JSON body or missing query.
//
// # Thread Safety
//
// Safe for concurrent use.
func (h *Handlers) HandleParameters(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID))
	start := time.Now()

	var req ParametersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "request body must be valid JSON",
			Code:  "INVALID_BODY",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required",
			Code:  "MISSING_QUERY",
		})
		return
	}

	rec := h.service.Process(c.Request.Context(), &req)

	elapsed := time.Since(start)
	recordRequest(rec.Intent, elapsed)
	logger.Info("extraction request",
		slog.String("intent", rec.Intent),
		slog.Bool("off_topic", rec.IsOffTopic),
		slog.Bool("clarification_needed", rec.ClarificationNeeded),
		slog.Duration("elapsed", elapsed),
	)

	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /v1/extraction/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleReady handles GET /v1/extraction/ready.
//
// # Description
//
// The service is ready even when the embedding corpora never warmed: every
// path has a fail-soft fallback. Degraded mode is reported so operators can
// see it, but it is not a reason to take the instance out of rotation.
func (h *Handlers) HandleReady(c *gin.Context) {
	degraded := !h.service.Ready()
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Degraded: degraded})
}

// getOrCreateRequestID returns the caller-supplied X-Request-ID or mints a
// fresh UUID, echoing it back on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
