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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all extraction routes with the router.
//
// Description:
//
//	Registers all /v1/extraction/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/extraction/parameters - Extract search slots from an utterance
//	GET  /v1/extraction/health - Health check
//	GET  /v1/extraction/ready - Readiness check
//
// Example:
//
//	service := extraction.NewService(voc, classifier, matcher, extractor, logger)
//	handlers := extraction.NewHandlers(service, logger)
//
//	v1 := router.Group("/v1")
//	extraction.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	extraction := rg.Group("/extraction")
	{
		extraction.POST("/parameters", handlers.HandleParameters)

		// Health checks
		extraction.GET("/health", handlers.HandleHealth)
		extraction.GET("/ready", handlers.HandleReady)
	}
}
