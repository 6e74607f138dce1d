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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrader",
		Subsystem: "extraction",
		Name:      "requests_total",
		Help:      "Extraction requests by final intent",
	}, []string{"intent"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autotrader",
		Subsystem: "extraction",
		Name:      "request_duration_seconds",
		Help:      "End-to-end extraction request latency",
		// Collaborator calls dominate; buckets stretch well past a second.
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"intent"})
)

// recordRequest updates the request metrics for one completed extraction.
func recordRequest(intent string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(intent).Inc()
	requestDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
}
