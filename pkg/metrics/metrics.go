// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics exposes prometheus collectors for the risk engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the engine's prometheus collectors. Constructed once
// per process and injected into the services that record to it.
type Registry struct {
	UploadsTotal        *prometheus.CounterVec
	ParseFailuresTotal  *prometheus.CounterVec
	RecomputationsTotal *prometheus.CounterVec
	RecomputeDuration   *prometheus.HistogramVec
	WebhookSendsTotal   *prometheus.CounterVec
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
}

// New registers the engine collectors on reg and returns the handle.
// Passing prometheus.DefaultRegisterer wires the standard /metrics
// endpoint; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainwatch_uploads_total",
			Help: "Report uploads by tool type and outcome.",
		}, []string{"tool_type", "outcome"}),
		ParseFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainwatch_parse_failures_total",
			Help: "Parser failures by file extension.",
		}, []string{"extension"}),
		RecomputationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainwatch_risk_recomputations_total",
			Help: "Risk recomputations by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RecomputeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainwatch_risk_recompute_duration_seconds",
			Help:    "Wall time of risk recomputations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		WebhookSendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainwatch_webhook_sends_total",
			Help: "Outbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_risk_cache_hits_total",
			Help: "Risk cache hits.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "domainwatch_risk_cache_misses_total",
			Help: "Risk cache misses.",
		}),
	}
}

// NewNop returns a Registry backed by a private registry. Useful in
// tests and CLI paths that do not expose /metrics.
func NewNop() *Registry {
	return New(prometheus.NewRegistry())
}
