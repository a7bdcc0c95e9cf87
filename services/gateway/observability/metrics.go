// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// Metrics cover the cipher path (encode/decode volume, fingerprint and
// index-build latency, bucket occupancy) and the chat surface (requests,
// messages, live websockets). Exposed via the /metrics endpoint; all
// operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all gateway metrics.
const metricsNamespace = "rebus"

// Index build outcomes for BuildsTotal.
const (
	BuildOutcomeBuilt  = "built"
	BuildOutcomeLoaded = "loaded"
	BuildOutcomeError  = "error"
)

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// Initialize once at startup via InitMetrics; promauto panics on a second
// registration against the default registry.
type GatewayMetrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	// Labels: endpoint (encrypt_text, decrypt_images, ...), status (ok, error)
	RequestsTotal *prometheus.CounterVec

	// EncodedCharsTotal counts plaintext characters run through Encrypt.
	EncodedCharsTotal prometheus.Counter

	// DecodedImagesTotal counts ciphertext images run through Decrypt.
	DecodedImagesTotal prometheus.Counter

	// FingerprintSeconds measures single-image fingerprint extraction time.
	FingerprintSeconds prometheus.Histogram

	// IndexBuildSeconds measures key mapping build time.
	IndexBuildSeconds prometheus.Histogram

	// BuildsTotal counts mapping resolutions by outcome (built, loaded, error).
	BuildsTotal *prometheus.CounterVec

	// BucketOccupancy reports images per bucket for the most recently
	// built or loaded mapping. Labels: bucket ("0".."28")
	BucketOccupancy *prometheus.GaugeVec

	// ActiveWebsockets tracks currently connected feed clients.
	ActiveWebsockets prometheus.Gauge

	// MessagesTotal counts chat messages appended by type (text, image, system).
	MessagesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics against the
// default Prometheus registry. Call once at startup.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		EncodedCharsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "encoded_chars_total",
				Help:      "Total plaintext characters encoded to images",
			},
		),

		DecodedImagesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decoded_images_total",
				Help:      "Total ciphertext images decoded",
			},
		),

		FingerprintSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "fingerprint_seconds",
				Help:      "Fingerprint extraction time per image",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),

		IndexBuildSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "index_build_seconds",
				Help:      "Key mapping build time over the full corpus",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		BuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "index_builds_total",
				Help:      "Mapping resolutions by outcome (built, loaded, error)",
			},
			[]string{"outcome"},
		),

		BucketOccupancy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "bucket_occupancy",
				Help:      "Images per bucket in the most recently resolved mapping",
			},
			[]string{"bucket"},
		),

		ActiveWebsockets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_websockets",
				Help:      "Currently connected websocket feed clients",
			},
		),

		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Chat messages appended to history by type",
			},
			[]string{"type"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records one completed API request.
func (m *GatewayMetrics) RecordRequest(endpoint string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordEncode adds the character volume of one encrypt call.
func (m *GatewayMetrics) RecordEncode(chars int) {
	m.EncodedCharsTotal.Add(float64(chars))
}

// RecordDecode adds the image volume of one decrypt call.
func (m *GatewayMetrics) RecordDecode(images int) {
	m.DecodedImagesTotal.Add(float64(images))
}

// RecordBuild records a mapping resolution and its duration. Only actual
// builds carry a meaningful duration; pass 0 for loads.
func (m *GatewayMetrics) RecordBuild(outcome string, seconds float64) {
	m.BuildsTotal.WithLabelValues(outcome).Inc()
	if outcome == BuildOutcomeBuilt {
		m.IndexBuildSeconds.Observe(seconds)
	}
}

// SetBucketOccupancy publishes the per-bucket image counts of a mapping.
func (m *GatewayMetrics) SetBucketOccupancy(counts map[string]int) {
	for bucket, n := range counts {
		m.BucketOccupancy.WithLabelValues(bucket).Set(float64(n))
	}
}

// WebsocketConnected increments the live feed client gauge.
func (m *GatewayMetrics) WebsocketConnected() {
	m.ActiveWebsockets.Inc()
}

// WebsocketDisconnected decrements the live feed client gauge.
func (m *GatewayMetrics) WebsocketDisconnected() {
	m.ActiveWebsockets.Dec()
}

// RecordMessage counts one appended chat message.
func (m *GatewayMetrics) RecordMessage(msgType string) {
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}
