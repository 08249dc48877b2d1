// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package metrics provides Prometheus instrumentation for:
// - Vocabulary registry lookups and slot allocation
// - Vector encoding throughput and capacity overflows
// - Ingestion pipeline event outcomes
// - Similarity index writes and query latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Vocabulary Registry Metrics
	VocabLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vocab_lookups_total",
			Help: "Total number of vocabulary lookups",
		},
		[]string{"category", "result"}, // result: "hit", "miss"
	)

	VocabAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vocab_allocations_total",
			Help: "Total number of new vocabulary slot allocations",
		},
		[]string{"category"},
	)

	VocabRacesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vocab_races_resolved_total",
			Help: "Total number of allocation races resolved by re-reading the winner",
		},
		[]string{"category"},
	)

	VocabConsistencyFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vocab_consistency_faults_total",
			Help: "Total number of vocabulary consistency faults (insert rejected, re-read missed)",
		},
		[]string{"category"},
	)

	// Vector Encoder Metrics
	EncodeOverflows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encode_capacity_overflows_total",
			Help: "Total number of profile members skipped because their slot exceeded region capacity",
		},
		[]string{"category"},
	)

	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "encode_duration_seconds",
			Help:    "Duration of taste profile encoding in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ingestion Pipeline Metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_processed_total",
			Help: "Total number of taste events processed successfully",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of taste events dropped without retry",
		},
		[]string{"reason"}, // "unmarshal", "validation"
	)

	EventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_failed_total",
			Help: "Total number of taste events that failed processing and were nacked",
		},
	)

	NATSPublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_publish_total",
			Help: "Total number of events published to NATS",
		},
	)

	// Similarity Index Metrics
	IndexUpserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "index_upserts_total",
			Help: "Total number of vector upserts into the similarity index",
		},
	)

	IndexUpsertErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "index_upsert_errors_total",
			Help: "Total number of failed similarity index upserts",
		},
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "index_users",
			Help: "Current number of users tracked by the similarity index",
		},
	)

	// Query Service Metrics
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommend_query_duration_seconds",
			Help:    "Duration of similarity queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	RecommendationsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Total number of recommendation results returned to clients",
		},
	)
)

// RecordVocabLookup records a registry lookup outcome.
func RecordVocabLookup(category string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	VocabLookups.WithLabelValues(category, result).Inc()
}

// RecordVocabAllocation records a successful new slot allocation.
func RecordVocabAllocation(category string) {
	VocabAllocations.WithLabelValues(category).Inc()
}

// RecordVocabRaceResolved records an allocation race resolved by adopting
// the winning entry.
func RecordVocabRaceResolved(category string) {
	VocabRacesResolved.WithLabelValues(category).Inc()
}

// RecordVocabConsistencyFault records a double-miss consistency fault.
func RecordVocabConsistencyFault(category string) {
	VocabConsistencyFaults.WithLabelValues(category).Inc()
}

// RecordEncodeOverflow records a skipped profile member whose slot fell
// outside its region capacity.
func RecordEncodeOverflow(category string) {
	EncodeOverflows.WithLabelValues(category).Inc()
}

// RecordEncodeDuration records the time spent encoding one profile.
func RecordEncodeDuration(duration time.Duration) {
	EncodeDuration.Observe(duration.Seconds())
}

// RecordEventProcessed records a fully processed taste event.
func RecordEventProcessed() {
	EventsProcessed.Inc()
}

// RecordEventDropped records an event dropped without retry.
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventFailed records an event that failed and will be redelivered.
func RecordEventFailed() {
	EventsFailed.Inc()
}

// RecordNATSPublish records an event published to the broker.
func RecordNATSPublish() {
	NATSPublishes.Inc()
}

// RecordIndexUpsert records a similarity index write outcome and the
// resulting index size.
func RecordIndexUpsert(err error, size int) {
	if err != nil {
		IndexUpsertErrors.Inc()
		return
	}
	IndexUpserts.Inc()
	IndexSize.Set(float64(size))
}

// RecordQuery records a similarity query and the number of results served.
func RecordQuery(duration time.Duration, results int) {
	QueryDuration.Observe(duration.Seconds())
	RecommendationsServed.Add(float64(results))
}
