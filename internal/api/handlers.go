// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package api provides the HTTP query surface: similar-user
// recommendations, taste-profile submission, vocabulary stats, and health.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/rhythmsocial/resonate/internal/metrics"
	"github.com/rhythmsocial/resonate/internal/models"
	"github.com/rhythmsocial/resonate/internal/validation"
	"github.com/rhythmsocial/resonate/internal/vectorizer"
	"github.com/rhythmsocial/resonate/internal/vocab"
)

// Recommender answers similarity queries. *simindex.CometIndex satisfies this.
type Recommender interface {
	QueryByUser(ctx context.Context, userID string, topK int) ([]models.Recommendation, error)
}

// TastePublisher publishes taste-update events for asynchronous processing.
// *ingest.Publisher satisfies this.
type TastePublisher interface {
	PublishTasteUpdate(ctx context.Context, event *models.TasteUpdateEvent) error
}

// VocabReader exposes registry counters for the stats endpoint.
// *vocab.Registry satisfies this.
type VocabReader interface {
	CounterValue(ctx context.Context, category vocab.Category) (uint64, error)
}

// Handler holds the query-surface dependencies.
type Handler struct {
	recommender  Recommender
	publisher    TastePublisher
	vocab        VocabReader
	layout       vectorizer.Layout
	defaultLimit int
	maxLimit     int
}

// NewHandler creates the API handler. publisher may be nil when the
// ingestion pipeline is disabled; taste submission then returns 503.
func NewHandler(recommender Recommender, publisher TastePublisher, vocabReader VocabReader,
	layout vectorizer.Layout, defaultLimit, maxLimit int) *Handler {
	return &Handler{
		recommender:  recommender,
		publisher:    publisher,
		vocab:        vocabReader,
		layout:       layout,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Recommend handles GET /recommend/{userID}?limit=N.
//
// Returns a bare JSON array of {userId, score} ordered by descending
// similarity. The querying user never appears in the results. An unknown
// user gets an empty array, not a 404: "no similar users yet" is a valid
// answer. Infrastructure failures return 500 with no partial list.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userID is required", nil)
		return
	}

	// limit=0 is a valid request for an empty page, not an error.
	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	start := time.Now()

	// Fetch one extra so filtering out the querying user still leaves a
	// full page.
	neighbors, err := h.recommender.QueryByUser(r.Context(), userID, limit+1)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"similarity query failed", err)
		return
	}

	results := make([]models.Recommendation, 0, limit)
	for _, rec := range neighbors {
		if rec.UserID == userID {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, rec)
	}

	metrics.RecordQuery(time.Since(start), len(results))
	respondRaw(w, http.StatusOK, results)
}

// TasteUpdate handles POST /taste/{userID}.
//
// Accepts a taste profile document and publishes it to the event stream for
// asynchronous encoding and indexing. 202 means accepted, not indexed.
func (h *Handler) TasteUpdate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userID is required", nil)
		return
	}
	if h.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_ERROR",
			"event ingestion is disabled", nil)
		return
	}

	var profile models.TasteProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"request body is not a valid taste profile", err)
		return
	}

	event := models.NewTasteUpdateEvent(userID, &profile)
	if err := validation.ValidateStruct(event); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.publisher.PublishTasteUpdate(r.Context(), event); err != nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_ERROR",
			"failed to publish taste update", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"event_id": event.EventID,
			"user_id":  event.UserID,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// VocabStats handles GET /vocab/stats: per-category slot usage against
// capacity, plus the total vector dimension.
func (h *Handler) VocabStats(w http.ResponseWriter, r *http.Request) {
	capacities := map[vocab.Category]int{
		vocab.CategoryArtist: h.layout.ArtistCapacity,
		vocab.CategoryGenre:  h.layout.GenreCapacity,
		vocab.CategoryTrack:  h.layout.TrackCapacity,
	}

	stats := models.VocabStats{
		Categories: make([]models.VocabCategoryStats, 0, len(capacities)),
		Dimension:  h.layout.Dimension(),
	}
	for _, category := range vocab.Categories() {
		allocated, err := h.vocab.CounterValue(r.Context(), category)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"failed to read vocabulary counters", err)
			return
		}
		stats.Categories = append(stats.Categories, models.VocabCategoryStats{
			Category:  string(category),
			Allocated: allocated,
			Capacity:  capacities[category],
		})
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     stats,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthLive handles GET /health: process liveness, no dependency checks.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "ok"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady handles GET /health/ready: the service is ready when the
// vocabulary store answers reads.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.vocab.CounterValue(r.Context(), vocab.CategoryArtist); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY",
			"vocabulary store unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "ready"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
