// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/rhythmsocial/resonate/internal/models"
	"github.com/rhythmsocial/resonate/internal/vectorizer"
	"github.com/rhythmsocial/resonate/internal/vocab"
)

type fakeRecommender struct {
	results []models.Recommendation
	err     error
	gotTopK int
}

func (f *fakeRecommender) QueryByUser(_ context.Context, _ string, topK int) ([]models.Recommendation, error) {
	f.gotTopK = topK
	return f.results, f.err
}

type fakePublisher struct {
	err    error
	events []*models.TasteUpdateEvent
}

func (f *fakePublisher) PublishTasteUpdate(_ context.Context, event *models.TasteUpdateEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeVocab struct {
	counters map[vocab.Category]uint64
	err      error
}

func (f *fakeVocab) CounterValue(_ context.Context, category vocab.Category) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counters[category], nil
}

func testLayout() vectorizer.Layout {
	return vectorizer.Layout{ArtistCapacity: 10, GenreCapacity: 5, TrackCapacity: 10}
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/recommend/{userID}", h.Recommend)
	r.Post("/taste/{userID}", h.TasteUpdate)
	r.Get("/vocab/stats", h.VocabStats)
	r.Get("/health", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecommendExcludesSelfAndHonorsLimit(t *testing.T) {
	recommender := &fakeRecommender{results: []models.Recommendation{
		{UserID: "self", Score: 1.0},
		{UserID: "alice", Score: 0.99},
		{UserID: "bob", Score: 0.5},
	}}
	h := NewHandler(recommender, nil, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/self?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if recommender.gotTopK != 3 {
		t.Errorf("topK = %d, want limit+1 = 3", recommender.gotTopK)
	}

	var got []models.Recommendation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].UserID != "alice" || got[1].UserID != "bob" {
		t.Errorf("results = %v, want [alice bob]", got)
	}
	for _, r := range got {
		if r.UserID == "self" {
			t.Error("querying user appears in its own recommendations")
		}
	}
}

func TestRecommendUnknownUserReturnsEmptyArray(t *testing.T) {
	h := NewHandler(&fakeRecommender{}, nil, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/nobody", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Errorf("body = %q, want [] (empty array, never null)", body)
	}
}

func TestRecommendInvalidLimit(t *testing.T) {
	h := NewHandler(&fakeRecommender{}, nil, &fakeVocab{}, testLayout(), 10, 50)

	for _, limit := range []string{"abc", "-1", "1.5"} {
		rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/u1?limit="+limit, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%q: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestRecommendLimitZeroReturnsEmptyPage(t *testing.T) {
	// limit=0 asks for an empty page. That is a well-formed request and
	// must not be rejected, even when similar users exist.
	recommender := &fakeRecommender{results: []models.Recommendation{
		{UserID: "alice", Score: 0.9},
	}}
	h := NewHandler(recommender, nil, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/u1?limit=0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestRecommendClampsToMaxLimit(t *testing.T) {
	recommender := &fakeRecommender{}
	h := NewHandler(recommender, nil, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/u1?limit=9999", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if recommender.gotTopK != 51 {
		t.Errorf("topK = %d, want maxLimit+1 = 51", recommender.gotTopK)
	}
}

func TestRecommendQueryFailure(t *testing.T) {
	recommender := &fakeRecommender{err: errors.New("index offline")}
	h := NewHandler(recommender, nil, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/recommend/u1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error = %+v, want code INTERNAL_ERROR", resp.Error)
	}
}

func TestTasteUpdateAccepted(t *testing.T) {
	publisher := &fakePublisher{}
	h := NewHandler(&fakeRecommender{}, publisher, &fakeVocab{}, testLayout(), 10, 50)

	body := []byte(`{"topArtists":[{"id":"a1","name":"Artist"}],"topGenres":["jazz"],"topTracks":[]}`)
	rec := doRequest(t, testRouter(h), http.MethodPost, "/taste/user-1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.UserID != "user-1" {
		t.Errorf("event.UserID = %q, want user-1", event.UserID)
	}
	if event.EventID == "" {
		t.Error("event.EventID is empty")
	}
	if event.MusicTaste == nil || len(event.MusicTaste.TopArtists) != 1 {
		t.Errorf("event.MusicTaste = %+v", event.MusicTaste)
	}
}

func TestTasteUpdateInvalidBody(t *testing.T) {
	publisher := &fakePublisher{}
	h := NewHandler(&fakeRecommender{}, publisher, &fakeVocab{}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodPost, "/taste/user-1", []byte("{broken"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(publisher.events) != 0 {
		t.Error("malformed body was published")
	}
}

func TestTasteUpdatePublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker unreachable")}
	h := NewHandler(&fakeRecommender{}, publisher, &fakeVocab{}, testLayout(), 10, 50)

	body := []byte(`{"topArtists":[],"topGenres":[],"topTracks":[]}`)
	rec := doRequest(t, testRouter(h), http.MethodPost, "/taste/user-1", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTasteUpdateWithoutPublisher(t *testing.T) {
	h := NewHandler(&fakeRecommender{}, nil, &fakeVocab{}, testLayout(), 10, 50)

	body := []byte(`{"topArtists":[],"topGenres":[],"topTracks":[]}`)
	rec := doRequest(t, testRouter(h), http.MethodPost, "/taste/user-1", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when ingestion is disabled", rec.Code)
	}
}

func TestVocabStats(t *testing.T) {
	vocabReader := &fakeVocab{counters: map[vocab.Category]uint64{
		vocab.CategoryArtist: 7,
		vocab.CategoryGenre:  3,
		vocab.CategoryTrack:  9,
	}}
	h := NewHandler(&fakeRecommender{}, nil, vocabReader, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/vocab/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data models.VocabStats `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Data.Dimension != 25 {
		t.Errorf("Dimension = %d, want 25", resp.Data.Dimension)
	}
	if len(resp.Data.Categories) != 3 {
		t.Fatalf("got %d categories, want 3", len(resp.Data.Categories))
	}
	for _, c := range resp.Data.Categories {
		if c.Category == "artist" && (c.Allocated != 7 || c.Capacity != 10) {
			t.Errorf("artist stats = %+v", c)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := NewHandler(&fakeRecommender{}, nil, &fakeVocab{}, testLayout(), 10, 50)
	router := testRouter(h)

	if rec := doRequest(t, router, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodGet, "/health/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("/health/ready status = %d, want 200", rec.Code)
	}
}

func TestHealthReadyStoreDown(t *testing.T) {
	h := NewHandler(&fakeRecommender{}, nil, &fakeVocab{err: errors.New("store closed")}, testLayout(), 10, 50)

	rec := doRequest(t, testRouter(h), http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
