// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/rhythmsocial/resonate/internal/models"
)

type fakeEncoder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEncoder) Encode(_ context.Context, _ *models.TasteProfile) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

type fakeIndexer struct {
	err     error
	upserts map[string][]float32
}

func (f *fakeIndexer) Upsert(_ context.Context, userID string, vector []float32) error {
	if f.err != nil {
		return f.err
	}
	if f.upserts == nil {
		f.upserts = make(map[string][]float32)
	}
	f.upserts[userID] = vector
	return nil
}

func validPayload(t *testing.T) []byte {
	t.Helper()
	event := models.NewTasteUpdateEvent("user-1", &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "a1", Name: "Artist"}},
		TopGenres:  []string{"jazz"},
		TopTracks:  []models.TrackRef{{ID: "t1", Name: "Track"}},
	})
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestProcessSuccess(t *testing.T) {
	encoder := &fakeEncoder{vector: []float32{1, 0, 2}}
	indexer := &fakeIndexer{}
	p := NewProcessor(encoder, indexer)

	if err := p.Process(context.Background(), validPayload(t)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, ok := indexer.upserts["user-1"]
	if !ok {
		t.Fatal("vector not upserted for user-1")
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 2 {
		t.Errorf("upserted vector = %v, want [1 0 2]", got)
	}
}

func TestProcessMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"broken json", []byte("{not json")},
		{"missing userId", []byte(`{"musicTaste":{"topArtists":[],"topGenres":[],"topTracks":[]}}`)},
		{"missing musicTaste", []byte(`{"userId":"user-1"}`)},
		{"empty object", []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder := &fakeEncoder{vector: []float32{1}}
			indexer := &fakeIndexer{}
			p := NewProcessor(encoder, indexer)

			err := p.Process(context.Background(), tt.payload)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("Process() error = %v, want ErrMalformedEvent", err)
			}
			if encoder.calls != 0 {
				t.Error("encoder called for malformed event")
			}
			if len(indexer.upserts) != 0 {
				t.Error("index written for malformed event")
			}
		})
	}
}

func TestProcessEncoderFailureIsRetryable(t *testing.T) {
	encoder := &fakeEncoder{err: errors.New("registry down")}
	indexer := &fakeIndexer{}
	p := NewProcessor(encoder, indexer)

	err := p.Process(context.Background(), validPayload(t))
	if err == nil {
		t.Fatal("Process() error = nil, want encoder error")
	}
	if errors.Is(err, ErrMalformedEvent) {
		t.Error("infrastructure failure classified as malformed; it would never be retried")
	}
	if len(indexer.upserts) != 0 {
		t.Error("index written despite encode failure")
	}
}

func TestProcessIndexerFailureIsRetryable(t *testing.T) {
	encoder := &fakeEncoder{vector: []float32{1}}
	indexer := &fakeIndexer{err: errors.New("index unavailable")}
	p := NewProcessor(encoder, indexer)

	err := p.Process(context.Background(), validPayload(t))
	if err == nil {
		t.Fatal("Process() error = nil, want indexer error")
	}
	if errors.Is(err, ErrMalformedEvent) {
		t.Error("infrastructure failure classified as malformed; it would never be retried")
	}
}

func TestProcessEmptyProfileIsValid(t *testing.T) {
	// An empty taste profile is a legitimate event: the user cleared
	// their history. It encodes to the zero vector and still upserts.
	encoder := &fakeEncoder{vector: []float32{0, 0, 0}}
	indexer := &fakeIndexer{}
	p := NewProcessor(encoder, indexer)

	payload := []byte(`{"userId":"user-2","musicTaste":{"topArtists":[],"topGenres":[],"topTracks":[]}}`)
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := indexer.upserts["user-2"]; !ok {
		t.Error("empty profile not upserted")
	}
}
