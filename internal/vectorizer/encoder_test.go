// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package vectorizer

import (
	"context"
	"errors"
	"testing"

	"github.com/rhythmsocial/resonate/internal/models"
	"github.com/rhythmsocial/resonate/internal/vocab"
)

// fakeResolver assigns slots sequentially per category, like the registry
// does, but in memory.
type fakeResolver struct {
	slots map[vocab.Category]map[string]int
	next  map[vocab.Category]int
	err   error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		slots: make(map[vocab.Category]map[string]int),
		next:  make(map[vocab.Category]int),
	}
}

func (f *fakeResolver) GetOrCreateSlot(_ context.Context, category vocab.Category, externalID, _ string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.slots[category] == nil {
		f.slots[category] = make(map[string]int)
	}
	if slot, ok := f.slots[category][externalID]; ok {
		return slot, nil
	}
	slot := f.next[category]
	f.next[category]++
	f.slots[category][externalID] = slot
	return slot, nil
}

func testLayout() Layout {
	return Layout{ArtistCapacity: 10, GenreCapacity: 5, TrackCapacity: 20}
}

func testWeights() Weights {
	return Weights{Artist: 1.5, Genre: 1.0, Track: 2.0}
}

func nonZero(vector []float32) map[int]float32 {
	out := make(map[int]float32)
	for i, v := range vector {
		if v != 0 {
			out[i] = v
		}
	}
	return out
}

func TestEncodeRegionsAndWeights(t *testing.T) {
	layout := testLayout()
	enc := NewEncoder(layout, testWeights(), newFakeResolver())

	profile := &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "a1", Name: "Artist"}},
		TopGenres:  []string{"jazz"},
		TopTracks:  []models.TrackRef{{ID: "t1", Name: "Track"}},
	}

	vector, err := enc.Encode(context.Background(), profile)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(vector) != layout.Dimension() {
		t.Fatalf("len(vector) = %d, want %d", len(vector), layout.Dimension())
	}

	want := map[int]float32{
		0:                    1.5, // first artist slot
		layout.GenreOffset(): 1.0, // first genre slot
		layout.TrackOffset(): 2.0, // first track slot
	}
	got := nonZero(vector)
	if len(got) != len(want) {
		t.Fatalf("nonzero components = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("vector[%d] = %g, want %g", i, got[i], w)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	enc := NewEncoder(testLayout(), testWeights(), newFakeResolver())

	profile := &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "a1"}, {ID: "a2"}},
		TopGenres:  []string{"rock", "jazz"},
		TopTracks:  []models.TrackRef{{ID: "t1"}},
	}

	first, err := enc.Encode(context.Background(), profile)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	second, err := enc.Encode(context.Background(), profile)
	if err != nil {
		t.Fatalf("Encode() second error = %v", err)
	}

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vector[%d] differs between encodes: %g vs %g", i, first[i], second[i])
		}
	}
}

func TestEncodeEmptyProfile(t *testing.T) {
	enc := NewEncoder(testLayout(), testWeights(), newFakeResolver())

	vector, err := enc.Encode(context.Background(), &models.TasteProfile{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := nonZero(vector); len(got) != 0 {
		t.Errorf("empty profile produced nonzero components: %v", got)
	}
}

func TestEncodeCapacityOverflowSkips(t *testing.T) {
	layout := Layout{ArtistCapacity: 2, GenreCapacity: 5, TrackCapacity: 20}
	enc := NewEncoder(layout, testWeights(), newFakeResolver())

	// Three artists against capacity 2: the third overflows and is skipped.
	profile := &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}},
		TopGenres:  []string{"jazz"},
	}

	vector, err := enc.Encode(context.Background(), profile)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got := nonZero(vector)
	if len(got) != 3 {
		t.Fatalf("nonzero components = %d, want 3 (overflowing artist skipped)", len(got))
	}
	if got[0] != 1.5 || got[1] != 1.5 {
		t.Errorf("artist region = %v, want slots 0 and 1 set to 1.5", got)
	}
	if got[layout.GenreOffset()] != 1.0 {
		t.Errorf("genre component missing, got %v", got)
	}
}

func TestEncodeResolverErrorAborts(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = errors.New("store unavailable")
	enc := NewEncoder(testLayout(), testWeights(), resolver)

	profile := &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "a1"}},
	}

	vector, err := enc.Encode(context.Background(), profile)
	if err == nil {
		t.Fatal("Encode() error = nil, want resolver error")
	}
	if vector != nil {
		t.Error("Encode() returned a partial vector alongside an error")
	}
}

func TestEncodeSharedIDAcrossCategories(t *testing.T) {
	layout := testLayout()
	enc := NewEncoder(layout, testWeights(), newFakeResolver())

	// The same external ID in artist and track categories must land in
	// both regions independently.
	profile := &models.TasteProfile{
		TopArtists: []models.ArtistRef{{ID: "same"}},
		TopTracks:  []models.TrackRef{{ID: "same"}},
	}

	vector, err := enc.Encode(context.Background(), profile)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got := nonZero(vector)
	if got[0] != 1.5 {
		t.Errorf("artist component = %g, want 1.5", got[0])
	}
	if got[layout.TrackOffset()] != 2.0 {
		t.Errorf("track component = %g, want 2.0", got[layout.TrackOffset()])
	}
}
