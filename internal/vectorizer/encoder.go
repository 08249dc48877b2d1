// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package vectorizer turns taste profiles into fixed-dimension weighted
// vectors. The vector is partitioned into contiguous regions, one per
// vocabulary category, and a profile member sets exactly one component in
// its region.
package vectorizer

import (
	"context"
	"fmt"
	"time"

	"github.com/rhythmsocial/resonate/internal/logging"
	"github.com/rhythmsocial/resonate/internal/metrics"
	"github.com/rhythmsocial/resonate/internal/models"
	"github.com/rhythmsocial/resonate/internal/vocab"
)

// Layout fixes the per-category region capacities. The regions are laid out
// contiguously: artists at [0, A), genres at [A, A+G), tracks at [A+G, D).
//
// A layout is immutable for the lifetime of an index: changing any capacity
// shifts the downstream regions and invalidates every stored vector.
type Layout struct {
	ArtistCapacity int
	GenreCapacity  int
	TrackCapacity  int
}

// Dimension returns the total vector dimension.
func (l Layout) Dimension() int {
	return l.ArtistCapacity + l.GenreCapacity + l.TrackCapacity
}

// GenreOffset returns the start of the genre region.
func (l Layout) GenreOffset() int {
	return l.ArtistCapacity
}

// TrackOffset returns the start of the track region.
func (l Layout) TrackOffset() int {
	return l.ArtistCapacity + l.GenreCapacity
}

// Weights are the component values written for a present profile member,
// by category. Relative magnitudes express how strongly each category
// drives similarity.
type Weights struct {
	Artist float32
	Genre  float32
	Track  float32
}

// SlotResolver resolves an external identifier to its vocabulary slot,
// allocating one for unseen identifiers. *vocab.Registry satisfies this.
type SlotResolver interface {
	GetOrCreateSlot(ctx context.Context, category vocab.Category, externalID, displayName string) (int, error)
}

// Encoder encodes taste profiles against a fixed layout.
type Encoder struct {
	layout   Layout
	weights  Weights
	resolver SlotResolver
}

// NewEncoder creates an encoder. The layout and weights are fixed for the
// encoder's lifetime.
func NewEncoder(layout Layout, weights Weights, resolver SlotResolver) *Encoder {
	return &Encoder{
		layout:   layout,
		weights:  weights,
		resolver: resolver,
	}
}

// Layout returns the encoder's vector layout.
func (e *Encoder) Layout() Layout {
	return e.layout
}

// Encode builds the weighted vector for a profile.
//
// A member whose slot falls outside its region capacity is skipped with a
// warning; the rest of the profile still encodes. Registry errors abort the
// encode so a partial vector is never produced.
func (e *Encoder) Encode(ctx context.Context, profile *models.TasteProfile) ([]float32, error) {
	start := time.Now()
	vector := make([]float32, e.layout.Dimension())

	for _, artist := range profile.TopArtists {
		slot, err := e.resolver.GetOrCreateSlot(ctx, vocab.CategoryArtist, artist.ID, artist.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve artist %q: %w", artist.ID, err)
		}
		if slot >= e.layout.ArtistCapacity {
			e.warnOverflow(vocab.CategoryArtist, artist.ID, slot, e.layout.ArtistCapacity)
			continue
		}
		vector[slot] = e.weights.Artist
	}

	for _, genre := range profile.TopGenres {
		slot, err := e.resolver.GetOrCreateSlot(ctx, vocab.CategoryGenre, genre, genre)
		if err != nil {
			return nil, fmt.Errorf("resolve genre %q: %w", genre, err)
		}
		if slot >= e.layout.GenreCapacity {
			e.warnOverflow(vocab.CategoryGenre, genre, slot, e.layout.GenreCapacity)
			continue
		}
		vector[e.layout.GenreOffset()+slot] = e.weights.Genre
	}

	for _, track := range profile.TopTracks {
		slot, err := e.resolver.GetOrCreateSlot(ctx, vocab.CategoryTrack, track.ID, track.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve track %q: %w", track.ID, err)
		}
		if slot >= e.layout.TrackCapacity {
			e.warnOverflow(vocab.CategoryTrack, track.ID, slot, e.layout.TrackCapacity)
			continue
		}
		vector[e.layout.TrackOffset()+slot] = e.weights.Track
	}

	metrics.RecordEncodeDuration(time.Since(start))
	return vector, nil
}

func (e *Encoder) warnOverflow(category vocab.Category, externalID string, slot, capacity int) {
	metrics.RecordEncodeOverflow(string(category))
	logging.Warn().
		Str("category", string(category)).
		Str("external_id", externalID).
		Int("slot", slot).
		Int("capacity", capacity).
		Msg("vocabulary region full, member skipped")
}
