// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package models defines the wire and domain types shared across the service:
// taste profiles, taste-update events, and recommendation results.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current taste-update event schema version.
// Increment this when making breaking changes to TasteUpdateEvent.
const SchemaVersion = 1

// ArtistRef identifies an artist by its catalog ID with a display name.
type ArtistRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// TrackRef identifies a track by its catalog ID with a display name.
type TrackRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// TasteProfile is a user's listening summary: top artists, genres, and
// tracks. Genres carry no catalog ID; the genre string is its own identifier.
//
// The JSON field names match the upstream listening-history exporter payloads.
type TasteProfile struct {
	TopArtists []ArtistRef `json:"topArtists"`
	TopGenres  []string    `json:"topGenres"`
	TopTracks  []TrackRef  `json:"topTracks"`
}

// IsEmpty reports whether the profile has no members in any category.
// Empty profiles encode to the zero vector, which has no cosine direction.
func (p *TasteProfile) IsEmpty() bool {
	return len(p.TopArtists) == 0 && len(p.TopGenres) == 0 && len(p.TopTracks) == 0
}

// TasteUpdateEvent is the canonical ingestion event: a user's refreshed
// taste profile. UserID and MusicTaste are mandatory; events missing either
// are dropped by the processor, never retried.
type TasteUpdateEvent struct {
	SchemaVersion int           `json:"schema_version,omitempty"`
	EventID       string        `json:"event_id"`
	UserID        string        `json:"userId" validate:"required"`
	MusicTaste    *TasteProfile `json:"musicTaste" validate:"required"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewTasteUpdateEvent creates an event with a unique ID, timestamp, and
// schema version.
func NewTasteUpdateEvent(userID string, taste *TasteProfile) *TasteUpdateEvent {
	return &TasteUpdateEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		UserID:        userID,
		MusicTaste:    taste,
		Timestamp:     time.Now().UTC(),
	}
}

// Recommendation is a single similar-user result returned by the query
// service. Score is cosine similarity in [-1, 1]; results are ordered by
// descending score.
type Recommendation struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
}
