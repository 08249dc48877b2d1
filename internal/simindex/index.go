// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package simindex provides the user similarity index: taste vectors keyed
// by user ID with cosine nearest-neighbor queries.
package simindex

import (
	"context"

	"github.com/rhythmsocial/resonate/internal/models"
)

// Index is the similarity index abstraction used by the ingestion pipeline
// and the query service.
type Index interface {
	// Upsert stores the user's vector, replacing any previous one.
	Upsert(ctx context.Context, userID string, vector []float32) error

	// QueryByUser returns up to topK users most similar to the given user,
	// ordered by descending cosine similarity. The querying user may appear
	// in the results; callers filter it. An unknown user yields an empty
	// result and no error.
	QueryByUser(ctx context.Context, userID string, topK int) ([]models.Recommendation, error)

	// Len returns the number of users tracked by the index.
	Len() int

	// Close releases index resources.
	Close() error
}
