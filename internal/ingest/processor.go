// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rhythmsocial/resonate/internal/logging"
	"github.com/rhythmsocial/resonate/internal/metrics"
	"github.com/rhythmsocial/resonate/internal/models"
	"github.com/rhythmsocial/resonate/internal/validation"
)

// ErrMalformedEvent marks a payload that can never be processed: broken
// JSON or a missing userId/musicTaste. Such events are dropped and acked,
// never redelivered.
var ErrMalformedEvent = errors.New("malformed taste event")

// Encoder turns a taste profile into its vector.
type Encoder interface {
	Encode(ctx context.Context, profile *models.TasteProfile) ([]float32, error)
}

// Indexer stores a user's vector in the similarity index.
type Indexer interface {
	Upsert(ctx context.Context, userID string, vector []float32) error
}

// Processor is the per-event unit of work: unmarshal, validate, encode,
// upsert. It is stateless and safe for concurrent use.
type Processor struct {
	encoder Encoder
	indexer Indexer
}

// NewProcessor creates a processor over an encoder and an index.
func NewProcessor(encoder Encoder, indexer Indexer) *Processor {
	return &Processor{
		encoder: encoder,
		indexer: indexer,
	}
}

// Process handles one taste-update payload end to end.
//
// Returns ErrMalformedEvent for payloads that can never succeed; callers
// drop those without retry. Any other error means a dependency failed and
// the event is safe to redeliver: nothing is half-written, because the
// index upsert is the single side effect and it is atomic per user.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	var event models.TasteUpdateEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.RecordEventDropped("unmarshal")
		return fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	if err := validation.ValidateStruct(&event); err != nil {
		metrics.RecordEventDropped("validation")
		return fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	vector, err := p.encoder.Encode(ctx, event.MusicTaste)
	if err != nil {
		metrics.RecordEventFailed()
		return fmt.Errorf("encode taste for %q: %w", event.UserID, err)
	}

	if err := p.indexer.Upsert(ctx, event.UserID, vector); err != nil {
		metrics.RecordEventFailed()
		return fmt.Errorf("upsert vector for %q: %w", event.UserID, err)
	}

	metrics.RecordEventProcessed()
	logging.Debug().
		Str("user_id", event.UserID).
		Str("event_id", event.EventID).
		Int("artists", len(event.MusicTaste.TopArtists)).
		Int("genres", len(event.MusicTaste.TopGenres)).
		Int("tracks", len(event.MusicTaste.TopTracks)).
		Msg("taste event processed")
	return nil
}
