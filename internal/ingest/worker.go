// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package ingest

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/rhythmsocial/resonate/internal/logging"
)

// Worker binds the subscriber to the processor as a supervised service.
// It implements suture.Service via Serve.
type Worker struct {
	subscriber *Subscriber
	processor  *Processor
	topic      string
}

// NewWorker creates a worker consuming taste updates from the given topic.
func NewWorker(subscriber *Subscriber, processor *Processor, topic string) *Worker {
	return &Worker{
		subscriber: subscriber,
		processor:  processor,
		topic:      topic,
	}
}

// Serve consumes messages until context cancellation.
//
// Ack discipline: an event is acked only after Process completes, so a
// crash mid-processing redelivers it. Malformed events are acked and
// dropped with a warning; they would fail identically on every redelivery.
// Dependency failures nack, and JetStream's MaxDeliver bounds how often a
// failing event comes back.
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().
		Str("topic", w.topic).
		Msg("taste ingest worker starting")

	return w.subscriber.NewMessageHandler(w.topic).
		Handle(func(ctx context.Context, msg *message.Message) error {
			err := w.processor.Process(ctx, msg.Payload)
			if errors.Is(err, ErrMalformedEvent) {
				logging.Warn().
					Err(err).
					Str("message_uuid", msg.UUID).
					Msg("dropping malformed taste event")
				return nil
			}
			return err
		}).
		Run(ctx)
}

// String names the worker in supervisor logs.
func (w *Worker) String() string {
	return "taste-ingest-worker"
}
