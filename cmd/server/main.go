// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Command server runs the Resonate service: the vocabulary registry,
// taste-event ingestion pipeline, similarity index, and HTTP query API
// under a single supervisor tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nats-io/nats.go"

	"github.com/rhythmsocial/resonate/internal/api"
	"github.com/rhythmsocial/resonate/internal/config"
	"github.com/rhythmsocial/resonate/internal/ingest"
	"github.com/rhythmsocial/resonate/internal/logging"
	"github.com/rhythmsocial/resonate/internal/simindex"
	"github.com/rhythmsocial/resonate/internal/supervisor"
	"github.com/rhythmsocial/resonate/internal/supervisor/services"
	"github.com/rhythmsocial/resonate/internal/vectorizer"
	"github.com/rhythmsocial/resonate/internal/vocab"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("service failed")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("dimension", cfg.Vocab.Dimension()).
		Int("port", cfg.Server.Port).
		Bool("nats", cfg.NATS.Enabled).
		Msg("starting resonate")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Vocabulary registry on Badger.
	db, err := openBadger(cfg.Store)
	if err != nil {
		return fmt.Errorf("open vocabulary store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("closing vocabulary store")
		}
	}()

	registry := vocab.NewRegistry(db)
	if err := registry.EnsureCounters(ctx); err != nil {
		return fmt.Errorf("initialize vocabulary counters: %w", err)
	}

	// Vector encoder over the registry.
	layout := vectorizer.Layout{
		ArtistCapacity: cfg.Vocab.ArtistCapacity,
		GenreCapacity:  cfg.Vocab.GenreCapacity,
		TrackCapacity:  cfg.Vocab.TrackCapacity,
	}
	weights := vectorizer.Weights{
		Artist: float32(cfg.Vocab.ArtistWeight),
		Genre:  float32(cfg.Vocab.GenreWeight),
		Track:  float32(cfg.Vocab.TrackWeight),
	}
	encoder := vectorizer.NewEncoder(layout, weights, registry)

	// Similarity index, restored from the last snapshot when present.
	index, err := simindex.NewCometIndex(layout.Dimension())
	if err != nil {
		return fmt.Errorf("create similarity index: %w", err)
	}
	if cfg.Index.DataDir != "" {
		if err := index.LoadSnapshot(cfg.Index.DataDir); err != nil {
			return fmt.Errorf("restore index snapshot: %w", err)
		}
		logging.Info().Int("users", index.Len()).Msg("similarity index restored")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.Timeout,
	})

	if cfg.Index.DataDir != "" {
		tree.AddDataService(services.NewSnapshotService(index, cfg.Index.DataDir, 5*time.Minute))
	}

	// Ingestion pipeline.
	var publisher *ingest.Publisher
	if cfg.NATS.Enabled {
		publisher, err = setupIngestion(ctx, cfg, tree, encoder, index)
		if err != nil {
			return fmt.Errorf("set up ingestion pipeline: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("closing publisher")
			}
		}()
	}

	// HTTP query surface. The Handler takes the publisher through an
	// interface, so a typed nil pointer must not reach it.
	var tastePublisher api.TastePublisher
	if publisher != nil {
		tastePublisher = publisher
	}
	handler := api.NewHandler(index, tastePublisher, registry, layout,
		cfg.API.DefaultLimit, cfg.API.MaxLimit)
	router := api.NewRouter(handler, api.DefaultRouterConfig())

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	logging.Info().Str("addr", server.Addr).Msg("resonate ready")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	logging.Info().Msg("resonate stopped")
	return nil
}

func openBadger(cfg config.StoreConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	return badger.Open(opts)
}

// setupIngestion starts the NATS side: optionally an embedded server, the
// taste event stream, the publisher, and the supervised consumer workers.
func setupIngestion(ctx context.Context, cfg *config.Config, tree *supervisor.Tree,
	encoder *vectorizer.Encoder, index *simindex.CometIndex) (*ingest.Publisher, error) {
	url := cfg.NATS.URL

	if cfg.NATS.EmbeddedServer {
		serverCfg := ingest.DefaultServerConfig()
		if cfg.NATS.StoreDir != "" {
			serverCfg.StoreDir = cfg.NATS.StoreDir
		}
		if cfg.NATS.MaxMemory > 0 {
			serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		}
		if cfg.NATS.MaxStore > 0 {
			serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore
		}

		embedded, err := ingest.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats server: %w", err)
		}
		url = embedded.ClientURL()
		logging.Info().Str("url", url).Msg("embedded nats server started")

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("embedded nats shutdown")
			}
		}()
	}

	// Provision the stream before any consumer binds to it.
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	streamCfg := ingest.DefaultStreamConfig()
	if cfg.NATS.StreamName != "" {
		streamCfg.Name = cfg.NATS.StreamName
	}
	manager, err := ingest.NewStreamManager(nc, &streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream manager: %w", err)
	}
	if _, err := manager.EnsureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure taste event stream: %w", err)
	}

	wmLogger := ingest.NewWatermillLogger()

	publisher, err := ingest.NewPublisher(ingest.DefaultPublisherConfig(url), wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	publisher.SetCircuitBreaker(ingest.NewPublishBreaker(
		ingest.DefaultCircuitBreakerConfig("taste-publish"), wmLogger))

	subCfg := ingest.DefaultSubscriberConfig(url)
	subCfg.StreamName = streamCfg.Name
	if cfg.NATS.DurableName != "" {
		subCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		subCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	if cfg.NATS.SubscribersCount > 0 {
		subCfg.SubscribersCount = cfg.NATS.SubscribersCount
	}
	if cfg.NATS.AckWait > 0 {
		subCfg.AckWaitTimeout = cfg.NATS.AckWait
	}
	if cfg.NATS.MaxDeliver > 0 {
		subCfg.MaxDeliver = cfg.NATS.MaxDeliver
	}

	subscriber, err := ingest.NewSubscriber(&subCfg, wmLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	processor := ingest.NewProcessor(encoder, index)
	tree.AddIngestService(ingest.NewWorker(subscriber, processor, ingest.TopicTasteUpdated))

	return publisher, nil
}
