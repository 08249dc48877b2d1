// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package config provides layered configuration loading for Resonate:
// struct defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Vocab   VocabConfig   `koanf:"vocab"`
	Store   StoreConfig   `koanf:"store"`
	Index   IndexConfig   `koanf:"index"`
	NATS    NATSConfig    `koanf:"nats"`
	API     APIConfig     `koanf:"api"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// VocabConfig fixes the vector layout: per-category slot capacities and
// the weight written for a present member of each category.
//
// Capacities are fixed at deploy time. Changing them after vectors have
// been written shifts the genre and track regions and invalidates every
// previously stored vector.
type VocabConfig struct {
	ArtistCapacity int `koanf:"artist_capacity"`
	GenreCapacity  int `koanf:"genre_capacity"`
	TrackCapacity  int `koanf:"track_capacity"`

	ArtistWeight float64 `koanf:"artist_weight"`
	GenreWeight  float64 `koanf:"genre_weight"`
	TrackWeight  float64 `koanf:"track_weight"`
}

// Dimension returns the total vector dimension across all category regions.
func (v VocabConfig) Dimension() int {
	return v.ArtistCapacity + v.GenreCapacity + v.TrackCapacity
}

// StoreConfig holds BadgerDB settings for the vocabulary registry.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// IndexConfig holds similarity-index settings.
type IndexConfig struct {
	// DataDir is where index snapshots are persisted across restarts.
	// Empty disables persistence.
	DataDir string `koanf:"data_dir"`
}

// NATSConfig holds NATS JetStream settings for the ingestion pipeline.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName       string        `koanf:"stream_name"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
}

// APIConfig holds query-surface settings.
type APIConfig struct {
	// DefaultLimit is used when a recommendation request omits ?limit.
	DefaultLimit int `koanf:"default_limit"`
	// MaxLimit caps the requested limit.
	MaxLimit int `koanf:"max_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would break the
// vector layout or the service at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Vocab.ArtistCapacity <= 0 || c.Vocab.GenreCapacity <= 0 || c.Vocab.TrackCapacity <= 0 {
		return fmt.Errorf("vocab capacities must be positive (artist=%d genre=%d track=%d)",
			c.Vocab.ArtistCapacity, c.Vocab.GenreCapacity, c.Vocab.TrackCapacity)
	}
	if c.Vocab.ArtistWeight <= 0 || c.Vocab.GenreWeight <= 0 || c.Vocab.TrackWeight <= 0 {
		return fmt.Errorf("vocab weights must be positive (artist=%g genre=%g track=%g)",
			c.Vocab.ArtistWeight, c.Vocab.GenreWeight, c.Vocab.TrackWeight)
	}
	if c.API.DefaultLimit <= 0 {
		return fmt.Errorf("api.default_limit must be positive, got %d", c.API.DefaultLimit)
	}
	if c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api.max_limit (%d) must be >= api.default_limit (%d)",
			c.API.MaxLimit, c.API.DefaultLimit)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
			return fmt.Errorf("nats.url is required when nats is enabled without an embedded server")
		}
		if c.NATS.SubscribersCount < 1 {
			return fmt.Errorf("nats.subscribers_count must be at least 1, got %d", c.NATS.SubscribersCount)
		}
	}
	return nil
}
