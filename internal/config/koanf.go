// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/resonate/config.yaml",
	"/etc/resonate/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Vocab: VocabConfig{
			ArtistCapacity: 9000,
			GenreCapacity:  1000,
			TrackCapacity:  10000,
			ArtistWeight:   1.5,
			GenreWeight:    1.0,
			TrackWeight:    2.0,
		},
		Store: StoreConfig{
			Path:     "/data/resonate/vocab",
			InMemory: false,
		},
		Index: IndexConfig{
			DataDir: "/data/resonate/index",
		},
		NATS: NATSConfig{
			Enabled:          true,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/resonate/jetstream",
			MaxMemory:        1 << 30,  // 1GB
			MaxStore:         10 << 30, // 10GB
			StreamName:       "TASTE_EVENTS",
			DurableName:      "taste-processor",
			QueueGroup:       "processors",
			SubscribersCount: 4,
			AckWait:          30 * time.Second,
			MaxDeliver:       5,
		},
		API: APIConfig{
			DefaultLimit: 50,
			MaxLimit:     200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// HTTP_PORT -> server.port
	// VOCAB_ARTIST_CAPACITY -> vocab.artist_capacity
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - VOCAB_TRACK_WEIGHT -> vocab.track_weight
//   - NATS_URL -> nats.url
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		// Vocabulary / vector layout mappings
		"vocab_artist_capacity": "vocab.artist_capacity",
		"vocab_genre_capacity":  "vocab.genre_capacity",
		"vocab_track_capacity":  "vocab.track_capacity",
		"vocab_artist_weight":   "vocab.artist_weight",
		"vocab_genre_weight":    "vocab.genre_weight",
		"vocab_track_weight":    "vocab.track_weight",

		// Store mappings
		"store_path":      "store.path",
		"store_in_memory": "store.in_memory",

		// Index mappings
		"index_data_dir": "index.data_dir",

		// NATS mappings
		"nats_enabled":      "nats.enabled",
		"nats_url":          "nats.url",
		"nats_embedded":     "nats.embedded_server",
		"nats_store_dir":    "nats.store_dir",
		"nats_max_memory":   "nats.max_memory",
		"nats_max_store":    "nats.max_store",
		"nats_stream_name":  "nats.stream_name",
		"nats_durable_name": "nats.durable_name",
		"nats_queue_group":  "nats.queue_group",
		"nats_subscribers":  "nats.subscribers_count",
		"nats_ack_wait":     "nats.ack_wait",
		"nats_max_deliver":  "nats.max_deliver",

		// API mappings
		"api_default_limit": "api.default_limit",
		"api_max_limit":     "api.max_limit",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables
	// do not pollute the config.
	return ""
}
