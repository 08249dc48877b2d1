// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

// Package vocab implements the vocabulary registry: a persistent, per-category
// bijection between external catalog identifiers and vector slot indexes.
//
// Slots are allocated by an atomic counter per category and are never
// reclaimed. A slot burned by a lost allocation race stays unused forever;
// what matters is that no two identifiers ever share a slot and no identifier
// ever changes slot.
package vocab

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rhythmsocial/resonate/internal/logging"
	"github.com/rhythmsocial/resonate/internal/metrics"
)

// Category is a vocabulary namespace. Each category owns an independent
// slot space and counter.
type Category string

const (
	CategoryArtist Category = "artist"
	CategoryGenre  Category = "genre"
	CategoryTrack  Category = "track"
)

// Categories returns all vocabulary categories in region order.
func Categories() []Category {
	return []Category{CategoryArtist, CategoryGenre, CategoryTrack}
}

// Key prefixes for BadgerDB storage
const (
	entryKeyPrefix   = "vocab:"
	counterKeyPrefix = "counter:"
)

var (
	// ErrNotFound indicates no entry exists for the identifier.
	ErrNotFound = errors.New("vocabulary entry not found")

	// ErrDuplicateEntry indicates an insert lost a race: another writer
	// registered the identifier first.
	ErrDuplicateEntry = errors.New("vocabulary entry already exists")

	// ErrConsistencyFault indicates the store rejected an insert as a
	// duplicate but the subsequent read found nothing. The store is in an
	// inconsistent state and the operation must not be masked.
	ErrConsistencyFault = errors.New("vocabulary store consistency fault")
)

// Entry is one registered vocabulary member.
type Entry struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Slot       int    `json:"slot"`
}

// Registry is the BadgerDB-backed vocabulary registry.
type Registry struct {
	db *badger.DB
}

// NewRegistry creates a registry over an opened BadgerDB instance.
func NewRegistry(db *badger.DB) *Registry {
	return &Registry{db: db}
}

func entryKey(category Category, externalID string) []byte {
	return []byte(entryKeyPrefix + string(category) + ":" + externalID)
}

func counterKey(category Category) []byte {
	return []byte(counterKeyPrefix + string(category))
}

func encodeCounter(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeCounter(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("counter value has %d bytes, want 8", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// EnsureCounters initializes the per-category slot counters if absent.
// Idempotent: an existing counter is never reset, so restarts and rolling
// deploys cannot rewind allocation.
func (r *Registry) EnsureCounters(ctx context.Context) error {
	for _, category := range Categories() {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(counterKey(category))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return txn.Set(counterKey(category), encodeCounter(0))
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("ensure counter for %s: %w", category, err)
		}
	}
	return nil
}

// Lookup returns the entry for an identifier, or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, category Category, externalID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry Entry
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(category, externalID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// CounterValue returns the current counter for a category: the number of
// slots handed out so far (allocated entries plus burned candidates).
func (r *Registry) CounterValue(ctx context.Context, category Category) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var value uint64
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey(category))
		if errors.Is(err, badger.ErrKeyNotFound) {
			value = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("get counter: %w", err)
		}

		return item.Value(func(val []byte) error {
			v, err := decodeCounter(val)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return value, nil
}

// nextSlot atomically increments the category counter and returns the
// pre-increment value as the candidate slot. The read-modify-write runs
// inside one transaction; badger's SSI conflict detection aborts racing
// increments, which are retried, so no two callers ever see the same
// candidate.
func (r *Registry) nextSlot(ctx context.Context, category Category) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var candidate uint64
		err := r.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(counterKey(category))
			if errors.Is(err, badger.ErrKeyNotFound) {
				candidate = 0
				return txn.Set(counterKey(category), encodeCounter(1))
			}
			if err != nil {
				return fmt.Errorf("get counter: %w", err)
			}

			if err := item.Value(func(val []byte) error {
				v, err := decodeCounter(val)
				if err != nil {
					return err
				}
				candidate = v
				return nil
			}); err != nil {
				return err
			}

			return txn.Set(counterKey(category), encodeCounter(candidate+1))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("increment counter for %s: %w", category, err)
		}

		return int(candidate), nil
	}
}

// insertUnique stores an entry only if the identifier is not yet registered.
// Returns ErrDuplicateEntry when another writer got there first, either
// detected by the in-transaction existence check or by a commit conflict.
func (r *Registry) insertUnique(ctx context.Context, category Category, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(entryKey(category, entry.ExternalID))
		if err == nil {
			return ErrDuplicateEntry
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check entry: %w", err)
		}

		return txn.Set(entryKey(category, entry.ExternalID), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction touched the same key; the winner's
		// entry is already committed.
		return ErrDuplicateEntry
	}
	return err
}

// GetOrCreateSlot resolves an identifier to its slot, allocating one if the
// identifier is new.
//
// Protocol:
//  1. Fast path: return the existing entry's slot.
//  2. Miss: atomically draw a candidate slot from the category counter.
//  3. Insert the entry with insert-if-absent semantics.
//  4. Insert rejected as duplicate: a racing writer won. Re-read and adopt
//     the winner's slot; the candidate slot is burned, never reused.
//  5. Re-read also misses: consistency fault, surfaced, never masked.
func (r *Registry) GetOrCreateSlot(ctx context.Context, category Category, externalID, displayName string) (int, error) {
	entry, err := r.Lookup(ctx, category, externalID)
	if err == nil {
		metrics.RecordVocabLookup(string(category), true)
		return entry.Slot, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("lookup %s %q: %w", category, externalID, err)
	}
	metrics.RecordVocabLookup(string(category), false)

	candidate, err := r.nextSlot(ctx, category)
	if err != nil {
		return 0, err
	}

	err = r.insertUnique(ctx, category, &Entry{
		ExternalID: externalID,
		Name:       displayName,
		Slot:       candidate,
	})
	if err == nil {
		metrics.RecordVocabAllocation(string(category))
		return candidate, nil
	}
	if !errors.Is(err, ErrDuplicateEntry) {
		return 0, fmt.Errorf("insert %s %q: %w", category, externalID, err)
	}

	// Lost the race. The winner's entry must be visible now.
	winner, err := r.Lookup(ctx, category, externalID)
	if err == nil {
		metrics.RecordVocabRaceResolved(string(category))
		logging.Debug().
			Str("category", string(category)).
			Str("external_id", externalID).
			Int("burned_slot", candidate).
			Int("winner_slot", winner.Slot).
			Msg("slot allocation race resolved")
		return winner.Slot, nil
	}
	if errors.Is(err, ErrNotFound) {
		metrics.RecordVocabConsistencyFault(string(category))
		logging.Error().
			Str("category", string(category)).
			Str("external_id", externalID).
			Msg("insert rejected as duplicate but re-read found no entry")
		return 0, fmt.Errorf("%s %q: %w", category, externalID, ErrConsistencyFault)
	}
	return 0, fmt.Errorf("re-read %s %q after lost race: %w", category, externalID, err)
}
