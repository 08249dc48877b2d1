// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package vocab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close badger: %v", err)
		}
	})

	r := NewRegistry(db)
	if err := r.EnsureCounters(context.Background()); err != nil {
		t.Fatalf("EnsureCounters() error = %v", err)
	}
	return r
}

func TestEnsureCountersIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	// Burn a slot so the counter moves off zero.
	if _, err := r.GetOrCreateSlot(ctx, CategoryArtist, "artist-1", "Artist One"); err != nil {
		t.Fatalf("GetOrCreateSlot() error = %v", err)
	}

	before, err := r.CounterValue(ctx, CategoryArtist)
	if err != nil {
		t.Fatalf("CounterValue() error = %v", err)
	}
	if before != 1 {
		t.Fatalf("counter = %d, want 1", before)
	}

	if err := r.EnsureCounters(ctx); err != nil {
		t.Fatalf("EnsureCounters() second call error = %v", err)
	}

	after, err := r.CounterValue(ctx, CategoryArtist)
	if err != nil {
		t.Fatalf("CounterValue() error = %v", err)
	}
	if after != before {
		t.Errorf("counter after re-ensure = %d, want %d (must not reset)", after, before)
	}
}

func TestGetOrCreateSlotFirstAllocationIsZero(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	slot, err := r.GetOrCreateSlot(ctx, CategoryGenre, "indie rock", "indie rock")
	if err != nil {
		t.Fatalf("GetOrCreateSlot() error = %v", err)
	}
	if slot != 0 {
		t.Errorf("first slot = %d, want 0", slot)
	}
}

func TestGetOrCreateSlotStable(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.GetOrCreateSlot(ctx, CategoryTrack, "track-42", "Some Track")
	if err != nil {
		t.Fatalf("GetOrCreateSlot() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		again, err := r.GetOrCreateSlot(ctx, CategoryTrack, "track-42", "Some Track")
		if err != nil {
			t.Fatalf("GetOrCreateSlot() repeat %d error = %v", i, err)
		}
		if again != first {
			t.Fatalf("repeat %d slot = %d, want %d (slot must never change)", i, again, first)
		}
	}

	counter, err := r.CounterValue(ctx, CategoryTrack)
	if err != nil {
		t.Fatalf("CounterValue() error = %v", err)
	}
	if counter != 1 {
		t.Errorf("counter = %d, want 1 (repeats must not allocate)", counter)
	}
}

func TestGetOrCreateSlotDistinctIdentifiers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	seen := make(map[int]string)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("artist-%d", i)
		slot, err := r.GetOrCreateSlot(ctx, CategoryArtist, id, id)
		if err != nil {
			t.Fatalf("GetOrCreateSlot(%s) error = %v", id, err)
		}
		if prev, dup := seen[slot]; dup {
			t.Fatalf("slot %d assigned to both %s and %s", slot, prev, id)
		}
		seen[slot] = id
	}
}

func TestGetOrCreateSlotConcurrentSameIdentifier(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const goroutines = 16
	slots := make([]int, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i], errs[i] = r.GetOrCreateSlot(ctx, CategoryArtist, "contested", "Contested Artist")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d error = %v", i, err)
		}
	}
	for i := 1; i < goroutines; i++ {
		if slots[i] != slots[0] {
			t.Fatalf("goroutine %d slot = %d, want %d (all callers must converge)", i, slots[i], slots[0])
		}
	}

	entry, err := r.Lookup(ctx, CategoryArtist, "contested")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry.Slot != slots[0] {
		t.Errorf("stored slot = %d, want %d", entry.Slot, slots[0])
	}

	// Losers may burn candidates; the counter only ever moves forward.
	counter, err := r.CounterValue(ctx, CategoryArtist)
	if err != nil {
		t.Fatalf("CounterValue() error = %v", err)
	}
	if counter < 1 {
		t.Errorf("counter = %d, want >= 1", counter)
	}
}

func TestGetOrCreateSlotConcurrentDistinctIdentifiers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const goroutines = 16
	slots := make([]int, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("track-%d", i)
			slots[i], errs[i] = r.GetOrCreateSlot(ctx, CategoryTrack, id, id)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]int)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d error = %v", i, err)
		}
		if prev, dup := seen[slots[i]]; dup {
			t.Fatalf("slot %d assigned to goroutines %d and %d", slots[i], prev, i)
		}
		seen[slots[i]] = i
	}
}

func TestLookupUnknown(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Lookup(context.Background(), CategoryGenre, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestCategoriesAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	artistSlot, err := r.GetOrCreateSlot(ctx, CategoryArtist, "shared-id", "As Artist")
	if err != nil {
		t.Fatalf("GetOrCreateSlot(artist) error = %v", err)
	}
	trackSlot, err := r.GetOrCreateSlot(ctx, CategoryTrack, "shared-id", "As Track")
	if err != nil {
		t.Fatalf("GetOrCreateSlot(track) error = %v", err)
	}

	// Same external ID in different categories gets independent slots,
	// both starting at zero.
	if artistSlot != 0 || trackSlot != 0 {
		t.Errorf("slots = (%d, %d), want (0, 0)", artistSlot, trackSlot)
	}

	if _, err := r.Lookup(ctx, CategoryGenre, "shared-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(genre) error = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateSlotContextCanceled(t *testing.T) {
	r := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.GetOrCreateSlot(ctx, CategoryArtist, "late", "Late"); err == nil {
		t.Error("GetOrCreateSlot() with canceled context returned nil error")
	}
}
