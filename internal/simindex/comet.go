// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package simindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/wizenheimer/comet"

	"github.com/rhythmsocial/resonate/internal/logging"
	"github.com/rhythmsocial/resonate/internal/metrics"
	"github.com/rhythmsocial/resonate/internal/models"
)

// snapshotFileName is the on-disk snapshot written by SaveSnapshot.
const snapshotFileName = "simindex.json"

// ErrDimensionMismatch indicates an upserted vector does not match the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CometIndex is an embedded cosine similarity index backed by a comet flat
// index. It maintains the userID to node-ID mapping the underlying index
// does not know about, and keeps raw vectors for scoring and snapshots.
//
// Users whose vector is all zeros cannot be cosine-normalized; they are
// tracked in the mapping but excluded from the searchable set until a
// non-empty vector arrives.
type CometIndex struct {
	mu sync.RWMutex

	dim  int
	flat *comet.FlatIndex

	users    map[string]uint32    // userID -> node ID
	nodes    map[uint32]string    // node ID -> userID
	vectors  map[string][]float32 // userID -> raw vector
	indexed  map[string]bool      // userID -> present in flat index
	nextNode uint32
}

// NewCometIndex creates an empty index of the given dimension.
func NewCometIndex(dim int) (*CometIndex, error) {
	flat, err := comet.NewFlatIndex(dim, comet.Cosine)
	if err != nil {
		return nil, fmt.Errorf("create flat index: %w", err)
	}

	return &CometIndex{
		dim:      dim,
		flat:     flat,
		users:    make(map[string]uint32),
		nodes:    make(map[uint32]string),
		vectors:  make(map[string][]float32),
		indexed:  make(map[string]bool),
		nextNode: 1,
	}, nil
}

// Dimension returns the index vector dimension.
func (c *CometIndex) Dimension() int {
	return c.dim
}

// Len returns the number of users tracked (searchable or not).
func (c *CometIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// Upsert stores the user's vector, replacing any previous one. The node ID
// assigned on first upsert is stable for the user's lifetime.
func (c *CometIndex) Upsert(ctx context.Context, userID string, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vector) != c.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dim, len(vector))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.upsertLocked(userID, vector)
	metrics.RecordIndexUpsert(err, len(c.users))
	return err
}

func (c *CometIndex) upsertLocked(userID string, vector []float32) error {
	nodeID, known := c.users[userID]
	if !known {
		nodeID = c.nextNode
		c.nextNode++
	}

	if known && c.indexed[userID] {
		stale := comet.NewVectorNodeWithID(nodeID, c.vectors[userID])
		if err := c.flat.Remove(*stale); err != nil {
			return fmt.Errorf("remove stale vector for %q: %w", userID, err)
		}
		// Hard-delete so the node ID can be reused for the fresh vector.
		if err := c.flat.Flush(); err != nil {
			return fmt.Errorf("flush index: %w", err)
		}
		c.indexed[userID] = false
	}

	raw := make([]float32, len(vector))
	copy(raw, vector)

	if isZero(raw) {
		// No cosine direction. Keep the mapping, skip the index.
		c.users[userID] = nodeID
		c.nodes[nodeID] = userID
		c.vectors[userID] = raw
		logging.Warn().
			Str("user_id", userID).
			Msg("zero taste vector, user excluded from similarity search")
		return nil
	}

	// Add normalizes in place, so hand the index its own copy.
	indexed := make([]float32, len(raw))
	copy(indexed, raw)
	node := comet.NewVectorNodeWithID(nodeID, indexed)
	if err := c.flat.Add(*node); err != nil {
		return fmt.Errorf("add vector for %q: %w", userID, err)
	}

	c.users[userID] = nodeID
	c.nodes[nodeID] = userID
	c.vectors[userID] = raw
	c.indexed[userID] = true
	return nil
}

// QueryByUser returns up to topK users most similar to userID by cosine
// similarity, descending. The querying user may be among the results.
// Unknown users and users without a searchable vector yield an empty
// result and no error.
func (c *CometIndex) QueryByUser(ctx context.Context, userID string, topK int) ([]models.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	nodeID, known := c.users[userID]
	if !known || !c.indexed[userID] {
		return nil, nil
	}

	results, err := c.flat.NewSearch().WithNode(nodeID).WithK(topK).Execute()
	if err != nil {
		return nil, fmt.Errorf("search for %q: %w", userID, err)
	}

	query := normalize(c.vectors[userID])
	recs := make([]models.Recommendation, 0, len(results))
	for i := range results {
		matchUser, ok := c.nodes[results[i].GetId()]
		if !ok {
			continue
		}
		recs = append(recs, models.Recommendation{
			UserID: matchUser,
			Score:  dot(query, normalize(c.vectors[matchUser])),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
	return recs, nil
}

// Close is a no-op for the embedded index; it exists to satisfy Index.
func (c *CometIndex) Close() error {
	return nil
}

// snapshot is the persisted form of the index: mapping plus raw vectors.
// The flat index itself is rebuilt on load, which keeps the snapshot format
// independent of the index internals.
type snapshot struct {
	Dimension int                  `json:"dimension"`
	NextNode  uint32               `json:"next_node"`
	Users     map[string]uint32    `json:"users"`
	Vectors   map[string][]float32 `json:"vectors"`
}

// SaveSnapshot writes the index state to dir atomically.
func (c *CometIndex) SaveSnapshot(dir string) error {
	c.mu.RLock()
	snap := snapshot{
		Dimension: c.dim,
		NextNode:  c.nextNode,
		Users:     make(map[string]uint32, len(c.users)),
		Vectors:   make(map[string][]float32, len(c.vectors)),
	}
	for user, node := range c.users {
		snap.Users[user] = node
	}
	for user, vec := range c.vectors {
		snap.Vectors[user] = vec
	}
	c.mu.RUnlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, snapshotFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	logging.Info().
		Str("path", path).
		Int("users", len(snap.Users)).
		Msg("similarity index snapshot saved")
	return nil
}

// LoadSnapshot restores the index state from dir. A missing snapshot is not
// an error; the index starts empty.
func (c *CometIndex) LoadSnapshot(dir string) error {
	path := filepath.Join(dir, snapshotFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Dimension != c.dim {
		return fmt.Errorf("%w: snapshot has dimension %d, index has %d",
			ErrDimensionMismatch, snap.Dimension, c.dim)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for user, node := range snap.Users {
		vector, ok := snap.Vectors[user]
		if !ok {
			return fmt.Errorf("snapshot missing vector for user %q", user)
		}
		c.users[user] = node
		c.nodes[node] = user
		c.vectors[user] = vector

		if isZero(vector) {
			continue
		}
		indexed := make([]float32, len(vector))
		copy(indexed, vector)
		n := comet.NewVectorNodeWithID(node, indexed)
		if err := c.flat.Add(*n); err != nil {
			return fmt.Errorf("restore vector for %q: %w", user, err)
		}
		c.indexed[user] = true
	}
	if snap.NextNode > c.nextNode {
		c.nextNode = snap.NextNode
	}

	logging.Info().
		Str("path", path).
		Int("users", len(c.users)).
		Msg("similarity index snapshot restored")
	return nil
}

func isZero(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(vector []float32) []float32 {
	var sumSq float64
	for _, v := range vector {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vector
	}

	inv := 1.0 / math.Sqrt(sumSq)
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) * inv)
	}
	return out
}
