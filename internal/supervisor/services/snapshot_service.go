// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package services

import (
	"context"
	"time"

	"github.com/rhythmsocial/resonate/internal/logging"
)

// Snapshotter persists the similarity index. *simindex.CometIndex
// satisfies this.
type Snapshotter interface {
	SaveSnapshot(dir string) error
	Len() int
}

// SnapshotService periodically persists the similarity index so a restart
// recovers user vectors without replaying the event stream. A final
// snapshot is written on shutdown.
type SnapshotService struct {
	index    Snapshotter
	dir      string
	interval time.Duration
}

// NewSnapshotService creates a snapshot service. Interval defaults to
// five minutes when non-positive.
func NewSnapshotService(index Snapshotter, dir string, interval time.Duration) *SnapshotService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotService{index: index, dir: dir, interval: interval}
}

// Serve implements suture.Service.
func (s *SnapshotService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.save()
		case <-ctx.Done():
			s.save()
			return ctx.Err()
		}
	}
}

func (s *SnapshotService) save() {
	if err := s.index.SaveSnapshot(s.dir); err != nil {
		logging.Error().Err(err).Str("dir", s.dir).Msg("index snapshot failed")
		return
	}
	logging.Debug().Int("users", s.index.Len()).Msg("index snapshot written")
}

// String implements fmt.Stringer for supervisor logging.
func (s *SnapshotService) String() string {
	return "index-snapshot"
}
