// Resonate - Music Taste Vectorization and User Similarity Service
// Copyright 2026 Rhythm Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhythmsocial/resonate

package models

import (
	"time"
)

// APIResponse is the standardized wrapper for non-list HTTP endpoints.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// The recommendation endpoint returns a bare JSON array instead of this
// envelope to stay wire-compatible with existing consumers.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError carries structured error details.
//
// Common error codes:
//   - VALIDATION_ERROR: invalid input parameters
//   - INTERNAL_ERROR: store or index failure
//   - PUBLISH_ERROR: event broker unavailable
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// VocabCategoryStats reports one category's slot usage against its capacity.
type VocabCategoryStats struct {
	Category  string `json:"category"`
	Allocated uint64 `json:"allocated"`
	Capacity  int    `json:"capacity"`
}

// VocabStats is the /vocab/stats payload.
type VocabStats struct {
	Categories []VocabCategoryStats `json:"categories"`
	Dimension  int                  `json:"dimension"`
}
