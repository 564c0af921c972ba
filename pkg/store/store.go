// Package store provides durable, key-ordered storage for violations,
// evidence records, and audit chain nodes.
//
// Three backends exist: Memory (tests and development), SQLite (default
// durable store, single process), and Postgres (shared store). Every
// backend satisfies the ports its consumers define (evidence.Store,
// chain.Store, and ViolationStore below) and is injected into the owning
// service, never held as process-wide state.
//
// Timestamps are persisted as RFC 3339 nanosecond strings rather than
// native column types: chain hashes are recomputed from stored values, so
// a round-trip through storage must preserve every timestamp byte-exactly.
package store

import (
	"context"
	"errors"

	"github.com/sentinel-ledger/sentinel/pkg/classify"
)

// ErrNotFound is returned when a requested violation does not exist.
// Evidence and chain lookups use the sentinels of their owning packages.
var ErrNotFound = errors.New("not found")

// ViolationStore persists violation records keyed by violation id.
// Violations are immutable once created.
type ViolationStore interface {
	Put(ctx context.Context, v classify.Violation) error
	Get(ctx context.Context, violationID string) (classify.Violation, error)
	// List returns violations ordered by detection time, newest first.
	List(ctx context.Context) ([]classify.Violation, error)
}
