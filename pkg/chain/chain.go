// Package chain links evidence records into an append-only, hash-linked
// audit ledger.
//
// Each node carries the hash of its evidence payload and the record hash of
// its predecessor, so any retroactive modification of a persisted record is
// detectable by recomputation. The previous-node relationship is a
// back-reference by hash value, never a live pointer: nodes are
// independently serializable and verifiable.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinel-ledger/sentinel/pkg/canon"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// GenesisHash is the fixed previous_hash of the first node.
const GenesisHash = "genesis"

var (
	// ErrNotFound is returned when a requested node does not exist.
	ErrNotFound = errors.New("chain node not found")
	// ErrDuplicate is returned when an append would reuse a sequence number
	// or chain the same evidence record twice.
	ErrDuplicate = errors.New("duplicate chain node")
	// ErrAppendFailed is returned when the append critical section could
	// not complete. The evidence record exists but is not yet chained;
	// callers retry the append and the same sequence number is reused.
	ErrAppendFailed = errors.New("audit chain append failed")
)

// Node is one immutable entry in the audit chain.
type Node struct {
	Sequence     uint64    `json:"sequence_number"`
	EvidenceID   string    `json:"evidence_id"`
	DataHash     string    `json:"data_hash"`
	PreviousHash string    `json:"previous_hash"`
	RecordHash   string    `json:"record_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// Range selects a contiguous span of the chain by sequence number.
// Nil bounds are unbounded.
type Range struct {
	Start *uint64
	End   *uint64
}

// Store is the persistence port for chain nodes. Append must be atomic:
// either the node is durably written or nothing is observable.
type Store interface {
	Append(ctx context.Context, node Node) error
	Tail(ctx context.Context) (Node, error)
	List(ctx context.Context, r Range) ([]Node, error)
}

// Service appends evidence records to the chain.
type Service struct {
	// mu serializes Append: reading the tail, computing the node, and
	// advancing the chain must be a single critical section or concurrent
	// appends race on sequence numbers and previous hashes.
	mu     sync.Mutex
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewService creates a chain service over store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		clock:  time.Now,
		logger: slog.Default().With("component", "chain"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Append links ev as the next node. The sequence number is derived from the
// persisted tail, so a failed append never burns a number: the retry
// computes the same sequence again.
func (s *Service) Append(ctx context.Context, ev *evidence.Evidence) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq uint64
	prev := GenesisHash
	tail, err := s.store.Tail(ctx)
	switch {
	case err == nil:
		seq = tail.Sequence + 1
		prev = tail.RecordHash
	case errors.Is(err, ErrNotFound):
		// Empty chain: this is the genesis node.
	default:
		return nil, fmt.Errorf("%w: read tail: %v", ErrAppendFailed, err)
	}

	dataHash, err := canon.Hash(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: hash evidence: %v", ErrAppendFailed, err)
	}

	ts := s.clock().UTC()
	node := Node{
		Sequence:     seq,
		EvidenceID:   ev.EvidenceID,
		DataHash:     dataHash,
		PreviousHash: prev,
		RecordHash:   RecordHash(seq, dataHash, prev, ts),
		Timestamp:    ts,
	}

	if err := s.store.Append(ctx, node); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	s.logger.InfoContext(ctx, "evidence chained",
		"sequence", node.Sequence,
		"evidence_id", node.EvidenceID,
		"record_hash", node.RecordHash)
	return &node, nil
}

// GetChain returns nodes in ascending sequence order.
func (s *Service) GetChain(ctx context.Context, r Range) ([]Node, error) {
	return s.store.List(ctx, r)
}

// RecordHash computes the linkage hash of a node from its fixed fields:
// sequence, data hash, previous hash, and timestamp.
func RecordHash(seq uint64, dataHash, previousHash string, ts time.Time) string {
	input := fmt.Sprintf("%d|%s|%s|%s", seq, dataHash, previousHash, ts.UTC().Format(time.RFC3339Nano))
	return canon.HashBytes([]byte(input))
}

// DataHash computes the canonical payload hash of an evidence record.
func DataHash(ev *evidence.Evidence) (string, error) {
	return canon.Hash(ev)
}
