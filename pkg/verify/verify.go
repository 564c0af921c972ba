// Package verify recomputes every hash in the audit chain to confirm that
// no node was altered, inserted out of order, or removed.
//
// Verification trusts only the persisted ledger and the hash primitives.
// It never repairs: a detected integrity violation is reported and left for
// human escalation, since an automatic repair would itself be unverifiable.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// Issue describes one integrity failure at a specific node.
type Issue struct {
	Node  uint64 `json:"node"`
	Issue string `json:"issue"`
}

// Report is the structured outcome of a full chain walk. Every broken node
// is enumerated; verification never stops at the first failure.
type Report struct {
	Valid      bool      `json:"valid"`
	TotalNodes int       `json:"total_nodes"`
	Errors     []Issue   `json:"errors"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Verifier walks the persisted chain and evidence store.
type Verifier struct {
	chainStore    chain.Store
	evidenceStore evidence.Store
	clock         func() time.Time
	logger        *slog.Logger
}

// New creates a verifier over the persisted stores.
func New(chainStore chain.Store, evidenceStore evidence.Store) *Verifier {
	return &Verifier{
		chainStore:    chainStore,
		evidenceStore: evidenceStore,
		clock:         time.Now,
		logger:        slog.Default().With("component", "verify"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Verify walks nodes from genesis to tail, recomputing the data hash from
// the referenced evidence and the record hash from the stored fields, and
// checking linkage and sequence contiguity. An empty chain is valid.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	nodes, err := v.chainStore.List(ctx, chain.Range{})
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	report := &Report{
		Valid:      true,
		TotalNodes: len(nodes),
		Errors:     make([]Issue, 0),
		CheckedAt:  v.clock().UTC(),
	}

	expectedPrev := chain.GenesisHash
	for i, node := range nodes {
		if node.Sequence != uint64(i) {
			report.addIssue(node.Sequence, fmt.Sprintf(
				"sequence gap: expected %d, found %d", i, node.Sequence))
		}

		if node.PreviousHash != expectedPrev {
			report.addIssue(node.Sequence, fmt.Sprintf(
				"previous_hash mismatch: expected %s, found %s", expectedPrev, node.PreviousHash))
		}

		v.checkDataHash(ctx, node, report)

		recomputed := chain.RecordHash(node.Sequence, node.DataHash, node.PreviousHash, node.Timestamp)
		if recomputed != node.RecordHash {
			report.addIssue(node.Sequence, fmt.Sprintf(
				"record_hash mismatch: expected %s, found %s", recomputed, node.RecordHash))
		}

		expectedPrev = node.RecordHash
	}

	report.Valid = len(report.Errors) == 0
	if !report.Valid {
		v.logger.WarnContext(ctx, "audit chain integrity violation",
			"total_nodes", report.TotalNodes,
			"issues", len(report.Errors))
	}
	return report, nil
}

// checkDataHash recomputes the payload hash from the referenced evidence
// record. The record hash check above deliberately uses the STORED data
// hash, so tampered evidence surfaces as exactly one data_hash issue on
// exactly one node.
func (v *Verifier) checkDataHash(ctx context.Context, node chain.Node, report *Report) {
	ev, err := v.evidenceStore.Get(ctx, node.EvidenceID)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			report.addIssue(node.Sequence, fmt.Sprintf(
				"evidence record %s missing", node.EvidenceID))
			return
		}
		report.addIssue(node.Sequence, fmt.Sprintf(
			"evidence record %s unreadable: %v", node.EvidenceID, err))
		return
	}

	recomputed, err := chain.DataHash(&ev)
	if err != nil {
		report.addIssue(node.Sequence, fmt.Sprintf(
			"evidence record %s not hashable: %v", node.EvidenceID, err))
		return
	}
	if recomputed != node.DataHash {
		report.addIssue(node.Sequence, fmt.Sprintf(
			"data_hash mismatch: expected %s, found %s", recomputed, node.DataHash))
	}
}

func (r *Report) addIssue(seq uint64, msg string) {
	r.Errors = append(r.Errors, Issue{Node: seq, Issue: msg})
}
