package verify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// Mutable fakes so tests can tamper with persisted state directly.

type fakeChainStore struct {
	nodes []chain.Node
}

func (f *fakeChainStore) Append(ctx context.Context, node chain.Node) error {
	f.nodes = append(f.nodes, node)
	return nil
}

func (f *fakeChainStore) Tail(ctx context.Context) (chain.Node, error) {
	if len(f.nodes) == 0 {
		return chain.Node{}, chain.ErrNotFound
	}
	return f.nodes[len(f.nodes)-1], nil
}

func (f *fakeChainStore) List(ctx context.Context, r chain.Range) ([]chain.Node, error) {
	out := make([]chain.Node, len(f.nodes))
	copy(out, f.nodes)
	return out, nil
}

type fakeEvidenceStore struct {
	records map[string]evidence.Evidence
}

func (f *fakeEvidenceStore) Put(ctx context.Context, ev evidence.Evidence) error {
	f.records[ev.EvidenceID] = ev
	return nil
}

func (f *fakeEvidenceStore) Get(ctx context.Context, id string) (evidence.Evidence, error) {
	ev, ok := f.records[id]
	if !ok {
		return evidence.Evidence{}, evidence.ErrNotFound
	}
	return ev, nil
}

func (f *fakeEvidenceStore) GetByViolation(ctx context.Context, violationID string) (evidence.Evidence, error) {
	for _, ev := range f.records {
		if ev.ViolationRef == violationID {
			return ev, nil
		}
	}
	return evidence.Evidence{}, evidence.ErrNotFound
}

func (f *fakeEvidenceStore) List(ctx context.Context) ([]evidence.Evidence, error) {
	out := make([]evidence.Evidence, 0, len(f.records))
	for _, ev := range f.records {
		out = append(out, ev)
	}
	return out, nil
}

// buildChain appends n evidence records through the real chain service.
func buildChain(t *testing.T, n int) (*fakeChainStore, *fakeEvidenceStore) {
	t.Helper()
	chainStore := &fakeChainStore{}
	evidenceStore := &fakeEvidenceStore{records: make(map[string]evidence.Evidence)}
	svc := chain.NewService(chainStore)

	for i := 0; i < n; i++ {
		ev := evidence.Evidence{
			EvidenceID: fmt.Sprintf("EVID-1700000000-%06d", i),
			EventType:  evidence.EventViolationDetected,
			Regulation: "PCI-DSS",
			Metadata:   map[string]string{"tenant_id": "acme"},
			CapturedAt: time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC),
		}
		require.NoError(t, evidenceStore.Put(context.Background(), ev))
		_, err := svc.Append(context.Background(), &ev)
		require.NoError(t, err)
	}
	return chainStore, evidenceStore
}

func TestVerifyEmptyChain(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 0)
	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.TotalNodes)
	assert.Empty(t, report.Errors)
}

func TestVerifyIntactChain(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 10)
	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 10, report.TotalNodes)
	assert.Empty(t, report.Errors)
}

func TestVerifyDetectsTamperedEvidence(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 5)

	// Mutate one persisted evidence record after chaining.
	tampered := evidenceStore.records["EVID-1700000000-000002"]
	tampered.Regulation = "GDPR"
	evidenceStore.records["EVID-1700000000-000002"] = tampered

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)

	// Exactly that node's data_hash mismatch; all other nodes stay clean.
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint64(2), report.Errors[0].Node)
	assert.Contains(t, report.Errors[0].Issue, "data_hash mismatch")
}

func TestVerifyDetectsTamperedNodeHash(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 4)

	chainStore.nodes[1].DataHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)

	// Both the data hash and the record hash of node 1 stop matching.
	nodes := map[uint64]bool{}
	for _, issue := range report.Errors {
		nodes[issue.Node] = true
	}
	assert.Equal(t, map[uint64]bool{1: true}, nodes)
	assert.Len(t, report.Errors, 2)
}

func TestVerifyDetectsBrokenLinkage(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 4)

	chainStore.nodes[2].PreviousHash = "sha256:deadbeef"

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)

	var issues []string
	for _, e := range report.Errors {
		if e.Node == 2 {
			issues = append(issues, e.Issue)
		}
	}
	assert.NotEmpty(t, issues)
}

func TestVerifyDetectsRemovedNode(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 5)

	// Remove a middle node; linkage and sequence contiguity both break.
	chainStore.nodes = append(chainStore.nodes[:2], chainStore.nodes[3:]...)

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestVerifyDetectsMissingEvidence(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 3)

	delete(evidenceStore.records, "EVID-1700000000-000001")

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint64(1), report.Errors[0].Node)
	assert.Contains(t, report.Errors[0].Issue, "missing")
}

func TestVerifyEnumeratesAllBrokenNodes(t *testing.T) {
	chainStore, evidenceStore := buildChain(t, 6)

	// Corrupt two separate evidence records; both must be reported.
	for _, id := range []string{"EVID-1700000000-000001", "EVID-1700000000-000004"} {
		ev := evidenceStore.records[id]
		ev.Regulation = "tampered"
		evidenceStore.records[id] = ev
	}

	report, err := New(chainStore, evidenceStore).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, uint64(1), report.Errors[0].Node)
	assert.Equal(t, uint64(4), report.Errors[1].Node)
}
