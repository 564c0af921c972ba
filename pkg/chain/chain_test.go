package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// memChainStore is a minimal in-memory Store; failAppend simulates outages.
type memChainStore struct {
	mu         sync.Mutex
	nodes      []Node
	byEvidence map[string]bool
	failAppend error
}

func newMemChainStore() *memChainStore {
	return &memChainStore{byEvidence: make(map[string]bool)}
}

func (m *memChainStore) Append(ctx context.Context, node Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	if node.Sequence != uint64(len(m.nodes)) {
		return ErrDuplicate
	}
	if m.byEvidence[node.EvidenceID] {
		return ErrDuplicate
	}
	m.nodes = append(m.nodes, node)
	m.byEvidence[node.EvidenceID] = true
	return nil
}

func (m *memChainStore) Tail(ctx context.Context) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.nodes) == 0 {
		return Node{}, ErrNotFound
	}
	return m.nodes[len(m.nodes)-1], nil
}

func (m *memChainStore) List(ctx context.Context, r Range) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if r.Start != nil && n.Sequence < *r.Start {
			continue
		}
		if r.End != nil && n.Sequence > *r.End {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func testEvidence(i int) *evidence.Evidence {
	return &evidence.Evidence{
		EvidenceID: fmt.Sprintf("EVID-1700000000-%06d", i),
		EventType:  evidence.EventViolationDetected,
		Regulation: "PCI-DSS",
		CapturedAt: time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC),
	}
}

func TestAppendGenesis(t *testing.T) {
	svc := NewService(newMemChainStore())

	node, err := svc.Append(context.Background(), testEvidence(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), node.Sequence)
	assert.Equal(t, GenesisHash, node.PreviousHash)
	assert.Contains(t, node.DataHash, "sha256:")
	assert.Contains(t, node.RecordHash, "sha256:")
}

func TestAppendLinksToPredecessor(t *testing.T) {
	svc := NewService(newMemChainStore())

	first, err := svc.Append(context.Background(), testEvidence(0))
	require.NoError(t, err)
	second, err := svc.Append(context.Background(), testEvidence(1))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), second.Sequence)
	assert.Equal(t, first.RecordHash, second.PreviousHash)
}

func TestAppendMonotonicity(t *testing.T) {
	svc := NewService(newMemChainStore())
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		_, err := svc.Append(ctx, testEvidence(i))
		require.NoError(t, err)
	}

	nodes, err := svc.GetChain(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, nodes, n)
	for i, node := range nodes {
		assert.Equal(t, uint64(i), node.Sequence, "no gaps, no duplicates")
		if i > 0 {
			assert.Equal(t, nodes[i-1].RecordHash, node.PreviousHash)
		}
	}
}

func TestAppendConcurrent(t *testing.T) {
	svc := NewService(newMemChainStore())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Append(ctx, testEvidence(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	nodes, err := svc.GetChain(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, nodes, n)
	for i, node := range nodes {
		assert.Equal(t, uint64(i), node.Sequence)
	}
}

func TestAppendFailureDoesNotBurnSequence(t *testing.T) {
	store := newMemChainStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Append(ctx, testEvidence(0))
	require.NoError(t, err)

	store.failAppend = errors.New("store unavailable")
	_, err = svc.Append(ctx, testEvidence(1))
	require.ErrorIs(t, err, ErrAppendFailed)

	// Retry continues with the same next sequence number.
	store.failAppend = nil
	node, err := svc.Append(ctx, testEvidence(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), node.Sequence)
}

func TestAppendRejectsDuplicateEvidence(t *testing.T) {
	svc := NewService(newMemChainStore())
	ctx := context.Background()

	_, err := svc.Append(ctx, testEvidence(0))
	require.NoError(t, err)
	_, err = svc.Append(ctx, testEvidence(0))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestGetChainRange(t *testing.T) {
	svc := NewService(newMemChainStore())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := svc.Append(ctx, testEvidence(i))
		require.NoError(t, err)
	}

	start, end := uint64(3), uint64(6)
	nodes, err := svc.GetChain(ctx, Range{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.Equal(t, uint64(3), nodes[0].Sequence)
	assert.Equal(t, uint64(6), nodes[3].Sequence)
}

func TestGetChainEmpty(t *testing.T) {
	svc := NewService(newMemChainStore())
	nodes, err := svc.GetChain(context.Background(), Range{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRecordHashDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 123456789, time.UTC)
	h1 := RecordHash(3, "sha256:aa", "sha256:bb", ts)
	h2 := RecordHash(3, "sha256:aa", "sha256:bb", ts)
	assert.Equal(t, h1, h2)

	assert.NotEqual(t, h1, RecordHash(4, "sha256:aa", "sha256:bb", ts))
	assert.NotEqual(t, h1, RecordHash(3, "sha256:ab", "sha256:bb", ts))
	assert.NotEqual(t, h1, RecordHash(3, "sha256:aa", "sha256:bc", ts))
	assert.NotEqual(t, h1, RecordHash(3, "sha256:aa", "sha256:bb", ts.Add(time.Nanosecond)))
}

func TestDataHashTracksPayload(t *testing.T) {
	ev := testEvidence(0)
	h1, err := DataHash(ev)
	require.NoError(t, err)

	tampered := *ev
	tampered.Regulation = "GDPR"
	h2, err := DataHash(&tampered)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
