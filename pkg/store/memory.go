package store

import (
	"context"
	"sync"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// Memory is an in-memory backend for tests and development. It satisfies
// ViolationStore, evidence.Store, and chain.Store.
type Memory struct {
	mu sync.RWMutex

	violations     map[string]classify.Violation
	violationOrder []string

	evidenceRecords     map[string]evidence.Evidence
	evidenceByViolation map[string]string
	evidenceOrder       []string

	nodes           []chain.Node
	nodeForEvidence map[string]bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		violations:          make(map[string]classify.Violation),
		evidenceRecords:     make(map[string]evidence.Evidence),
		evidenceByViolation: make(map[string]string),
		nodeForEvidence:     make(map[string]bool),
	}
}

// --- ViolationStore ---

func (m *Memory) Put(ctx context.Context, v classify.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.violations[v.ViolationID]; !exists {
		m.violationOrder = append(m.violationOrder, v.ViolationID)
	}
	m.violations[v.ViolationID] = v
	return nil
}

func (m *Memory) Get(ctx context.Context, violationID string) (classify.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.violations[violationID]
	if !ok {
		return classify.Violation{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) List(ctx context.Context) ([]classify.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]classify.Violation, 0, len(m.violationOrder))
	for i := len(m.violationOrder) - 1; i >= 0; i-- {
		out = append(out, m.violations[m.violationOrder[i]])
	}
	return out, nil
}

// --- evidence.Store ---

// Evidence returns the evidence.Store view of the backend.
func (m *Memory) Evidence() *MemoryEvidence { return &MemoryEvidence{m} }

// MemoryEvidence adapts Memory to evidence.Store.
type MemoryEvidence struct{ m *Memory }

func (s *MemoryEvidence) Put(ctx context.Context, ev evidence.Evidence) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.evidenceRecords[ev.EvidenceID]; !exists {
		s.m.evidenceOrder = append(s.m.evidenceOrder, ev.EvidenceID)
	}
	s.m.evidenceRecords[ev.EvidenceID] = ev
	if ev.ViolationRef != "" {
		s.m.evidenceByViolation[ev.ViolationRef] = ev.EvidenceID
	}
	return nil
}

func (s *MemoryEvidence) Get(ctx context.Context, evidenceID string) (evidence.Evidence, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	ev, ok := s.m.evidenceRecords[evidenceID]
	if !ok {
		return evidence.Evidence{}, evidence.ErrNotFound
	}
	return ev, nil
}

func (s *MemoryEvidence) GetByViolation(ctx context.Context, violationID string) (evidence.Evidence, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.evidenceByViolation[violationID]
	if !ok {
		return evidence.Evidence{}, evidence.ErrNotFound
	}
	return s.m.evidenceRecords[id], nil
}

func (s *MemoryEvidence) List(ctx context.Context) ([]evidence.Evidence, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]evidence.Evidence, 0, len(s.m.evidenceOrder))
	for _, id := range s.m.evidenceOrder {
		out = append(out, s.m.evidenceRecords[id])
	}
	return out, nil
}

// --- chain.Store ---

// Chain returns the chain.Store view of the backend.
func (m *Memory) Chain() *MemoryChain { return &MemoryChain{m} }

// MemoryChain adapts Memory to chain.Store.
type MemoryChain struct{ m *Memory }

func (s *MemoryChain) Append(ctx context.Context, node chain.Node) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if node.Sequence != uint64(len(s.m.nodes)) {
		return chain.ErrDuplicate
	}
	if s.m.nodeForEvidence[node.EvidenceID] {
		return chain.ErrDuplicate
	}
	s.m.nodes = append(s.m.nodes, node)
	s.m.nodeForEvidence[node.EvidenceID] = true
	return nil
}

func (s *MemoryChain) Tail(ctx context.Context) (chain.Node, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if len(s.m.nodes) == 0 {
		return chain.Node{}, chain.ErrNotFound
	}
	return s.m.nodes[len(s.m.nodes)-1], nil
}

func (s *MemoryChain) List(ctx context.Context, r chain.Range) ([]chain.Node, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]chain.Node, 0, len(s.m.nodes))
	for _, n := range s.m.nodes {
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
