package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence port the capture service writes through.
// Implementations must make Put durable before returning success.
type Store interface {
	Put(ctx context.Context, ev Evidence) error
	Get(ctx context.Context, evidenceID string) (Evidence, error)
	// GetByViolation returns the evidence referencing a violation, or
	// ErrNotFound. At most one record may reference a given violation.
	GetByViolation(ctx context.Context, violationID string) (Evidence, error)
	List(ctx context.Context) ([]Evidence, error)
}

// CaptureService assigns evidence identifiers and persists records.
type CaptureService struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewCaptureService creates a capture service writing through store.
func NewCaptureService(store Store) *CaptureService {
	return &CaptureService{
		store:  store,
		clock:  time.Now,
		logger: slog.Default().With("component", "evidence"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *CaptureService) WithClock(clock func() time.Time) *CaptureService {
	s.clock = clock
	return s
}

// Capture validates the event, assigns a fresh evidence id and timestamp,
// and persists the record before returning. On storage failure the call
// fails with ErrCaptureFailed and no evidence record exists.
//
// Capture is idempotent by violation reference: if an evidence record
// already references the event's violation, that record is returned and
// nothing new is written.
func (s *CaptureService) Capture(ctx context.Context, event Event) (*Evidence, error) {
	if err := ValidateEvent(event); err != nil {
		return nil, err
	}

	if event.ViolationRef != "" {
		existing, err := s.store.GetByViolation(ctx, event.ViolationRef)
		if err == nil {
			s.logger.InfoContext(ctx, "evidence already captured for violation",
				"violation_id", event.ViolationRef,
				"evidence_id", existing.EvidenceID)
			return &existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: lookup by violation: %v", ErrCaptureFailed, err)
		}
	}

	// One clock reading for both the id and the timestamp, so the unix
	// second in the id always matches CapturedAt.
	now := s.clock().UTC()
	ev := Evidence{
		EvidenceID:   newEvidenceID(now),
		EventType:    event.EventType,
		Regulation:   event.Regulation,
		Detection:    event.Detection,
		ViolationRef: event.ViolationRef,
		Metadata:     event.Metadata,
		CapturedAt:   now,
	}

	if err := s.store.Put(ctx, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	s.logger.InfoContext(ctx, "evidence captured",
		"evidence_id", ev.EvidenceID,
		"event_type", ev.EventType,
		"violation_id", ev.ViolationRef)
	return &ev, nil
}

// Get retrieves a single evidence record.
func (s *CaptureService) Get(ctx context.Context, evidenceID string) (*Evidence, error) {
	ev, err := s.store.Get(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// List returns all evidence records ordered by capture time, oldest first.
func (s *CaptureService) List(ctx context.Context) ([]Evidence, error) {
	return s.store.List(ctx)
}

// newEvidenceID returns an id of the form EVID-<unix>-<6 hex>.
func newEvidenceID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("EVID-%d-%s", now.Unix(), suffix)
}
