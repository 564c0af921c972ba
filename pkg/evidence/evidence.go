// Package evidence captures compliance events as durable, immutable
// evidence records. Records are write-once: there is no update or delete
// operation, and the capture service is the sole writer.
package evidence

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an evidence record does not exist.
	ErrNotFound = errors.New("evidence not found")
	// ErrCaptureFailed is returned when an evidence record could not be
	// durably persisted. No record exists after this error; the originating
	// violation stays evidenced-pending and capture may be retried.
	ErrCaptureFailed = errors.New("evidence capture failed")
)

// EventType categorizes compliance events.
type EventType string

const (
	EventViolationDetected  EventType = "violation-detected"
	EventRemediationApplied EventType = "remediation-applied"
	EventScanCompleted      EventType = "scan-completed"
)

// DetectionContext records how a detection was made.
type DetectionContext struct {
	DetectedBy string  `json:"detected_by"`
	Pattern    string  `json:"matched_pattern"`
	Confidence float64 `json:"confidence"`
}

// Event is what a caller submits for capture.
type Event struct {
	EventType    EventType         `json:"event_type"`
	Regulation   string            `json:"regulation_context"`
	Detection    DetectionContext  `json:"detection_context"`
	ViolationRef string            `json:"violation_ref,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Evidence is the captured, immutable record. Its canonical serialization
// is what the audit chain hashes, so field tags here are part of the
// tamper-evidence contract.
type Evidence struct {
	EvidenceID   string            `json:"evidence_id"`
	EventType    EventType         `json:"event_type"`
	Regulation   string            `json:"regulation_context"`
	Detection    DetectionContext  `json:"detection_context"`
	ViolationRef string            `json:"violation_ref,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CapturedAt   time.Time         `json:"captured_at"`
}
