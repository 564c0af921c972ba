package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/detect"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

type ingestRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Content    string `json:"content"`
}

type noViolationResponse struct {
	Status   string `json:"status"`
	SourceID string `json:"source_id"`
}

// ingestResponse reports a detected violation. EvidenceID is a pointer
// without omitempty: when capture fails the violation is still reported
// and evidence_id renders as an explicit null, never a missing key.
type ingestResponse struct {
	Status         string  `json:"status"`
	SourceID       string  `json:"source_id"`
	ViolationID    string  `json:"violation_id"`
	Regulation     string  `json:"regulation"`
	Severity       string  `json:"severity"`
	EvidenceID     *string `json:"evidence_id"`
	ViolationCount int     `json:"violation_count"`
}

// handleIngest runs content through detection, classification, evidence
// capture and chain append. Detection and classification are pure; only
// the persistence steps can fail, and a persistence failure is reported
// as 503 so it is never mistaken for a clean scan.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SourceType) == "" || strings.TrimSpace(req.SourceID) == "" {
		WriteBadRequest(w, "source_type and source_id are required")
		return
	}
	if req.Content == "" {
		WriteBadRequest(w, "content is required")
		return
	}

	ctx := r.Context()
	findings := s.detector.Detect(req.Content, nil)
	if len(findings) == 0 {
		s.writeJSON(w, http.StatusOK, noViolationResponse{
			Status:   "no_violation",
			SourceID: req.SourceID,
		})
		return
	}

	violations := s.classifier.Classify(findings, req.SourceType, req.SourceID)
	for _, v := range violations {
		if err := s.violations.Put(ctx, v); err != nil {
			s.logger.Error("persist violation", "violation_id", v.ViolationID, "error", err)
			WriteUnavailable(w, "violation storage unavailable")
			return
		}
	}

	primary := violations[0]
	for _, v := range violations[1:] {
		if v.Severity.AtLeast(primary.Severity) && v.Severity != primary.Severity {
			primary = v
		}
	}

	var primaryEvidence *string
	for _, v := range violations {
		captured, err := s.captureAndChain(r, v, findings)
		if err != nil {
			// The violation is already recorded; evidence stays pending
			// and a later capture retry is idempotent per violation.
			s.logger.Error("capture evidence", "violation_id", v.ViolationID, "error", err)
			continue
		}
		if v.ViolationID == primary.ViolationID {
			id := captured.EvidenceID
			primaryEvidence = &id
		}
	}

	s.logger.Info("violation detected",
		"source_id", req.SourceID,
		"violation_id", primary.ViolationID,
		"regulation", primary.Regulation,
		"severity", primary.Severity,
		"violations", len(violations))

	s.writeJSON(w, http.StatusOK, ingestResponse{
		Status:         "violation_detected",
		SourceID:       req.SourceID,
		ViolationID:    primary.ViolationID,
		Regulation:     string(primary.Regulation),
		Severity:       string(primary.Severity),
		EvidenceID:     primaryEvidence,
		ViolationCount: len(violations),
	})
}

// captureAndChain persists an evidence record for a violation and links it
// into the audit chain. A duplicate chain entry means the evidence was
// already chained by an earlier capture and is not an error.
func (s *Server) captureAndChain(r *http.Request, v classify.Violation, findings []detect.Finding) (*evidence.Evidence, error) {
	best := detect.Finding{Confidence: -1}
	for _, f := range findings {
		if f.Regulation == v.Regulation && f.Confidence > best.Confidence {
			best = f
		}
	}

	event := evidence.Event{
		EventType:  evidence.EventViolationDetected,
		Regulation: string(v.Regulation),
		Detection: evidence.DetectionContext{
			DetectedBy: "pattern-detector",
			Pattern:    best.Pattern,
			Confidence: best.Confidence,
		},
		ViolationRef: v.ViolationID,
		Metadata: map[string]string{
			"tenant_id":   s.tenantID,
			"severity":    string(v.Severity),
			"source_type": v.SourceType,
			"source_id":   v.SourceID,
		},
	}

	captured, err := s.capture.Capture(r.Context(), event)
	if err != nil {
		return nil, err
	}
	if _, err := s.chain.Append(r.Context(), captured); err != nil && !errors.Is(err, chain.ErrDuplicate) {
		s.logger.Error("chain append", "evidence_id", captured.EvidenceID, "error", err)
	}
	return captured, nil
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := s.violations.List(r.Context())
	if err != nil {
		WriteUnavailable(w, "violation storage unavailable")
		return
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].CreatedAt.After(violations[j].CreatedAt)
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(violations),
		"tenant_id":  s.tenantID,
		"violations": violations,
	})
}

func (s *Server) handleCaptureEvidence(w http.ResponseWriter, r *http.Request) {
	var event evidence.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	captured, err := s.capture.Capture(r.Context(), event)
	if err != nil {
		if errors.Is(err, evidence.ErrCaptureFailed) {
			WriteUnavailable(w, "evidence storage unavailable")
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}
	if _, err := s.chain.Append(r.Context(), captured); err != nil && !errors.Is(err, chain.ErrDuplicate) {
		s.logger.Error("chain append", "evidence_id", captured.EvidenceID, "error", err)
	}
	s.writeJSON(w, http.StatusCreated, captured)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	records, err := s.capture.List(r.Context())
	if err != nil {
		WriteUnavailable(w, "evidence storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(records),
		"evidence": records,
	})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.capture.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			WriteNotFound(w, fmt.Sprintf("evidence %q not found", id))
			return
		}
		WriteInternal(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	var rng chain.Range
	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteBadRequest(w, "start must be a non-negative integer")
			return
		}
		rng.Start = &start
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteBadRequest(w, "end must be a non-negative integer")
			return
		}
		rng.End = &end
	}
	if rng.Start != nil && rng.End != nil && *rng.End < *rng.Start {
		WriteBadRequest(w, "end must not be less than start")
		return
	}

	nodes, err := s.chain.GetChain(r.Context(), rng)
	if err != nil {
		WriteUnavailable(w, "audit chain storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chain_id":    "audit-" + s.tenantID,
		"total_nodes": len(nodes),
		"chain":       nodes,
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.verifier.Verify(r.Context())
	if err != nil {
		WriteUnavailable(w, "audit chain storage unavailable")
		return
	}
	if !report.Valid {
		s.logger.Warn("chain verification failed", "issues", len(report.Errors))
	}
	s.writeJSON(w, http.StatusOK, report)
}
