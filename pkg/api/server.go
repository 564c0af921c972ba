package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/detect"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
	"github.com/sentinel-ledger/sentinel/pkg/store"
	"github.com/sentinel-ledger/sentinel/pkg/verify"
)

// Server wires the detection pipeline behind an http.ServeMux. All state
// lives in the injected services; the server itself is stateless.
type Server struct {
	detector   *detect.Detector
	classifier *classify.Classifier
	capture    *evidence.CaptureService
	chain      *chain.Service
	verifier   *verify.Verifier
	violations store.ViolationStore

	tenantID string
	logger   *slog.Logger
}

// NewServer constructs a Server over the given services.
func NewServer(
	detector *detect.Detector,
	classifier *classify.Classifier,
	capture *evidence.CaptureService,
	chainSvc *chain.Service,
	verifier *verify.Verifier,
	violations store.ViolationStore,
	tenantID string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		detector:   detector,
		classifier: classifier,
		capture:    capture,
		chain:      chainSvc,
		verifier:   verifier,
		violations: violations,
		tenantID:   tenantID,
		logger:     logger.With("component", "api"),
	}
}

// Routes returns the request multiplexer for the API surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/violations", s.handleListViolations)
	mux.HandleFunc("POST /api/evidence", s.handleCaptureEvidence)
	mux.HandleFunc("GET /api/evidence", s.handleListEvidence)
	mux.HandleFunc("GET /api/evidence/{id}", s.handleGetEvidence)
	mux.HandleFunc("GET /api/audit/trail", s.handleAuditTrail)
	mux.HandleFunc("GET /api/audit/verify", s.handleAuditVerify)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
