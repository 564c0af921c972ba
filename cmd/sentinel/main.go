package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-ledger/sentinel/pkg/api"
	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/config"
	"github.com/sentinel-ledger/sentinel/pkg/detect"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
	"github.com/sentinel-ledger/sentinel/pkg/observability"
	"github.com/sentinel-ledger/sentinel/pkg/store"
	"github.com/sentinel-ledger/sentinel/pkg/verify"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if len(args) >= 2 {
		switch args[1] {
		case "serve", "server":
			// fall through to the server below
		case "verify":
			return runVerify(cfg, stdout, stderr)
		default:
			_, _ = fmt.Fprintf(stderr, "usage: sentinel [serve|verify]\n")
			return 2
		}
	}
	return runServer(cfg, logger, stderr)
}

// backends bundles the three persistence ports a deployment needs.
type backends struct {
	violations store.ViolationStore
	evidence   evidence.Store
	chain      chain.Store
	close      func() error
}

func openBackends(cfg *config.Config) (*backends, error) {
	switch cfg.StoreDriver {
	case "memory":
		mem := store.NewMemory()
		return &backends{
			violations: mem,
			evidence:   mem.Evidence(),
			chain:      mem.Chain(),
			close:      func() error { return nil },
		}, nil
	case "sqlite":
		db, err := store.OpenSQLite(cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s, err := store.NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &backends{
			violations: s,
			evidence:   s.Evidence(),
			chain:      s.Chain(),
			close:      db.Close,
		}, nil
	case "postgres":
		db, err := store.OpenPostgres(cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		p, err := store.NewPostgres(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &backends{
			violations: p,
			evidence:   p.Evidence(),
			chain:      p.Chain(),
			close:      db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runServer(cfg *config.Config, logger *slog.Logger, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.TelemetryEnabled
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = cfg.OTLPInsecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "telemetry init: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	be, err := openBackends(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "storage init: %v\n", err)
		return 1
	}
	defer func() { _ = be.close() }()

	srv := api.NewServer(
		detect.New(),
		classify.New(),
		evidence.NewCaptureService(be.evidence),
		chain.NewService(be.chain),
		verify.New(be.chain, be.evidence),
		be.violations,
		cfg.TenantID,
		logger,
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           obs.Middleware(srv.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sentinel listening",
			"port", cfg.Port,
			"store", cfg.StoreDriver,
			"tenant", cfg.TenantID)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	logger.Info("sentinel stopped")
	return 0
}

// runVerify performs a one-shot integrity walk over the configured store
// and prints the report. Exit code 1 means the chain did not verify.
func runVerify(cfg *config.Config, stdout, stderr io.Writer) int {
	be, err := openBackends(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "storage init: %v\n", err)
		return 1
	}
	defer func() { _ = be.close() }()

	report, err := verify.New(be.chain, be.evidence).Verify(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if !report.Valid {
		return 1
	}
	return 0
}
