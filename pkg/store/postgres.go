package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// OpenPostgres opens a Postgres connection pool.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Postgres is a durable backend for deployments where the store is shared
// across processes. The audit_chain primary key makes concurrent appends
// from separate processes safe: the loser of a sequence race gets a
// constraint error and retries with a fresh tail read.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates the backend and runs migrations.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS violations (
		violation_id TEXT PRIMARY KEY,
		regulation TEXT NOT NULL,
		clause_reference TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		masked_value TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS evidence (
		evidence_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		regulation_context TEXT NOT NULL,
		detection_context JSONB NOT NULL,
		violation_ref TEXT,
		metadata JSONB,
		captured_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_evidence_violation
		ON evidence(violation_ref) WHERE violation_ref IS NOT NULL AND violation_ref != '';
	CREATE TABLE IF NOT EXISTS audit_chain (
		sequence_number BIGINT PRIMARY KEY,
		evidence_id TEXT NOT NULL UNIQUE,
		data_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		record_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);`
	_, err := p.db.ExecContext(context.Background(), schema)
	return err
}

// --- ViolationStore ---

func (p *Postgres) Put(ctx context.Context, v classify.Violation) error {
	const query = `INSERT INTO violations (
		violation_id, regulation, clause_reference, severity, description,
		source_type, source_id, masked_value, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, query,
		v.ViolationID, string(v.Regulation), v.ClauseReference, string(v.Severity),
		v.Description, v.SourceType, v.SourceID, v.MaskedValue, formatTime(v.CreatedAt))
	return err
}

func (p *Postgres) Get(ctx context.Context, violationID string) (classify.Violation, error) {
	const query = `SELECT violation_id, regulation, clause_reference, severity,
		description, source_type, source_id, masked_value, created_at
		FROM violations WHERE violation_id = $1`
	return scanViolation(p.db.QueryRowContext(ctx, query, violationID))
}

// List returns violations newest first.
func (p *Postgres) List(ctx context.Context) ([]classify.Violation, error) {
	const query = `SELECT violation_id, regulation, clause_reference, severity,
		description, source_type, source_id, masked_value, created_at
		FROM violations ORDER BY created_at DESC, violation_id DESC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]classify.Violation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- evidence.Store ---

// Evidence returns the evidence.Store view of the backend.
func (p *Postgres) Evidence() *PostgresEvidence { return &PostgresEvidence{p.db} }

// PostgresEvidence adapts the database to evidence.Store.
type PostgresEvidence struct {
	db *sql.DB
}

func (p *PostgresEvidence) Put(ctx context.Context, ev evidence.Evidence) error {
	detection, err := json.Marshal(ev.Detection)
	if err != nil {
		return fmt.Errorf("encode detection context: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	const query = `INSERT INTO evidence (
		evidence_id, event_type, regulation_context, detection_context,
		violation_ref, metadata, captured_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = p.db.ExecContext(ctx, query,
		ev.EvidenceID, string(ev.EventType), ev.Regulation, string(detection),
		ev.ViolationRef, string(metadata), formatTime(ev.CapturedAt))
	return err
}

func (p *PostgresEvidence) Get(ctx context.Context, evidenceID string) (evidence.Evidence, error) {
	const query = evidenceColumns + ` WHERE evidence_id = $1`
	return scanEvidence(p.db.QueryRowContext(ctx, query, evidenceID))
}

func (p *PostgresEvidence) GetByViolation(ctx context.Context, violationID string) (evidence.Evidence, error) {
	const query = evidenceColumns + ` WHERE violation_ref = $1`
	return scanEvidence(p.db.QueryRowContext(ctx, query, violationID))
}

func (p *PostgresEvidence) List(ctx context.Context) ([]evidence.Evidence, error) {
	const query = evidenceColumns + ` ORDER BY captured_at ASC, evidence_id ASC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]evidence.Evidence, 0)
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- chain.Store ---

// Chain returns the chain.Store view of the backend.
func (p *Postgres) Chain() *PostgresChain { return &PostgresChain{p.db} }

// PostgresChain adapts the database to chain.Store.
type PostgresChain struct {
	db *sql.DB
}

func (p *PostgresChain) Append(ctx context.Context, node chain.Node) error {
	const query = `INSERT INTO audit_chain (
		sequence_number, evidence_id, data_hash, previous_hash, record_hash, timestamp
	) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := p.db.ExecContext(ctx, query,
		node.Sequence, node.EvidenceID, node.DataHash,
		node.PreviousHash, node.RecordHash, formatTime(node.Timestamp))
	if err != nil && isUniqueViolation(err) {
		return chain.ErrDuplicate
	}
	return err
}

func (p *PostgresChain) Tail(ctx context.Context) (chain.Node, error) {
	const query = chainColumns + ` ORDER BY sequence_number DESC LIMIT 1`
	return scanNode(p.db.QueryRowContext(ctx, query))
}

func (p *PostgresChain) List(ctx context.Context, r chain.Range) ([]chain.Node, error) {
	query := chainColumns
	var conds []string
	var args []any
	if r.Start != nil {
		args = append(args, *r.Start)
		conds = append(conds, fmt.Sprintf("sequence_number >= $%d", len(args)))
	}
	if r.End != nil {
		args = append(args, *r.End)
		conds = append(conds, fmt.Sprintf("sequence_number <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence_number ASC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]chain.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is Postgres error 23505
// (unique_violation).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
