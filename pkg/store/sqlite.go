package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinel-ledger/sentinel/pkg/chain"
	"github.com/sentinel-ledger/sentinel/pkg/classify"
	"github.com/sentinel-ledger/sentinel/pkg/detect"
	"github.com/sentinel-ledger/sentinel/pkg/evidence"
)

// OpenSQLite opens (creating if needed) a SQLite database at path with
// WAL journaling and synchronous=FULL, so a successful write is on disk
// before it is acknowledged.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver is not safe for concurrent writes over multiple
	// connections to the same file.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLite is a durable backend over a single SQLite database. It satisfies
// ViolationStore, evidence.Store, and chain.Store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates the backend and runs migrations.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
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
		detection_context TEXT NOT NULL,
		violation_ref TEXT,
		metadata TEXT,
		captured_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_evidence_violation
		ON evidence(violation_ref) WHERE violation_ref IS NOT NULL AND violation_ref != '';
	CREATE TABLE IF NOT EXISTS audit_chain (
		sequence_number INTEGER PRIMARY KEY,
		evidence_id TEXT NOT NULL UNIQUE,
		data_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		record_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// --- ViolationStore ---

func (s *SQLite) Put(ctx context.Context, v classify.Violation) error {
	const query = `INSERT INTO violations (
		violation_id, regulation, clause_reference, severity, description,
		source_type, source_id, masked_value, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		v.ViolationID, string(v.Regulation), v.ClauseReference, string(v.Severity),
		v.Description, v.SourceType, v.SourceID, v.MaskedValue, formatTime(v.CreatedAt))
	return err
}

func (s *SQLite) Get(ctx context.Context, violationID string) (classify.Violation, error) {
	const query = `SELECT violation_id, regulation, clause_reference, severity,
		description, source_type, source_id, masked_value, created_at
		FROM violations WHERE violation_id = ?`
	return scanViolation(s.db.QueryRowContext(ctx, query, violationID))
}

// List returns violations newest first.
func (s *SQLite) List(ctx context.Context) ([]classify.Violation, error) {
	const query = `SELECT violation_id, regulation, clause_reference, severity,
		description, source_type, source_id, masked_value, created_at
		FROM violations ORDER BY created_at DESC, violation_id DESC`
	rows, err := s.db.QueryContext(ctx, query)
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
func (s *SQLite) Evidence() *SQLiteEvidence { return &SQLiteEvidence{s.db} }

// SQLiteEvidence adapts the database to evidence.Store.
type SQLiteEvidence struct {
	db *sql.DB
}

func (s *SQLiteEvidence) Put(ctx context.Context, ev evidence.Evidence) error {
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
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		ev.EvidenceID, string(ev.EventType), ev.Regulation, string(detection),
		ev.ViolationRef, string(metadata), formatTime(ev.CapturedAt))
	return err
}

func (s *SQLiteEvidence) Get(ctx context.Context, evidenceID string) (evidence.Evidence, error) {
	const query = evidenceColumns + ` WHERE evidence_id = ?`
	return scanEvidence(s.db.QueryRowContext(ctx, query, evidenceID))
}

func (s *SQLiteEvidence) GetByViolation(ctx context.Context, violationID string) (evidence.Evidence, error) {
	const query = evidenceColumns + ` WHERE violation_ref = ?`
	return scanEvidence(s.db.QueryRowContext(ctx, query, violationID))
}

func (s *SQLiteEvidence) List(ctx context.Context) ([]evidence.Evidence, error) {
	const query = evidenceColumns + ` ORDER BY captured_at ASC, evidence_id ASC`
	rows, err := s.db.QueryContext(ctx, query)
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
func (s *SQLite) Chain() *SQLiteChain { return &SQLiteChain{s.db} }

// SQLiteChain adapts the database to chain.Store. The primary key on
// sequence_number and the unique constraint on evidence_id back up the
// service-level append serialization across processes.
type SQLiteChain struct {
	db *sql.DB
}

func (s *SQLiteChain) Append(ctx context.Context, node chain.Node) error {
	const query = `INSERT INTO audit_chain (
		sequence_number, evidence_id, data_hash, previous_hash, record_hash, timestamp
	) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		node.Sequence, node.EvidenceID, node.DataHash,
		node.PreviousHash, node.RecordHash, formatTime(node.Timestamp))
	if err != nil && isConstraintViolation(err) {
		return chain.ErrDuplicate
	}
	return err
}

func (s *SQLiteChain) Tail(ctx context.Context) (chain.Node, error) {
	const query = chainColumns + ` ORDER BY sequence_number DESC LIMIT 1`
	return scanNode(s.db.QueryRowContext(ctx, query))
}

func (s *SQLiteChain) List(ctx context.Context, r chain.Range) ([]chain.Node, error) {
	query := chainColumns
	var conds []string
	var args []any
	if r.Start != nil {
		conds = append(conds, "sequence_number >= ?")
		args = append(args, *r.Start)
	}
	if r.End != nil {
		conds = append(conds, "sequence_number <= ?")
		args = append(args, *r.End)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence_number ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// --- row scanning ---

const evidenceColumns = `SELECT evidence_id, event_type, regulation_context,
	detection_context, violation_ref, metadata, captured_at FROM evidence`

const chainColumns = `SELECT sequence_number, evidence_id, data_hash,
	previous_hash, record_hash, timestamp FROM audit_chain`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (classify.Violation, error) {
	var v classify.Violation
	var regulation, severity, createdAt string
	err := row.Scan(&v.ViolationID, &regulation, &v.ClauseReference, &severity,
		&v.Description, &v.SourceType, &v.SourceID, &v.MaskedValue, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return classify.Violation{}, ErrNotFound
		}
		return classify.Violation{}, err
	}
	v.Regulation = detect.Regulation(regulation)
	v.Severity = classify.Severity(severity)
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return classify.Violation{}, err
	}
	return v, nil
}

func scanEvidence(row rowScanner) (evidence.Evidence, error) {
	var ev evidence.Evidence
	var eventType, detection, capturedAt string
	var metadata sql.NullString
	err := row.Scan(&ev.EvidenceID, &eventType, &ev.Regulation,
		&detection, &ev.ViolationRef, &metadata, &capturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evidence.Evidence{}, evidence.ErrNotFound
		}
		return evidence.Evidence{}, err
	}
	ev.EventType = evidence.EventType(eventType)
	if err := json.Unmarshal([]byte(detection), &ev.Detection); err != nil {
		return evidence.Evidence{}, fmt.Errorf("decode detection context: %w", err)
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
			return evidence.Evidence{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if ev.CapturedAt, err = parseTime(capturedAt); err != nil {
		return evidence.Evidence{}, err
	}
	return ev, nil
}

func scanNode(row rowScanner) (chain.Node, error) {
	var node chain.Node
	var ts string
	err := row.Scan(&node.Sequence, &node.EvidenceID, &node.DataHash,
		&node.PreviousHash, &node.RecordHash, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chain.Node{}, chain.ErrNotFound
		}
		return chain.Node{}, err
	}
	if node.Timestamp, err = parseTime(ts); err != nil {
		return chain.Node{}, err
	}
	return node, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConstraintViolation reports whether err is a uniqueness or primary key
// conflict. The modernc driver surfaces SQLite error text, not typed errors.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "PRIMARY KEY constraint") ||
		strings.Contains(msg, "constraint failed")
}
