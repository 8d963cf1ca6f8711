// Package auditlog persists an optional, best-effort append-only trail
// of submitted attestations and settled redemptions to Postgres. It is
// not part of the relay's correctness boundary — durable correctness
// lives entirely in the state file (internal/state) and on-chain
// idempotency checks. A write failure here is logged and swallowed so
// an audit database outage never blocks a direction handler.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store writes attestation and redemption audit rows. A Store with no
// database (as returned by NewNoop), like a nil *Store, makes every
// method a no-op, so callers do not need to branch on whether auditing
// is enabled.
type Store struct {
	db *sql.DB
}

// Config carries the Postgres connection string and pool sizing.
type Config struct {
	DatabaseURL  string
	MaxOpenConns int
	MaxIdleConns int
}

const (
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 2
)

// New opens a pooled connection and verifies it with a ping. Returns
// NewNoop's no-op store if cfg.DatabaseURL is empty, since auditing is
// an optional sink (spec §9: "optional append-only audit trail").
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return NewNoop(), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// NewNoop returns a Store with no backing connection; every recording
// method becomes a no-op.
func NewNoop() *Store { return &Store{} }

// Close closes the underlying connection pool, if any.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AttestationRecord is one row of the D1 submission trail.
type AttestationRecord struct {
	AttestationID   string
	Nonce           uint64
	ChainID         uint64
	EthTxHash       string
	GlobalLedgerAssets string
	SubmittedAt     time.Time
}

// RecordAttestation inserts a row for an attestation submitted to the
// Chain. Best-effort: errors are returned for the caller to log, never
// to abort the direction handler that called it.
func (s *Store) RecordAttestation(ctx context.Context, rec AttestationRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	const query = `
		INSERT INTO attestation_audit (
			attestation_id, nonce, chain_id, eth_tx_hash,
			global_ledger_assets, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (attestation_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.AttestationID, rec.Nonce, rec.ChainID, rec.EthTxHash,
		rec.GlobalLedgerAssets, rec.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("auditlog: record attestation: %w", err)
	}
	return nil
}

// RedemptionRecord is one row of the D2b settlement trail.
type RedemptionRecord struct {
	RedemptionCID string
	Recipient     string
	AmountPaid    string
	EthTxHash     string
	SettledAt     time.Time
}

// RecordRedemption inserts a row for a redemption settled on the Chain.
func (s *Store) RecordRedemption(ctx context.Context, rec RedemptionRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	const query = `
		INSERT INTO redemption_audit (
			redemption_cid, recipient, amount_paid, eth_tx_hash, settled_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (redemption_cid) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.RedemptionCID, rec.Recipient, rec.AmountPaid, rec.EthTxHash, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("auditlog: record redemption: %w", err)
	}
	return nil
}

// AlreadyRecordedAttestation reports whether an attestation id already
// has an audit row, for operators reconciling the audit trail against
// the state file's processed-id sets.
func (s *Store) AlreadyRecordedAttestation(ctx context.Context, attestationID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM attestation_audit WHERE attestation_id = $1)`,
		attestationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("auditlog: check attestation: %w", err)
	}
	return exists, nil
}
