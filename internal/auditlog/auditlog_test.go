package auditlog

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// testDB is populated only when CERTEN_TEST_DB names a reachable Postgres
// instance; otherwise the DB-backed tests skip themselves.
var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("CERTEN_TEST_DB")
	if connStr == "" {
		os.Exit(m.Run())
	}

	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func TestNoopStoreMethodsAreSafe(t *testing.T) {
	s := NewNoop()
	ctx := context.Background()

	if err := s.RecordAttestation(ctx, AttestationRecord{AttestationID: "a1"}); err != nil {
		t.Fatalf("noop RecordAttestation should not error: %v", err)
	}
	if err := s.RecordRedemption(ctx, RedemptionRecord{RedemptionCID: "r1"}); err != nil {
		t.Fatalf("noop RecordRedemption should not error: %v", err)
	}
	exists, err := s.AlreadyRecordedAttestation(ctx, "a1")
	if err != nil {
		t.Fatalf("noop AlreadyRecordedAttestation should not error: %v", err)
	}
	if exists {
		t.Fatal("noop store should never report an existing record")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("noop Close should not error: %v", err)
	}
}

func TestNewReturnsNoopWhenURLEmpty(t *testing.T) {
	s, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New with empty URL should not error: %v", err)
	}
	if s.db != nil {
		t.Fatal("expected a noop store with no backing connection")
	}
}

func TestRecordAndCheckAttestation(t *testing.T) {
	if testDB == nil {
		t.Skip("test database not configured")
	}
	s := &Store{db: testDB}
	ctx := context.Background()

	rec := AttestationRecord{
		AttestationID:      "test-attestation-1",
		Nonce:              5,
		ChainID:            1,
		EthTxHash:          "0xabc",
		GlobalLedgerAssets: "1000000000000000000000",
		SubmittedAt:        time.Now(),
	}
	if err := s.RecordAttestation(ctx, rec); err != nil {
		t.Fatalf("RecordAttestation failed: %v", err)
	}

	exists, err := s.AlreadyRecordedAttestation(ctx, rec.AttestationID)
	if err != nil {
		t.Fatalf("AlreadyRecordedAttestation failed: %v", err)
	}
	if !exists {
		t.Fatal("expected the recorded attestation to be found")
	}

	// Duplicate insert must not error (ON CONFLICT DO NOTHING).
	if err := s.RecordAttestation(ctx, rec); err != nil {
		t.Fatalf("duplicate RecordAttestation should be a no-op, got: %v", err)
	}
}

func TestRecordRedemption(t *testing.T) {
	if testDB == nil {
		t.Skip("test database not configured")
	}
	s := &Store{db: testDB}
	ctx := context.Background()

	rec := RedemptionRecord{
		RedemptionCID: "test-redemption-1",
		Recipient:     "0xrecipient",
		AmountPaid:    "40000000000000000000000",
		EthTxHash:     "0xdef",
		SettledAt:     time.Now(),
	}
	if err := s.RecordRedemption(ctx, rec); err != nil {
		t.Fatalf("RecordRedemption failed: %v", err)
	}
}
