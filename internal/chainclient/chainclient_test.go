package chainclient

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRedactURLStripsQueryString(t *testing.T) {
	got := RedactURL("https://rpc.example.com/v2/abc123?apikey=supersecret")
	if got != "https://rpc.example.com/v2/abc123?<redacted>" {
		t.Fatalf("unexpected redaction result: %s", got)
	}
}

func TestRedactURLNoQueryString(t *testing.T) {
	got := RedactURL("https://rpc.example.com/v2/abc123")
	if got != "https://rpc.example.com/v2/abc123" {
		t.Fatalf("unexpected redaction result: %s", got)
	}
}

func TestRoleIDDeterministic(t *testing.T) {
	a := roleID("BRIDGE_MINT_ROLE")
	b := roleID("BRIDGE_MINT_ROLE")
	if a != b {
		t.Fatal("roleID must be deterministic for the same input")
	}
	c := roleID("TREASURY_VAULT_ROLE")
	if a == c {
		t.Fatal("roleID must differ for different inputs")
	}
}

func TestBridgeEventTopics(t *testing.T) {
	b, err := NewBridge(common.Address{}, nil)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	topic, err := b.EventTopic("AttestationReceived")
	if err != nil {
		t.Fatalf("EventTopic failed: %v", err)
	}
	if topic == (common.Hash{}) {
		t.Fatal("expected non-zero topic hash")
	}
	if _, err := b.EventTopic("DoesNotExist"); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
