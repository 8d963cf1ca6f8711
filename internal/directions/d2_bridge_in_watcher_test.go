package directions

import (
	"math/big"
	"testing"
)

func TestValidPartyID(t *testing.T) {
	cases := map[string]bool{
		"alice::abcd1234":         true,
		"operator":                true,
		"":                        false,
		"bad party id with spaces and !!": false,
	}
	for input, want := range cases {
		if got := validPartyID(input); got != want {
			t.Errorf("validPartyID(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestResolveRecipientAlias(t *testing.T) {
	aliases := map[string]string{
		"alice":    "alice::1234abcd",
		"operator": "operator::deadbeef",
	}

	if got := resolveRecipientAlias("alice", aliases); got != "alice::1234abcd" {
		t.Fatalf("exact alias match = %q", got)
	}
	if got := resolveRecipientAlias("alice::hint-suffix", aliases); got != "alice::1234abcd" {
		t.Fatalf("prefix alias match = %q", got)
	}
	if got := resolveRecipientAlias("unknown-party::xyz", aliases); got != "unknown-party::xyz" {
		t.Fatalf("unresolved alias should pass through unchanged, got %q", got)
	}
}

func TestBridgeInAgreementHashAndURI(t *testing.T) {
	nonce := big.NewInt(7)
	hash := bridgeInAgreementHash(nonce)
	if len(hash) != 64 {
		t.Fatalf("agreement hash length = %d, want 64", len(hash))
	}

	uri := bridgeInAgreementURI("0xBridge", nonce, "alice::abcd")
	want := "ethereum:bridge-in:0xBridge:nonce:7:recipient:alice%3A%3Aabcd"
	if uri != want {
		t.Fatalf("agreement uri = %q, want %q", uri, want)
	}
}

func TestBridgeInFingerprint(t *testing.T) {
	a := bridgeInFingerprint("1", "1000", "999", "alice")
	b := bridgeInFingerprint("1", "1000", "999", "alice")
	c := bridgeInFingerprint("2", "1000", "999", "alice")
	if a != b {
		t.Fatalf("identical inputs must fingerprint identically")
	}
	if a == c {
		t.Fatalf("differing nonce must fingerprint differently")
	}
}

func TestHasValidatorFields(t *testing.T) {
	if hasValidatorFields(map[string]interface{}{}) {
		t.Fatalf("empty payload should report no validator fields")
	}
	if !hasValidatorFields(map[string]interface{}{"validators": []interface{}{"v1"}}) {
		t.Fatalf("payload with validators key should report true")
	}
}
