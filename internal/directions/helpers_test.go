package directions

import (
	"errors"
	"math/big"
	"testing"
)

func TestClassifyAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := transient("wrap: %w", base)
	if ClassOf(err) != ClassTransient {
		t.Fatalf("expected ClassTransient, got %v", ClassOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to unwrap to base")
	}

	anomaly := anomaly("guardian tripped")
	if !IsAnomaly(anomaly) {
		t.Fatalf("expected IsAnomaly true")
	}
	if IsAnomaly(err) {
		t.Fatalf("transient error should not be classified as anomaly")
	}

	sec := security("replay detected")
	if !IsSecurity(sec) {
		t.Fatalf("expected IsSecurity true")
	}

	if ClassOf(base) != ClassTransient {
		t.Fatalf("unclassified errors should default to ClassTransient")
	}
}

func TestToSixDecimals(t *testing.T) {
	amount18, _ := new(big.Int).SetString("1500000000000000000", 10) // 1.5e18
	got := toSixDecimals(amount18)
	want := big.NewInt(1_500_000) // 1.5e6
	if got.Cmp(want) != 0 {
		t.Fatalf("toSixDecimals(%s) = %s, want %s", amount18, got, want)
	}

	zero := toSixDecimals(big.NewInt(0))
	if zero.Sign() != 0 {
		t.Fatalf("toSixDecimals(0) = %s, want 0", zero)
	}

	// sub-micro-USDC dust truncates to zero rather than rounding up.
	dust := toSixDecimals(big.NewInt(999_999_999_999))
	if dust.Sign() != 0 {
		t.Fatalf("toSixDecimals(dust) = %s, want 0", dust)
	}
}

func TestFieldHelpers(t *testing.T) {
	payload := map[string]interface{}{
		"nonce":   "42",
		"missing": nil,
	}
	n, err := fieldBigInt(payload, "nonce")
	if err != nil {
		t.Fatalf("fieldBigInt: %v", err)
	}
	if n.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fieldBigInt = %s, want 42", n)
	}

	if _, err := fieldBigInt(payload, "absent"); err == nil {
		t.Fatalf("expected error for missing field")
	}

	if got := optionalFieldString(payload, "absent"); got != "" {
		t.Fatalf("optionalFieldString(absent) = %q, want empty", got)
	}
}

func TestFieldHex32RoundTrip(t *testing.T) {
	payload := map[string]interface{}{
		"entropy": "0x" + "ab" + "0000000000000000000000000000000000000000000000000000000000000" + "1",
	}
	b, err := fieldHex32(payload, "entropy")
	if err != nil {
		t.Fatalf("fieldHex32: %v", err)
	}
	if b[0] != 0xab {
		t.Fatalf("first byte = %x, want ab", b[0])
	}

	if _, err := fieldHex32(map[string]interface{}{"short": "0xabcd"}, "short"); err == nil {
		t.Fatalf("expected error for undersized hex value")
	}
}

func TestParseValidatorAddresses(t *testing.T) {
	good := map[string]string{
		"validator-1": "0x1111111111111111111111111111111111111111",
	}
	addrs, err := parseValidatorAddresses(good)
	if err != nil {
		t.Fatalf("parseValidatorAddresses: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected 1 resolved address, got %d", len(addrs))
	}

	bad := map[string]string{
		"validator-1": "0x1111111111111111111111111111111111111111",
		"validator-2": "not-an-address",
	}
	addrs, err = parseValidatorAddresses(bad)
	if err == nil {
		t.Fatalf("expected error for malformed validator address")
	}
	if len(addrs) != 1 {
		t.Fatalf("expected well-formed entries to still resolve, got %d", len(addrs))
	}
}
