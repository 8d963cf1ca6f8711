package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ChainID != 1 {
		t.Errorf("expected default ChainID 1, got %d", cfg.ChainID)
	}
	if cfg.RateLimitTxPerMinute != 10 {
		t.Errorf("expected default RateLimitTxPerMinute 10, got %d", cfg.RateLimitTxPerMinute)
	}
	if cfg.AttestationTTLSeconds != 3600 {
		t.Errorf("expected default AttestationTTLSeconds 3600, got %d", cfg.AttestationTTLSeconds)
	}
}

func TestValidateRejectsMissingRequirements(t *testing.T) {
	cfg := &Config{Environment: "production"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty production config")
	}
}

func TestValidateForDevelopmentRelaxed(t *testing.T) {
	cfg := &Config{
		CantonHost:    "localhost",
		BridgeAddress: "0xabc",
		PrivateKey:    "deadbeef",
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Fatalf("expected relaxed validation to pass, got: %v", err)
	}
}

func TestValidatorAddressesSizeCap(t *testing.T) {
	big := make([]byte, 11*1024)
	for i := range big {
		big[i] = 'a'
	}
	cfg := &Config{ValidatorAddressesJSON: string(big)}
	if _, err := cfg.ValidatorAddresses(); err == nil {
		t.Fatal("expected size-cap error")
	}
}

func TestValidatorAddressesParses(t *testing.T) {
	cfg := &Config{ValidatorAddressesJSON: `{"validator1::node":"0x1111111111111111111111111111111111111111"}`}
	m, err := cfg.ValidatorAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["validator1::node"] == "" {
		t.Fatal("expected parsed validator address")
	}
}
