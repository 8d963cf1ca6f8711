// Package config loads and validates the bridge relay's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the relay reads at startup.
type Config struct {
	// Chain RPC
	RPCURL          string
	RPCFallbackURLs []string
	ChainID         int64

	// Ledger (Canton/DAML-JSON-API)
	CantonHost  string
	CantonPort  int
	CantonToken string
	CantonParty string

	// Contract addresses
	BridgeAddress                string
	TreasuryAddress               string
	MetaVault3Address             string
	MUSDTokenAddress              string
	YieldDistributorAddress       string
	ETHPoolYieldDistributorAddress string

	// Signer
	KMSKeyID   string
	PrivateKey string

	// Routing / validator maps
	ValidatorAddressesJSON      string
	RecipientPartyAliasesJSON   string
	RedemptionEthRecipientsJSON string

	// Scheduling
	PollInterval    time.Duration
	Confirmations   uint64
	LookbackBlocks  uint64

	// Rate limiting
	RateLimitTxPerBlock  int
	RateLimitTxPerMinute int
	RateLimitTxPerHour   int

	// Pause guardian
	PauseCapChangePct int
	PauseMaxReverts   int

	// Redemption
	MaxRedemptionEthPayoutMUSD string // 18-dec decimal string

	// Behavioral knobs
	AutoGrantBridgeRoleForRedemptions  bool
	AutoAcceptMUSDTransferProposals    bool
	CIP56PackageID                     string

	// Attestation. AttestationTTLSeconds is subtracted from expiresAt to
	// derive an attestation's timestamp; it must equal the TTL the
	// Ledger-side aggregator uses.
	AttestationTTLSeconds int64

	// Durable state
	StateFile string

	// Health/metrics server
	HealthAddr      string
	MetricsBearerToken string

	// Environment
	Environment string // "production", "development", "test"

	// Optional audit log (Postgres)
	AuditDatabaseURL string

	// Optional Firestore UI sync
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	LogLevel string
}

// Load reads configuration from the environment. It never errors on a
// missing value — callers must follow up with Validate() or
// ValidateForDevelopment().
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:          getEnv("RPC_URL", ""),
		RPCFallbackURLs: getEnvList("RPC_FALLBACK_URLS", nil),
		ChainID:         getEnvInt64("CHAIN_ID", 1),

		CantonHost:  getEnv("CANTON_HOST", "localhost"),
		CantonPort:  getEnvInt("CANTON_PORT", 6865),
		CantonToken: getEnv("CANTON_TOKEN", ""),
		CantonParty: getEnv("CANTON_PARTY", ""),

		BridgeAddress:                  getEnv("BRIDGE", ""),
		TreasuryAddress:                getEnv("TREASURY", ""),
		MetaVault3Address:              getEnv("META_VAULT3", ""),
		MUSDTokenAddress:               getEnv("MUSD_TOKEN", ""),
		YieldDistributorAddress:        getEnv("YIELD_DISTRIBUTOR", ""),
		ETHPoolYieldDistributorAddress: getEnv("ETH_POOL_YIELD_DISTRIBUTOR", ""),

		KMSKeyID:   getEnv("KMS_KEY_ID", ""),
		PrivateKey: getEnv("PRIVATE_KEY", ""),

		ValidatorAddressesJSON:      getEnv("VALIDATOR_ADDRESSES", "{}"),
		RecipientPartyAliasesJSON:   getEnv("RECIPIENT_PARTY_ALIASES", "{}"),
		RedemptionEthRecipientsJSON: getEnv("REDEMPTION_ETH_RECIPIENTS", "{}"),

		PollInterval:   getEnvDuration("POLL_INTERVAL_MS_DURATION", 0),
		Confirmations:  uint64(getEnvInt("CONFIRMATIONS", 12)),
		LookbackBlocks: uint64(getEnvInt("LOOKBACK_BLOCKS", 5000)),

		RateLimitTxPerBlock:  getEnvInt("RATE_LIMIT_TX_PER_BLOCK", 1),
		RateLimitTxPerMinute: getEnvInt("RATE_LIMIT_TX_PER_MINUTE", 10),
		RateLimitTxPerHour:   getEnvInt("RATE_LIMIT_TX_PER_HOUR", 60),

		PauseCapChangePct: getEnvInt("PAUSE_CAP_CHANGE_PCT", 20),
		PauseMaxReverts:   getEnvInt("PAUSE_MAX_REVERTS", 3),

		MaxRedemptionEthPayoutMUSD: getEnv("MAX_REDEMPTION_ETH_PAYOUT_MUSD", "1000000000000000000000000"),

		AutoGrantBridgeRoleForRedemptions: getEnvBool("AUTO_GRANT_BRIDGE_ROLE_FOR_REDEMPTIONS", false),
		AutoAcceptMUSDTransferProposals:   getEnvBool("AUTO_ACCEPT_MUSD_TRANSFER_PROPOSALS", false),
		CIP56PackageID:                    getEnv("CIP56_PACKAGE_ID", ""),

		AttestationTTLSeconds: getEnvInt64("ATTESTATION_TTL_SECONDS", 3600),

		StateFile: getEnv("STATE_FILE", "./data/relay-state.json"),

		HealthAddr:         getEnv("HEALTH_ADDR", "127.0.0.1:8080"),
		MetricsBearerToken: getEnv("METRICS_BEARER_TOKEN", ""),

		Environment: getEnv("ENVIRONMENT", "development"),

		AuditDatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	pollMs := getEnvInt64("POLL_INTERVAL_MS", 5000)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	}

	return cfg, nil
}

// IsProduction reports whether the relay is configured to run in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ValidatorAddresses parses the validator-party → Chain-address map.
func (c *Config) ValidatorAddresses() (map[string]string, error) {
	if len(c.ValidatorAddressesJSON) > 10*1024 {
		return nil, fmt.Errorf("VALIDATOR_ADDRESSES exceeds 10 KiB size cap")
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(c.ValidatorAddressesJSON), &m); err != nil {
		return nil, fmt.Errorf("invalid VALIDATOR_ADDRESSES: %w", err)
	}
	return m, nil
}

// RecipientPartyAliases parses the recipient alias routing map.
func (c *Config) RecipientPartyAliases() (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(c.RecipientPartyAliasesJSON), &m); err != nil {
		return nil, fmt.Errorf("invalid RECIPIENT_PARTY_ALIASES: %w", err)
	}
	return m, nil
}

// RedemptionEthRecipients parses the redemption payout routing map.
func (c *Config) RedemptionEthRecipients() (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(c.RedemptionEthRecipientsJSON), &m); err != nil {
		return nil, fmt.Errorf("invalid REDEMPTION_ETH_RECIPIENTS: %w", err)
	}
	return m, nil
}

// Validate performs the full production validation pass. Call after Load()
// before starting the relay in a production environment.
func (c *Config) Validate() error {
	var errs []string

	if c.RPCURL == "" {
		errs = append(errs, "RPC_URL is required but not set")
	} else if strings.HasPrefix(c.RPCURL, "http://") && c.IsProduction() {
		errs = append(errs, "RPC_URL must use TLS (https/wss) in production")
	}

	if c.CantonHost == "" {
		errs = append(errs, "CANTON_HOST is required but not set")
	}
	if c.CantonParty == "" {
		errs = append(errs, "CANTON_PARTY is required but not set")
	}
	if c.IsProduction() && c.CantonToken == "" {
		errs = append(errs, "CANTON_TOKEN is required in production")
	}

	if c.BridgeAddress == "" {
		errs = append(errs, "BRIDGE is required but not set")
	}
	if c.MUSDTokenAddress == "" {
		errs = append(errs, "MUSD_TOKEN is required but not set")
	}
	if c.TreasuryAddress == "" {
		errs = append(errs, "TREASURY is required but not set")
	}

	if c.IsProduction() {
		if c.KMSKeyID == "" {
			errs = append(errs, "KMS_KEY_ID is required in production (raw PRIVATE_KEY is rejected)")
		}
		if c.PrivateKey != "" {
			errs = append(errs, "PRIVATE_KEY must not be set in production; use KMS_KEY_ID")
		}
	} else if c.KMSKeyID == "" && c.PrivateKey == "" {
		errs = append(errs, "either KMS_KEY_ID or PRIVATE_KEY must be set")
	}

	if _, err := c.ValidatorAddresses(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.StateFile == "" {
		errs = append(errs, "STATE_FILE is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs a relaxed validation pass suitable for
// local development. Do not use in production.
func (c *Config) ValidateForDevelopment() error {
	var errs []string

	if c.CantonHost == "" {
		errs = append(errs, "CANTON_HOST is required")
	}
	if c.BridgeAddress == "" {
		errs = append(errs, "BRIDGE is required")
	}
	if c.KMSKeyID == "" && c.PrivateKey == "" {
		errs = append(errs, "either KMS_KEY_ID or PRIVATE_KEY must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
