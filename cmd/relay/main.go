// Command relay runs the bridge relay daemon: it drives the six
// reconciliation directions (spec §4) plus orphan recovery on a fixed poll
// interval, serves /health and /metrics, and performs a graceful
// SIGINT/SIGTERM drain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/internal/auditlog"
	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/config"
	"github.com/certen/independant-validator/internal/directions"
	"github.com/certen/independant-validator/internal/guardian"
	"github.com/certen/independant-validator/internal/health"
	"github.com/certen/independant-validator/internal/ledgerclient"
	"github.com/certen/independant-validator/internal/metrics"
	"github.com/certen/independant-validator/internal/ratelimit"
	"github.com/certen/independant-validator/internal/scheduler"
	"github.com/certen/independant-validator/internal/signer"
	"github.com/certen/independant-validator/internal/state"
	"github.com/certen/independant-validator/internal/uisync"
)

// shutdownTimeout bounds the graceful drain spec §5 describes: the
// in-flight cycle and any open HTTP connections get this long to finish
// before the process exits unconditionally.
const shutdownTimeout = 30 * time.Second

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	dev := flag.Bool("dev", false, "use relaxed development config validation instead of production validation")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *dev {
		if err := cfg.ValidateForDevelopment(); err != nil {
			log.Fatalf("%v", err)
		}
	} else {
		if err := cfg.Validate(); err != nil {
			log.Fatalf("%v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := chainclient.Addresses{
		Bridge:              common.HexToAddress(cfg.BridgeAddress),
		MUSDToken:           common.HexToAddress(cfg.MUSDTokenAddress),
		Treasury:            common.HexToAddress(cfg.TreasuryAddress),
		YieldDistributor:    common.HexToAddress(cfg.YieldDistributorAddress),
		ETHPoolYieldDistrib: common.HexToAddress(cfg.ETHPoolYieldDistributorAddress),
	}

	urls := append([]string{cfg.RPCURL}, cfg.RPCFallbackURLs...)
	chain, err := chainclient.Dial(ctx, urls, cfg.ChainID, addrs)
	if err != nil {
		log.Fatalf("failed to connect to chain RPC: %v", err)
	}
	defer chain.Close()
	logger.Printf("relay: connected to chain RPC %s (chain id %d)", chain.ActiveURL(), cfg.ChainID)

	sign, err := buildSigner(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build signer: %v", err)
	}
	logger.Printf("relay: signer address %s", sign.Address())

	ledger := ledgerclient.New(ledgerclient.Config{
		Host:  cfg.CantonHost,
		Port:  cfg.CantonPort,
		Token: cfg.CantonToken,
	})
	defer ledger.Close()

	stateStore := state.New(cfg.StateFile)
	if err := stateStore.Load(); err != nil {
		if !errors.Is(err, state.ErrCorrupt) {
			log.Fatalf("failed to load state file %s: %v", cfg.StateFile, err)
		}
		logger.Printf("relay: ignoring state file %s, starting from empty state: %v", cfg.StateFile, err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerBlock:  cfg.RateLimitTxPerBlock,
		PerMinute: cfg.RateLimitTxPerMinute,
		PerHour:   cfg.RateLimitTxPerHour,
	})

	reg := metrics.New()

	guard := guardian.New(guardian.Config{
		MaxCapChangePct:       float64(cfg.PauseCapChangePct),
		MaxConsecutiveReverts: cfg.PauseMaxReverts,
	})

	audit, err := auditlog.New(ctx, auditlog.Config{DatabaseURL: cfg.AuditDatabaseURL})
	if err != nil {
		log.Fatalf("failed to open audit log: %v", err)
	}
	defer audit.Close()

	uiClient, err := uisync.NewClient(ctx, uisync.Config{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Enabled:         cfg.FirestoreEnabled,
	})
	if err != nil {
		log.Fatalf("failed to build Firestore UI sync client: %v", err)
	}
	defer uiClient.Close()
	uiService := uisync.NewService(uiClient, 0)

	validatorAddrs, err := cfg.ValidatorAddresses()
	if err != nil {
		log.Fatalf("invalid VALIDATOR_ADDRESSES: %v", err)
	}
	recipientAliases, err := cfg.RecipientPartyAliases()
	if err != nil {
		log.Fatalf("invalid RECIPIENT_PARTY_ALIASES: %v", err)
	}
	redemptionRecipients, err := cfg.RedemptionEthRecipients()
	if err != nil {
		log.Fatalf("invalid REDEMPTION_ETH_RECIPIENTS: %v", err)
	}

	deps := &directions.Deps{
		Ledger:                  ledger,
		Chain:                   chain,
		Signer:                  sign,
		State:                   stateStore,
		Limiter:                 limiter,
		Guardian:                guard,
		Metrics:                 reg,
		Audit:                   audit,
		UISync:                  uiService,
		Config:                  cfg,
		Logger:                  logger,
		CantonParty:             cfg.CantonParty,
		ValidatorAddresses:      validatorAddrs,
		RecipientPartyAliases:   recipientAliases,
		RedemptionEthRecipients: redemptionRecipients,
	}

	d1 := directions.NewAttestationRelay(deps)
	d2 := directions.NewBridgeInWatcher(deps)
	d2b := directions.NewRedemptionSettler(deps)
	d3 := directions.NewBridgeOutBacker(deps)
	d4 := directions.NewYieldBridge(deps)
	orphan := directions.NewOrphanRecovery(deps)

	handlers := []scheduler.Direction{
		{Name: "D1", Execute: d1.Execute},
		{Name: "D2", Execute: d2.Execute},
		{Name: "D2b", Execute: d2b.Execute},
		{Name: "D3", Execute: d3.Execute},
		{Name: "D4", Execute: d4.Execute},
	}
	orphanDirection := scheduler.Direction{Name: "orphan", Execute: orphan.Execute}

	tracker := health.NewTracker()
	healthSrv := health.NewServer(health.Config{
		Addr:               cfg.HealthAddr,
		MetricsBearerToken: cfg.MetricsBearerToken,
	}, tracker, reg)

	sched := scheduler.New(
		scheduler.Config{PollInterval: cfg.PollInterval, Addresses: addrs},
		deps,
		handlers,
		orphanDirection,
		chain,
		func(ctx context.Context) (signer.Signer, error) { return buildSigner(ctx, cfg) },
		tracker,
		reg,
		uiService,
		logger,
	)

	go func() {
		logger.Printf("relay: health/metrics listening on %s", cfg.HealthAddr)
		if err := healthSrv.ListenAndServe(); err != nil {
			logger.Printf("relay: health server stopped: %v", err)
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("relay: shutdown signal received, draining")

	cancel()

	select {
	case <-schedulerDone:
	case <-time.After(shutdownTimeout):
		logger.Printf("relay: scheduler did not drain within %s, exiting anyway", shutdownTimeout)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("relay: health server shutdown error: %v", err)
	}

	logger.Printf("relay: stopped")
}

// buildSigner selects the signer backend per spec §6: KMS-backed in
// production, raw key only outside it (config.Validate already enforces
// this split). No concrete HSM/KMS vendor client ships in this module —
// deployments that set KMS_KEY_ID must supply one by wiring their own
// signer.HSMClient implementation in place of this function.
func buildSigner(ctx context.Context, cfg *config.Config) (signer.Signer, error) {
	if cfg.KMSKeyID != "" {
		return nil, fmt.Errorf("KMS_KEY_ID is set but no HSMClient implementation is wired into cmd/relay; supply one and pass it to signer.NewHsmSigner")
	}
	return signer.NewRawKeySigner(cfg.PrivateKey)
}
