package directions

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/certen/independant-validator/internal/auditlog"
	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/config"
	"github.com/certen/independant-validator/internal/guardian"
	"github.com/certen/independant-validator/internal/ledgerclient"
	"github.com/certen/independant-validator/internal/metrics"
	"github.com/certen/independant-validator/internal/ratelimit"
	"github.com/certen/independant-validator/internal/signer"
	"github.com/certen/independant-validator/internal/state"
	"github.com/certen/independant-validator/internal/uisync"
)

// Deps bundles everything a direction handler needs, so each handler's
// constructor takes one struct instead of a growing parameter list.
type Deps struct {
	Ledger   ledgerclient.Client
	Chain    *chainclient.Client
	Signer   signer.Signer
	State    *state.Store
	Limiter  *ratelimit.Limiter
	Guardian *guardian.Guardian
	Metrics  *metrics.Registry
	Audit    *auditlog.Store
	UISync   *uisync.Service
	Config   *config.Config
	Logger   *log.Logger

	// CantonParty is the relay's own Ledger party id, used as actAs on
	// every command submission.
	CantonParty string

	// ValidatorAddresses maps a validator party id to its registered
	// Chain address (spec §4.1 step 11a).
	ValidatorAddresses map[string]string

	// RecipientPartyAliases maps a short alias hint to a full Ledger party
	// id (spec §4.2's "name::hint" alias resolution).
	RecipientPartyAliases map[string]string

	// RedemptionEthRecipients maps a redemption's Ledger-side identifier to
	// the Chain address the settlement mints to (spec §4.3).
	RedemptionEthRecipients map[string]string
}

// bridgePauser adapts chainclient.Bridge's Transact-shaped Pause method to
// guardian.Pauser's narrow context-only signature: it builds transact opts
// from the relay's signer, submits the pause transaction, and waits for it
// to be mined before reporting success.
type bridgePauser struct {
	bridge *chainclient.Bridge
	chain  *chainclient.Client
	signer signer.Signer
}

func newBridgePauser(d *Deps) *bridgePauser {
	return &bridgePauser{bridge: d.Chain.Bridge, chain: d.Chain, signer: d.Signer}
}

func (p *bridgePauser) Pause(ctx context.Context) error {
	opts, err := p.signer.TransactOpts(ctx, p.chain.ChainID().Int64())
	if err != nil {
		return fmt.Errorf("bridge pauser: build transact opts: %w", err)
	}
	tx, err := p.bridge.Pause(opts)
	if err != nil {
		return fmt.Errorf("bridge pauser: submit pause tx: %w", err)
	}
	if _, err := p.chain.WaitMined(ctx, tx); err != nil {
		return fmt.Errorf("bridge pauser: wait for pause tx to mine: %w", err)
	}
	return nil
}

var _ guardian.Pauser = (*bridgePauser)(nil)

// weiPerMicroUSDC converts an 18-decimal mUSD/wei amount to a 6-decimal
// USDC-style amount by integer division — spec §4.4 step 3's conversion.
var weiPerMicroUSDC = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// toSixDecimals floor-divides an 18-decimal amount down to 6 decimals.
func toSixDecimals(amount18dec *big.Int) *big.Int {
	return new(big.Int).Div(amount18dec, weiPerMicroUSDC)
}
