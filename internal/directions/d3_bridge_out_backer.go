package directions

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/ledgerclient"
)

// BridgeOutBacker implements D3: it watches Ledger BridgeOutRequest
// contracts and backs each with a treasury deposit on the Chain side.
type BridgeOutBacker struct {
	deps *Deps

	lastAccessControlWarn time.Time
}

// NewBridgeOutBacker builds a D3 handler.
func NewBridgeOutBacker(deps *Deps) *BridgeOutBacker {
	return &BridgeOutBacker{deps: deps}
}

type bridgeOutCandidate struct {
	contractID string
	id         string
	amount18   *big.Int
	source     string
	metaVault3 string
}

func parseBridgeOutCandidate(c ledgerclient.Contract) (bridgeOutCandidate, error) {
	id, err := fieldString(c.Payload, "requestId")
	if err != nil {
		return bridgeOutCandidate{}, err
	}
	amount, err := fieldBigInt(c.Payload, "amountWei")
	if err != nil {
		return bridgeOutCandidate{}, err
	}
	source := optionalFieldString(c.Payload, "source")
	metaVault3 := optionalFieldString(c.Payload, "metaVault3")
	return bridgeOutCandidate{contractID: c.ContractID, id: id, amount18: amount, source: source, metaVault3: metaVault3}, nil
}

// Execute runs one D3 pass over pending BridgeOutRequest contracts.
func (b *BridgeOutBacker) Execute(ctx context.Context) error {
	contracts, err := b.deps.Ledger.QueryActive(ctx, []string{tplBridgeOutRequest}, ledgerclient.Predicate{"status": "pending"})
	if err != nil {
		return transient("d3: query BridgeOutRequest: %w", err)
	}

	for _, c := range contracts {
		cand, err := parseBridgeOutCandidate(c)
		if err != nil {
			b.deps.Logger.Printf("d3: skipping malformed bridge-out contract %s: %v", c.ContractID, err)
			continue
		}
		if b.deps.State.RelayedBridgeOutIds().Contains(cand.id) {
			continue
		}
		if err := b.processOne(ctx, cand); err != nil {
			if IsAnomaly(err) {
				return err
			}
			b.deps.Logger.Printf("d3: bridge-out %s: %v", cand.id, err)
			continue
		}
	}
	return nil
}

func (b *BridgeOutBacker) processOne(ctx context.Context, cand bridgeOutCandidate) error {
	hasRole, err := b.deps.Chain.Treasury.HasRole(ctx, chainclient.TreasuryVaultRole, b.deps.Signer.Address())
	if err != nil {
		return transient("check TREASURY_VAULT_ROLE: %w", err)
	}
	if !hasRole {
		if time.Since(b.lastAccessControlWarn) > time.Hour {
			b.deps.Logger.Printf("d3: relay signer lacks TREASURY_VAULT_ROLE, deposits will revert until granted")
			b.lastAccessControlWarn = time.Now()
		}
		return transient("relay signer lacks TREASURY_VAULT_ROLE")
	}

	assetAddr, err := b.deps.Chain.Treasury.Asset(ctx)
	if err != nil {
		return transient("read treasury backing asset: %w", err)
	}
	asset, err := chainclient.NewERC20(assetAddr, b.deps.Chain.Backend())
	if err != nil {
		return permanent("bind backing asset token: %w", err)
	}

	amount6 := toSixDecimals(cand.amount18)
	if amount6.Sign() <= 0 {
		return permanent("bridge-out %s resolves to zero backing units after decimal conversion", cand.id)
	}

	balance, err := asset.BalanceOf(ctx, b.deps.Signer.Address())
	if err != nil {
		return transient("read backing asset balance: %w", err)
	}
	if balance.Cmp(amount6) < 0 {
		return transient("insufficient backing asset balance for bridge-out %s (have %s, need %s), retrying next cycle", cand.id, balance, amount6)
	}

	opts, err := b.deps.Signer.TransactOpts(ctx, b.deps.Chain.ChainID().Int64())
	if err != nil {
		return transient("build transact opts: %w", err)
	}

	var tx, txErr = b.submitDeposit(opts, cand, amount6)
	if txErr != nil {
		if strings.Contains(txErr.Error(), "access control") || strings.Contains(txErr.Error(), "AccessControl") {
			if time.Since(b.lastAccessControlWarn) > time.Hour {
				b.deps.Logger.Printf("d3: deposit reverted on access control for bridge-out %s, will retry: %v", cand.id, txErr)
				b.lastAccessControlWarn = time.Now()
			}
			return transient("deposit reverted on access control: %w", txErr)
		}
		return transient("submit deposit tx: %w", txErr)
	}

	receipt, err := b.deps.Chain.WaitMined(ctx, tx)
	if err != nil {
		return transient("wait for deposit tx to mine: %w", err)
	}
	if receipt.Status == 0 {
		return permanent("deposit tx reverted for bridge-out %s", cand.id)
	}

	if _, err := b.deps.Ledger.Exercise(ctx, b.deps.CantonParty, tplBridgeOutRequest, cand.contractID, choiceBridgeOutComplete, map[string]interface{}{
		"ethTxHash": tx.Hash().Hex(),
	}, nil); err != nil {
		b.deps.Logger.Printf("d3: BridgeOut_Complete exercise failed for %s, recording locally only: %v", cand.id, err)
	}

	b.deps.State.RelayedBridgeOutIds().Add(cand.id)
	if err := b.deps.State.Save(); err != nil {
		b.deps.Logger.Printf("d3: failed persisting state after bridge-out %s: %v", cand.id, err)
	}
	b.deps.Metrics.CursorAdvances.WithLabelValues("d3").Inc()
	return nil
}

func (b *BridgeOutBacker) submitDeposit(opts *bind.TransactOpts, cand bridgeOutCandidate, amount6 *big.Int) (*types.Transaction, error) {
	if strings.EqualFold(cand.source, "ethpool") && common.IsHexAddress(cand.metaVault3) {
		return b.deps.Chain.Treasury.DepositToStrategy(opts, common.HexToAddress(cand.metaVault3), amount6)
	}
	return b.deps.Chain.Treasury.Deposit(opts, b.deps.Signer.Address(), amount6)
}
