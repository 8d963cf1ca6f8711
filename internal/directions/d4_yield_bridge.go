package directions

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/ledgerclient"
)

// YieldBridge implements D4 (staking-pool yield) and D4b (ETH-pool yield):
// it watches the two yield distributor contracts for bridged-yield events
// and creates the matching Ledger wrapped holding plus ReceiveYield
// exercise, once per epoch.
type YieldBridge struct {
	deps *Deps
}

// NewYieldBridge builds a combined D4/D4b handler.
func NewYieldBridge(deps *Deps) *YieldBridge {
	return &YieldBridge{deps: deps}
}

// Execute runs one D4 and one D4b pass.
func (y *YieldBridge) Execute(ctx context.Context) error {
	if err := y.executeStaking(ctx); err != nil {
		return err
	}
	return y.executeETHPool(ctx)
}

func (y *YieldBridge) executeStaking(ctx context.Context) error {
	currentBlock, err := y.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return transient("d4: read current block: %w", err)
	}
	if currentBlock < y.deps.Config.Confirmations {
		return nil
	}
	confirmed := currentBlock - y.deps.Config.Confirmations

	cursors := y.deps.State.Cursors()
	if confirmed <= cursors.StakingYieldBlock {
		return nil
	}

	topic, err := y.deps.Chain.Yield.EventTopic("CantonYieldBridged")
	if err != nil {
		return permanent("d4: resolve event topic: %w", err)
	}
	logs, err := y.deps.Chain.FilterLogs(ctx,
		[]common.Address{y.deps.Chain.Yield.Address()},
		[][]common.Hash{{topic}},
		cursors.StakingYieldBlock+1, confirmed, 0)
	if err != nil {
		return transient("d4: filter logs: %w", err)
	}

	highest := cursors.StakingYieldBlock
	changed := false
	for _, lg := range logs {
		ev, err := y.deps.Chain.Yield.UnpackCantonYieldBridged(lg)
		if err != nil {
			y.deps.Logger.Printf("d4: failed to decode log at block %d: %v", lg.BlockNumber, err)
			break
		}
		epochKey := stakingEpochKey(ev.Epoch.String())
		if !y.deps.State.ProcessedStakingEpochs().Contains(epochKey) {
			if err := y.deliverStaking(ctx, ev); err != nil {
				if IsAnomaly(err) {
					return err
				}
				y.deps.Logger.Printf("d4: epoch %s: %v", ev.Epoch, err)
				break
			}
			y.deps.State.ProcessedStakingEpochs().Add(epochKey)
			changed = true
		}
		if lg.BlockNumber > highest {
			highest = lg.BlockNumber
		}
	}

	if highest != cursors.StakingYieldBlock {
		cursors.StakingYieldBlock = highest
		y.deps.State.SetCursors(cursors)
		changed = true
	}
	if changed {
		if err := y.deps.State.Save(); err != nil {
			return transient("d4: persist state: %w", err)
		}
	}
	return nil
}

func (y *YieldBridge) executeETHPool(ctx context.Context) error {
	currentBlock, err := y.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return transient("d4b: read current block: %w", err)
	}
	if currentBlock < y.deps.Config.Confirmations {
		return nil
	}
	confirmed := currentBlock - y.deps.Config.Confirmations

	cursors := y.deps.State.Cursors()
	if confirmed <= cursors.ETHPoolYieldBlock {
		return nil
	}

	topic, err := y.deps.Chain.ETHYield.EventTopic("ETHPoolYieldBridged")
	if err != nil {
		return permanent("d4b: resolve event topic: %w", err)
	}
	logs, err := y.deps.Chain.FilterLogs(ctx,
		[]common.Address{y.deps.Chain.ETHYield.Address()},
		[][]common.Hash{{topic}},
		cursors.ETHPoolYieldBlock+1, confirmed, 0)
	if err != nil {
		return transient("d4b: filter logs: %w", err)
	}

	highest := cursors.ETHPoolYieldBlock
	changed := false
	for _, lg := range logs {
		ev, err := y.deps.Chain.ETHYield.UnpackETHPoolYieldBridged(lg)
		if err != nil {
			y.deps.Logger.Printf("d4b: failed to decode log at block %d: %v", lg.BlockNumber, err)
			break
		}
		epochKey := ethPoolEpochKey(ev.Epoch.String())
		if !y.deps.State.ProcessedETHPoolEpochs().Contains(epochKey) {
			if err := y.deliverETHPool(ctx, ev); err != nil {
				if IsAnomaly(err) {
					return err
				}
				y.deps.Logger.Printf("d4b: epoch %s: %v", ev.Epoch, err)
				break
			}
			y.deps.State.ProcessedETHPoolEpochs().Add(epochKey)
			changed = true
		}
		if lg.BlockNumber > highest {
			highest = lg.BlockNumber
		}
	}

	if highest != cursors.ETHPoolYieldBlock {
		cursors.ETHPoolYieldBlock = highest
		y.deps.State.SetCursors(cursors)
		changed = true
	}
	if changed {
		if err := y.deps.State.Save(); err != nil {
			return transient("d4b: persist state: %w", err)
		}
	}
	return nil
}

// stakingEpochKey and ethPoolEpochKey are the keys of the two
// processed-epoch sets; epoch dedup relies on those sets alone, and the
// Ledger is not queried for an existing holding under either agreementHash
// shape.
func stakingEpochKey(epoch string) string    { return "staking:" + epoch }
func ethPoolEpochKey(epoch string) string    { return "ethpool:" + epoch }
func yieldAgreementHash(prefix, epoch string) string {
	sum := crypto.Keccak256([]byte(fmt.Sprintf("%s:epoch:%s", prefix, epoch)))
	return fmt.Sprintf("%x", sum)
}

func (y *YieldBridge) deliverStaking(ctx context.Context, ev *chainclient.CantonYieldBridgedEvent) error {
	recipient := resolveRecipientAlias(ev.CantonRecipient, y.deps.RecipientPartyAliases)
	if !validPartyID(recipient) {
		return permanent("cantonRecipient %q fails party-id validation", ev.CantonRecipient)
	}
	hash := yieldAgreementHash("staking-yield", ev.Epoch.String())

	holding, err := y.deps.Ledger.Create(ctx, y.deps.CantonParty, tplWrappedHolding, map[string]interface{}{
		"owner":         y.deps.CantonParty,
		"amountWei":     ev.MUSDAmount.String(),
		"agreementHash": hash,
		"agreementUri":  fmt.Sprintf("ethereum:staking-yield:epoch:%s", ev.Epoch.String()),
		"kind":          "staking-yield",
	})
	if err != nil {
		return transient("create operator-owned wrapped holding: %w", err)
	}

	services, err := y.deps.Ledger.QueryActive(ctx, []string{tplStakingYieldService}, ledgerclient.Predicate{})
	if err != nil || len(services) == 0 {
		return transient("query StakingYieldService: %w", err)
	}
	if _, err := y.deps.Ledger.Exercise(ctx, y.deps.CantonParty, tplStakingYieldService, services[0].ContractID, choiceReceiveYield, map[string]interface{}{
		"epoch":      ev.Epoch.String(),
		"recipient":  recipient,
		"holdingCid": holding.ContractID,
	}, nil); err != nil {
		return transient("exercise ReceiveYield: %w", err)
	}
	y.deps.Metrics.CursorAdvances.WithLabelValues("d4").Inc()
	return nil
}

func (y *YieldBridge) deliverETHPool(ctx context.Context, ev *chainclient.ETHPoolYieldBridgedEvent) error {
	recipient := resolveRecipientAlias(ev.ETHPoolRecipient, y.deps.RecipientPartyAliases)
	if !validPartyID(recipient) {
		return permanent("ethPoolRecipient %q fails party-id validation", ev.ETHPoolRecipient)
	}
	hash := yieldAgreementHash("ethpool-yield", ev.Epoch.String())

	holding, err := y.deps.Ledger.Create(ctx, y.deps.CantonParty, tplWrappedHolding, map[string]interface{}{
		"owner":         y.deps.CantonParty,
		"amountWei":     ev.MUSDBridged.String(),
		"agreementHash": hash,
		"agreementUri":  fmt.Sprintf("ethereum:ethpool-yield:epoch:%s", ev.Epoch.String()),
		"kind":          "ethpool-yield",
	})
	if err != nil {
		return transient("create operator-owned wrapped holding: %w", err)
	}

	services, err := y.deps.Ledger.QueryActive(ctx, []string{tplETHPoolYieldService}, ledgerclient.Predicate{})
	if err != nil || len(services) == 0 {
		return transient("query ETHPoolYieldService: %w", err)
	}
	if _, err := y.deps.Ledger.Exercise(ctx, y.deps.CantonParty, tplETHPoolYieldService, services[0].ContractID, choiceETHPoolReceiveYield, map[string]interface{}{
		"epoch":      ev.Epoch.String(),
		"recipient":  recipient,
		"holdingCid": holding.ContractID,
		"yieldUsdc":  ev.YieldUSDC.String(),
	}, nil); err != nil {
		return transient("exercise ETHPool_ReceiveYield: %w", err)
	}
	y.deps.Metrics.CursorAdvances.WithLabelValues("d4b").Inc()
	return nil
}
