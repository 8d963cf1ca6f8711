package directions

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/ledgerclient"
)

// RedemptionSettler implements D2b: it watches Ledger RedemptionRequest
// contracts and mints the corresponding mUSD on the Chain side, subject to
// the token's local supply cap.
type RedemptionSettler struct {
	deps *Deps
}

// NewRedemptionSettler builds a D2b handler.
func NewRedemptionSettler(deps *Deps) *RedemptionSettler {
	return &RedemptionSettler{deps: deps}
}

type redemptionCandidate struct {
	contractID string
	id         string
	amount18   *big.Int
	recipient  string
}

func parseRedemptionCandidate(c ledgerclient.Contract) (redemptionCandidate, error) {
	id, err := fieldString(c.Payload, "redemptionId")
	if err != nil {
		return redemptionCandidate{}, err
	}
	amount, err := fieldBigInt(c.Payload, "amountWei")
	if err != nil {
		return redemptionCandidate{}, err
	}
	recipient := optionalFieldString(c.Payload, "ethRecipient")
	return redemptionCandidate{contractID: c.ContractID, id: id, amount18: amount, recipient: recipient}, nil
}

// Execute runs one D2b pass over pending redemption requests.
func (s *RedemptionSettler) Execute(ctx context.Context) error {
	contracts, err := s.deps.Ledger.QueryActive(ctx, []string{tplRedemptionRequest}, ledgerclient.Predicate{"status": "pending"})
	if err != nil {
		return transient("d2b: query RedemptionRequest: %w", err)
	}

	for _, c := range contracts {
		cand, err := parseRedemptionCandidate(c)
		if err != nil {
			s.deps.Logger.Printf("d2b: skipping malformed redemption contract %s: %v", c.ContractID, err)
			continue
		}
		if s.deps.State.SettledRedemptionIds().Contains(cand.id) {
			continue
		}
		if err := s.processOne(ctx, cand); err != nil {
			if IsAnomaly(err) {
				return err
			}
			s.deps.Logger.Printf("d2b: redemption %s: %v", cand.id, err)
			continue
		}
	}
	return nil
}

// resolveEthRecipient applies a three-tier lookup: the request's own
// ethRecipient, then the configured party->address map entry for the
// requesting party, then that map's "*" wildcard entry. If none yields a
// valid address, the redemption fails with a permanent error.
func (s *RedemptionSettler) resolveEthRecipient(cand redemptionCandidate, ledgerPayload map[string]interface{}) (common.Address, error) {
	if cand.recipient != "" && common.IsHexAddress(cand.recipient) {
		return common.HexToAddress(cand.recipient), nil
	}
	party := optionalFieldString(ledgerPayload, "requestingParty")
	if addr, ok := s.deps.RedemptionEthRecipients[party]; ok && common.IsHexAddress(addr) {
		return common.HexToAddress(addr), nil
	}
	if addr, ok := s.deps.RedemptionEthRecipients["*"]; ok && common.IsHexAddress(addr) {
		return common.HexToAddress(addr), nil
	}
	return common.Address{}, permanent("no eth recipient resolvable for redemption %s", cand.id)
}

func (s *RedemptionSettler) processOne(ctx context.Context, cand redemptionCandidate) error {
	contracts, err := s.deps.Ledger.QueryActive(ctx, []string{tplRedemptionRequest}, ledgerclient.Predicate{"redemptionId": cand.id})
	if err != nil || len(contracts) == 0 {
		return transient("re-fetch redemption contract %s: %w", cand.id, err)
	}
	recipient, err := s.resolveEthRecipient(cand, contracts[0].Payload)
	if err != nil {
		return err
	}

	amount6 := toSixDecimals(cand.amount18)
	if amount6.Sign() <= 0 {
		return permanent("redemption %s resolves to zero mUSD after decimal conversion", cand.id)
	}

	bridge := s.deps.Chain.MUSD
	totalSupply, err := bridge.TotalSupply(ctx)
	if err != nil {
		return transient("read totalSupply: %w", err)
	}
	supplyCap, err := bridge.SupplyCap(ctx)
	if err != nil {
		return transient("read supplyCap: %w", err)
	}
	localCapBps, err := bridge.LocalCapBps(ctx)
	if err != nil {
		return transient("read localCapBps: %w", err)
	}
	localCap := new(big.Int).Div(new(big.Int).Mul(supplyCap, localCapBps), big.NewInt(10_000))
	projected := new(big.Int).Add(totalSupply, amount6)
	if projected.Cmp(localCap) > 0 {
		return permanent("redemption %s would exceed local supply cap (%s + %s > %s)", cand.id, totalSupply, amount6, localCap)
	}

	ok, err := bridge.HasRole(ctx, chainclient.BridgeMintRole, s.deps.Signer.Address())
	if err != nil {
		return transient("check BRIDGE_MINT_ROLE: %w", err)
	}
	if !ok {
		if s.deps.Config == nil || !s.deps.Config.AutoGrantBridgeRoleForRedemptions {
			return transient("relay signer lacks BRIDGE_MINT_ROLE and auto-grant is disabled")
		}
		if err := s.grantMintRole(ctx); err != nil {
			return err
		}
	}

	opts, err := s.deps.Signer.TransactOpts(ctx, s.deps.Chain.ChainID().Int64())
	if err != nil {
		return transient("build transact opts: %w", err)
	}
	tx, err := bridge.Mint(opts, recipient, amount6)
	if err != nil {
		if strings.Contains(err.Error(), exceedsLocalCapSelector) {
			return permanent("mint reverted with ExceedsLocalCap for redemption %s", cand.id)
		}
		return transient("submit mint tx: %w", err)
	}
	receipt, err := s.deps.Chain.WaitMined(ctx, tx)
	if err != nil {
		return transient("wait for mint tx to mine: %w", err)
	}
	if receipt.Status == 0 {
		return permanent("mint tx reverted for redemption %s", cand.id)
	}

	if err := s.markSettled(ctx, cand, contracts[0].ContractID, tx.Hash().Hex()); err != nil {
		s.deps.Logger.Printf("d2b: ledger settlement marker failed for %s, recording locally only: %v", cand.id, err)
	}
	s.deps.State.SettledRedemptionIds().Add(cand.id)
	if err := s.deps.State.Save(); err != nil {
		s.deps.Logger.Printf("d2b: failed persisting state after redemption %s: %v", cand.id, err)
	}
	s.deps.Metrics.CursorAdvances.WithLabelValues("d2b").Inc()
	return nil
}

func (s *RedemptionSettler) grantMintRole(ctx context.Context) error {
	opts, err := s.deps.Signer.TransactOpts(ctx, s.deps.Chain.ChainID().Int64())
	if err != nil {
		return transient("build transact opts for role grant: %w", err)
	}
	tx, err := s.deps.Chain.MUSD.GrantRole(opts, chainclient.BridgeMintRole, s.deps.Signer.Address())
	if err != nil {
		return transient("submit grantRole tx: %w", err)
	}
	if _, err := s.deps.Chain.WaitMined(ctx, tx); err != nil {
		return transient("wait for grantRole tx to mine: %w", err)
	}
	return nil
}

func (s *RedemptionSettler) markSettled(ctx context.Context, cand redemptionCandidate, contractID, txHash string) error {
	_, err := s.deps.Ledger.Exercise(ctx, s.deps.CantonParty, tplRedemptionRequest, contractID, choiceRedemptionSettle, map[string]interface{}{
		"ethTxHash": txHash,
	}, nil)
	return err
}

const exceedsLocalCapSelector = "5d24ffe1"
