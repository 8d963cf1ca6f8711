package directions

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/ledgerclient"
)

// partyIDPattern is a permissive check for the Ledger party-id grammar
// (`name::fingerprint` or a bare admin/operator id) — just enough to reject
// the obviously malformed strings a misbehaving Chain sender could submit.
var partyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,255}(::[0-9a-f]{4,80})?$`)

func validPartyID(s string) bool {
	return s != "" && partyIDPattern.MatchString(s)
}

// BridgeInWatcher implements D2: it watches the Chain bridge for
// BridgeToCantonRequested events and creates + completes the matching
// Ledger BridgeInRequest.
type BridgeInWatcher struct {
	deps *Deps
}

// NewBridgeInWatcher builds a D2 handler.
func NewBridgeInWatcher(deps *Deps) *BridgeInWatcher {
	return &BridgeInWatcher{deps: deps}
}

// Execute runs one D2 pass: scan, then create+complete each new event.
func (w *BridgeInWatcher) Execute(ctx context.Context) error {
	currentBlock, err := w.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return transient("d2: read current block: %w", err)
	}
	if currentBlock < w.deps.Config.Confirmations {
		return nil
	}
	confirmedBlock := currentBlock - w.deps.Config.Confirmations

	cursors := w.deps.State.Cursors()
	if confirmedBlock <= cursors.BridgeOutBlock {
		return nil
	}

	topic, err := w.deps.Chain.Bridge.EventTopic("BridgeToCantonRequested")
	if err != nil {
		return permanent("d2: resolve event topic: %w", err)
	}

	logs, err := w.deps.Chain.FilterLogs(ctx,
		[]common.Address{w.deps.Chain.Bridge.Address()},
		[][]common.Hash{{topic}},
		cursors.BridgeOutBlock+1, confirmedBlock, 0)
	if err != nil {
		return transient("d2: filter logs: %w", err)
	}

	highestProcessed := cursors.BridgeOutBlock
	changed := false
	for _, lg := range logs {
		ev, err := w.deps.Chain.Bridge.UnpackBridgeToCantonRequested(lg)
		if err != nil {
			w.deps.Logger.Printf("d2: failed to decode log at block %d: %v", lg.BlockNumber, err)
			break // stop scanning; retry this and later blocks next cycle
		}

		ok, err := w.processEvent(ctx, ev)
		if err != nil {
			if IsAnomaly(err) {
				return err
			}
			w.deps.Logger.Printf("d2: event nonce=%s: %v", ev.Nonce, err)
			if c := ClassOf(err); c != ClassDuplicate && c != ClassPermanent {
				break // a deferred/transient event blocks cursor advance
			}
		}
		if ok {
			changed = true
		}
		if lg.BlockNumber > highestProcessed {
			highestProcessed = lg.BlockNumber
		}
	}

	if highestProcessed != cursors.BridgeOutBlock {
		cursors.BridgeOutBlock = highestProcessed
		w.deps.State.SetCursors(cursors)
		changed = true
	}
	if changed {
		if err := w.deps.State.Save(); err != nil {
			return transient("d2: persist state: %w", err)
		}
	}
	return nil
}

// processEvent creates (if needed) and completes the BridgeInRequest for a
// single Chain event. Returns true if new Ledger work was done.
func (w *BridgeInWatcher) processEvent(ctx context.Context, ev *chainclient.BridgeToCantonRequestedEvent) (bool, error) {
	if !validPartyID(ev.CantonRecipient) {
		return false, permanent("cantonRecipient %q fails party-id validation", ev.CantonRecipient)
	}

	aliases := w.deps.RecipientPartyAliases
	recipient := resolveRecipientAlias(ev.CantonRecipient, aliases)

	fingerprint := bridgeInFingerprint(ev.Nonce.String(), ev.Amount.String(), ev.Timestamp.String(), recipient)
	existing, err := w.deps.Ledger.QueryActive(ctx, []string{tplBridgeInRequest}, ledgerclient.Predicate{"nonce": ev.Nonce.String()})
	if err != nil {
		return false, transient("query existing BridgeInRequest: %w", err)
	}
	var reqContract *ledgerclient.Contract
	for i := range existing {
		if bridgeInFingerprintOf(existing[i]) == fingerprint {
			c := existing[i]
			reqContract = &c
			break
		}
	}

	if reqContract == nil {
		created, err := w.deps.Ledger.Create(ctx, w.deps.CantonParty, tplBridgeInRequest, map[string]interface{}{
			"nonce":         ev.Nonce.String(),
			"amountWei":     ev.Amount.String(),
			"recipient":     recipient,
			"ethSender":     ev.Sender.Hex(),
			"requestId":     fmt.Sprintf("0x%x", ev.RequestID),
			"eventTimestamp": ev.Timestamp.String(),
			"status":        "pending",
		})
		if err != nil {
			if strings.Contains(err.Error(), "user party not hosted") {
				return false, transient("recipient party not hosted on this participant, deferring")
			}
			return false, transient("create BridgeInRequest: %w", err)
		}
		reqContract = &created
	}

	return w.complete(ctx, *reqContract, ev, recipient)
}

// resolveRecipientAlias resolves cantonRecipient exactly against aliases
// first, then by matching a "name::hint" prefix (spec §4.2's alias
// resolution order).
func resolveRecipientAlias(cantonRecipient string, aliases map[string]string) string {
	if full, ok := aliases[cantonRecipient]; ok {
		return full
	}
	for alias, full := range aliases {
		if strings.HasPrefix(cantonRecipient, alias+"::") {
			return full
		}
	}
	return cantonRecipient
}

func bridgeInFingerprint(nonce, amountWei, timestamp, recipient string) string {
	return strings.Join([]string{nonce, amountWei, timestamp, recipient}, "|")
}

func bridgeInFingerprintOf(c ledgerclient.Contract) string {
	return bridgeInFingerprint(
		optionalFieldString(c.Payload, "nonce"),
		optionalFieldString(c.Payload, "amountWei"),
		optionalFieldString(c.Payload, "eventTimestamp"),
		optionalFieldString(c.Payload, "recipient"),
	)
}

// bridgeInAgreementHash builds the right-padded 64-char agreement hash
// (spec §4.2 step 1).
func bridgeInAgreementHash(nonce *big.Int) string {
	prefix := fmt.Sprintf("bridge-in:nonce:%s:", nonce.String())
	return padRight64(prefix)
}

// bridgeInAgreementURI builds the authoritative idempotency URI (spec §4.2
// step 2).
func bridgeInAgreementURI(bridgeAddr string, nonce *big.Int, recipient string) string {
	return fmt.Sprintf("ethereum:bridge-in:%s:nonce:%s:recipient:%s", bridgeAddr, nonce.String(), url.QueryEscape(recipient))
}

func padRight64(s string) string {
	if len(s) >= 64 {
		return s[:64]
	}
	return s + strings.Repeat("0", 64-len(s))
}

// complete runs the Completion procedure for a created BridgeInRequest.
func (w *BridgeInWatcher) complete(ctx context.Context, req ledgerclient.Contract, ev *chainclient.BridgeToCantonRequestedEvent, recipient string) (bool, error) {
	if hasValidatorFields(req.Payload) {
		return w.completeAttestationStyle(ctx, req)
	}
	return w.completeDirectMint(ctx, req, ev, recipient)
}

func hasValidatorFields(payload map[string]interface{}) bool {
	_, ok := payload["validators"]
	return ok
}

// completeDirectMint implements spec §4.2 steps 1-5: dedup by
// hash/URI, then mint+transfer via CIP-56 (preferred) or the legacy path.
func (w *BridgeInWatcher) completeDirectMint(ctx context.Context, req ledgerclient.Contract, ev *chainclient.BridgeToCantonRequestedEvent, recipient string) (bool, error) {
	bridgeAddr := w.deps.Chain.Bridge.Address().Hex()
	hash := bridgeInAgreementHash(ev.Nonce)
	uri := bridgeInAgreementURI(bridgeAddr, ev.Nonce, recipient)

	holdings, err := w.deps.Ledger.QueryActive(ctx, []string{tplWrappedHolding}, ledgerclient.Predicate{})
	if err != nil {
		return false, transient("query existing wrapped holdings: %w", err)
	}
	for _, h := range holdings {
		existingURI := optionalFieldString(h.Payload, "agreementUri")
		existingHash := optionalFieldString(h.Payload, "agreementHash")
		existingAmount := optionalFieldString(h.Payload, "amountWei")
		if existingURI == uri {
			return false, nil // already delivered
		}
		if existingURI == "" && existingHash == hash && existingAmount == ev.Amount.String() {
			return false, nil // legacy record without a URI, hash+amount match
		}
	}

	cip56Ready := w.deps.Config.CIP56PackageID != ""
	if cip56Ready {
		ok, err := w.completeCIP56(ctx, ev, recipient, hash, uri)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		// Mint succeeded but transfer failed: never fall back to legacy,
		// orphan recovery delivers the stranded holding.
		return false, nil
	}
	return w.completeLegacy(ctx, ev, recipient, hash, uri)
}

func (w *BridgeInWatcher) completeCIP56(ctx context.Context, ev *chainclient.BridgeToCantonRequestedEvent, recipient, hash, uri string) (bool, error) {
	minted, err := w.deps.Ledger.Create(ctx, w.deps.CantonParty, tplWrappedHolding, map[string]interface{}{
		"owner":         w.deps.CantonParty,
		"amountWei":     ev.Amount.String(),
		"agreementHash": hash,
		"agreementUri":  uri,
		"kind":          "cip56",
	})
	if err != nil {
		return false, transient("mint CIP56MintedMUSD: %w", err)
	}

	now := time.Now()
	transferArg := map[string]interface{}{
		"sender":        w.deps.CantonParty,
		"receiver":      recipient,
		"amount":        ev.Amount.String(),
		"instrumentId":  w.deps.Config.MUSDTokenAddress,
		"requestedAt":   now.Format(time.RFC3339),
		"executeBefore": now.Add(time.Hour).Format(time.RFC3339),
		"holdingCids":   []string{minted.ContractID},
	}
	factories, err := w.deps.Ledger.QueryActive(ctx, []string{tplTransferFactory}, ledgerclient.Predicate{})
	if err != nil || len(factories) == 0 {
		w.deps.Logger.Printf("d2: no TransferFactory contract found, leaving mint for orphan recovery: %v", err)
		return false, nil
	}
	result, err := w.deps.Ledger.Exercise(ctx, w.deps.CantonParty, tplTransferFactory, factories[0].ContractID, choiceTransfer, transferArg, nil)
	if err != nil {
		w.deps.Logger.Printf("d2: cip56 transfer failed after mint for nonce %s, leaving for orphan recovery: %v", ev.Nonce, err)
		return false, nil
	}

	if w.deps.Config.AutoAcceptMUSDTransferProposals {
		for _, c := range result.CreatedEvents {
			if c.TemplateID == tplTransferInstruction {
				if _, err := w.deps.Ledger.Exercise(ctx, recipient, tplTransferInstruction, c.ContractID, choiceAccept, map[string]interface{}{}, nil); err != nil {
					w.deps.Logger.Printf("d2: auto-accept of transfer instruction failed (non-fatal): %v", err)
				}
				break
			}
		}
	}
	w.deps.Metrics.BridgeOutOutcomes.WithLabelValues("cip56_delivered").Inc()
	return true, nil
}

func (w *BridgeInWatcher) completeLegacy(ctx context.Context, ev *chainclient.BridgeToCantonRequestedEvent, recipient, hash, uri string) (bool, error) {
	registry, err := w.deps.Ledger.Create(ctx, w.deps.CantonParty, tplComplianceRegistry, map[string]interface{}{"owner": w.deps.CantonParty})
	if err != nil {
		return false, transient("create compliance registry contract: %w", err)
	}
	holding, err := w.deps.Ledger.Create(ctx, w.deps.CantonParty, tplWrappedHolding, map[string]interface{}{
		"owner":         w.deps.CantonParty,
		"amountWei":     ev.Amount.String(),
		"agreementHash": hash,
		"agreementUri":  uri,
		"kind":          "legacy",
	})
	if err != nil {
		return false, transient("create wrapped holding: %w", err)
	}

	result, err := w.deps.Ledger.Exercise(ctx, w.deps.CantonParty, tplWrappedHolding, holding.ContractID, choiceTransfer, map[string]interface{}{
		"receiver":         recipient,
		"complianceCid":    registry.ContractID,
	}, nil)
	if err != nil {
		return false, transient("exercise Transfer on wrapped holding: %w", err)
	}

	if w.deps.Config.AutoAcceptMUSDTransferProposals {
		for _, c := range result.CreatedEvents {
			if _, err := w.deps.Ledger.Exercise(ctx, recipient, c.TemplateID, c.ContractID, choiceAccept, map[string]interface{}{}, nil); err != nil {
				w.deps.Logger.Printf("d2: auto-accept of legacy transfer proposal failed (non-fatal): %v", err)
			}
			break
		}
	}
	w.deps.Metrics.BridgeOutOutcomes.WithLabelValues("legacy_delivered").Inc()
	return true, nil
}

// completeAttestationStyle implements spec §4.2 step 6 for BridgeInRequest
// schemas that carry validator fields.
func (w *BridgeInWatcher) completeAttestationStyle(ctx context.Context, req ledgerclient.Contract) (bool, error) {
	validators, _ := req.Payload["validators"].([]interface{})
	if len(validators) == 0 {
		if _, err := w.deps.Ledger.Exercise(ctx, w.deps.CantonParty, tplBridgeInRequest, req.ContractID, choiceBridgeInCancel, map[string]interface{}{}, nil); err != nil {
			return false, transient("archive via BridgeIn_Cancel: %w", err)
		}
		return true, nil
	}

	attReq, err := w.deps.Ledger.Create(ctx, w.deps.CantonParty, tplAttestation, map[string]interface{}{
		"bridgeInRequestCid": req.ContractID,
		"signatures":         []interface{}{},
	})
	if err != nil {
		return false, transient("create AttestationRequest: %w", err)
	}

	var signed ledgerclient.Contract
	for i, v := range validators {
		party, _ := v.(string)
		if party == "" {
			continue
		}
		selfAtt, err := w.deps.Ledger.Create(ctx, party, tplValidatorSelfAttestation, map[string]interface{}{"validator": party})
		if err != nil {
			return false, transient("create ValidatorSelfAttestation for %s: %w", party, err)
		}
		if i == 0 {
			result, err := w.deps.Ledger.Exercise(ctx, party, tplAttestation, attReq.ContractID, choiceAttestationSign, map[string]interface{}{"selfAttestationCid": selfAtt.ContractID}, nil)
			if err != nil {
				return false, transient("exercise Attestation_Sign: %w", err)
			}
			if len(result.CreatedEvents) == 0 {
				return false, transient("Attestation_Sign produced no SignedAttestation contract")
			}
			signed = result.CreatedEvents[0]
			continue
		}
		result, err := w.deps.Ledger.Exercise(ctx, party, tplSignedAttestation, signed.ContractID, choiceSignedAttestationAddSig, map[string]interface{}{"selfAttestationCid": selfAtt.ContractID}, nil)
		if err != nil {
			return false, transient("exercise SignedAttestation_AddSignature for %s: %w", party, err)
		}
		if len(result.CreatedEvents) > 0 {
			signed = result.CreatedEvents[0]
		}
	}

	if signed.ContractID == "" {
		return false, transient("no SignedAttestation produced, leaving request pending")
	}
	if _, err := w.deps.Ledger.Exercise(ctx, w.deps.CantonParty, tplBridgeInRequest, req.ContractID, choiceBridgeInComplete, map[string]interface{}{
		"signedAttestationCid": signed.ContractID,
	}, nil); err != nil {
		return false, transient("exercise BridgeIn_Complete: %w", err)
	}
	return true, nil
}
