package directions

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"

	"github.com/certen/independant-validator/internal/attestation"
	"github.com/certen/independant-validator/internal/auditlog"
	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/ledgerclient"
)

// maxAttestationBatch caps the number of attestations relayed per cycle
// (spec §4.1 step 1).
const maxAttestationBatch = 100

// maxAttestationDriftSeconds bounds how far the derived attestation
// timestamp may drift from wall-clock time before it is rejected.
const maxAttestationDriftSeconds = 86_400

// attestationTimestampOffsetSeconds is subtracted from expiresAt to derive
// the attestation's canonical timestamp field (spec §4.1 step 8) when
// Config.AttestationTTLSeconds is not set.
const attestationTimestampOffsetSeconds = 3_600

// AttestationRelay implements D1: it moves Ledger-signed attestations to
// the Chain bridge's processAttestation entry point.
//
// The in-flight/submitted-nonce tracking below is intentionally
// process-local and unpersisted — spec §4.7 accepts losing it on crash
// because usedAttestationIds(id) on the Chain is the actual idempotency
// guarantee.
type AttestationRelay struct {
	deps   *Deps
	pauser *bridgePauser

	mu              sync.Mutex
	inFlightNonces  map[uint64]bool
	inFlightIDs     map[string]bool
	submittedNonces map[uint64]bool
}

// NewAttestationRelay builds a D1 handler.
func NewAttestationRelay(deps *Deps) *AttestationRelay {
	return &AttestationRelay{
		deps:            deps,
		pauser:          newBridgePauser(deps),
		inFlightNonces:  make(map[uint64]bool),
		inFlightIDs:     make(map[string]bool),
		submittedNonces: make(map[uint64]bool),
	}
}

// attestationCandidate is one Ledger-signed attestation parsed from its
// active-contract payload.
type attestationCandidate struct {
	contractID     string
	attestationID  string
	nonce          *big.Int
	cantonAssets   *big.Int
	expiresAtUnix  *big.Int
	entropy        [32]byte
	ledgerStateHash [32]byte
	chainID        *big.Int
	signatures     []rawValidatorSignature
}

func parseAttestationCandidate(c ledgerclient.Contract) (attestationCandidate, error) {
	var cand attestationCandidate
	cand.contractID = c.ContractID

	var err error
	if cand.attestationID, err = fieldString(c.Payload, "attestationId"); err != nil {
		return cand, err
	}
	if cand.nonce, err = fieldBigInt(c.Payload, "nonce"); err != nil {
		return cand, err
	}
	if cand.cantonAssets, err = fieldBigInt(c.Payload, "cantonAssets"); err != nil {
		return cand, err
	}
	if cand.expiresAtUnix, err = fieldBigInt(c.Payload, "expiresAt"); err != nil {
		return cand, err
	}
	if cand.entropy, err = fieldHex32(c.Payload, "entropy"); err != nil {
		return cand, err
	}
	if cand.ledgerStateHash, err = fieldHex32(c.Payload, "ledgerStateHash"); err != nil {
		return cand, err
	}
	if cand.chainID, err = fieldBigInt(c.Payload, "chainId"); err != nil {
		return cand, err
	}
	if cand.signatures, err = fieldSignatures(c.Payload, "signatures"); err != nil {
		return cand, err
	}
	return cand, nil
}

// Execute runs one D1 pass.
func (r *AttestationRelay) Execute(ctx context.Context) error {
	contracts, err := r.deps.Ledger.QueryActive(ctx, []string{tplAttestation}, ledgerclient.Predicate{"status": "signed"})
	if err != nil {
		return transient("d1: query signed attestations: %w", err)
	}

	candidates := make([]attestationCandidate, 0, len(contracts))
	for _, c := range contracts {
		cand, err := parseAttestationCandidate(c)
		if err != nil {
			r.deps.Logger.Printf("d1: skipping malformed attestation contract %s: %v", c.ContractID, err)
			continue
		}
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].nonce.Cmp(candidates[j].nonce) < 0 })
	if len(candidates) > maxAttestationBatch {
		candidates = candidates[:maxAttestationBatch]
	}

	currentBlock, err := r.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return transient("d1: read current block: %w", err)
	}

	changed := false
	for _, cand := range candidates {
		submitted, err := r.processOne(ctx, cand, currentBlock)
		if err != nil {
			if IsAnomaly(err) {
				return err
			}
			r.deps.Logger.Printf("d1: attestation %s: %v", cand.attestationID, err)
			continue
		}
		if submitted {
			changed = true
		}
	}

	if changed {
		if err := r.deps.State.Save(); err != nil {
			return transient("d1: persist state: %w", err)
		}
	}
	return nil
}

// processOne runs steps 2-14 for a single candidate. Returns (true, nil) on
// a successful submission.
func (r *AttestationRelay) processOne(ctx context.Context, cand attestationCandidate, currentBlock uint64) (bool, error) {
	if r.deps.State.ConsumedAttestationIds().Contains(cand.attestationID) {
		return false, duplicate("already consumed")
	}

	minSigs, err := r.deps.Chain.Bridge.MinSignatures(ctx)
	if err != nil {
		return false, transient("read minSignatures: %w", err)
	}
	if int64(len(cand.signatures)) < minSigs.Int64() {
		return false, nil // not ready yet, quietly wait for more signatures
	}

	onChainNonce, err := r.deps.Chain.Bridge.CurrentNonce(ctx)
	if err != nil {
		return false, transient("read currentNonce: %w", err)
	}
	expectedNonce := new(big.Int).Add(onChainNonce, big.NewInt(1))
	if cand.nonce.Cmp(expectedNonce) != 0 {
		return false, nil // out of order; wait for its turn
	}

	if cand.chainID.Cmp(r.deps.Chain.ChainID()) != 0 {
		r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
		return false, security("chainId %s does not match active chain %s, dropping cross-chain replay attempt", cand.chainID, r.deps.Chain.ChainID())
	}

	r.mu.Lock()
	nonceU64 := cand.nonce.Uint64()
	if r.inFlightNonces[nonceU64] || r.inFlightIDs[cand.attestationID] {
		r.mu.Unlock()
		return false, duplicate("nonce or id already in-flight this process")
	}
	r.mu.Unlock()

	if !r.deps.Limiter.Allow(currentBlock) {
		r.deps.Metrics.RateLimitDenials.WithLabelValues("d1").Inc()
		return false, transient("rate limit denied submission, deferring cycle")
	}

	ok, err := r.deps.Guardian.CheckCapChange(ctx, r.pauser, cand.cantonAssets)
	if err != nil {
		r.deps.Metrics.PauseTriggers.Inc()
		return false, anomaly("guardian tripped on cap change: %w", err)
	}
	if !ok {
		return false, nil
	}

	ttl := int64(attestationTimestampOffsetSeconds)
	if r.deps.Config != nil && r.deps.Config.AttestationTTLSeconds > 0 {
		ttl = r.deps.Config.AttestationTTLSeconds
	}
	timestamp := new(big.Int).Sub(cand.expiresAtUnix, big.NewInt(ttl))
	if timestamp.Sign() <= 0 {
		r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
		return false, permanent("derived timestamp %s is non-positive", timestamp)
	}
	drift := new(big.Int).Sub(big.NewInt(time.Now().Unix()), timestamp)
	drift.Abs(drift)
	if drift.Cmp(big.NewInt(maxAttestationDriftSeconds)) > 0 {
		r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
		return false, permanent("derived timestamp drifts %s s from now, exceeding %d s", drift, maxAttestationDriftSeconds)
	}

	fields := attestation.Fields{
		Nonce:              cand.nonce,
		GlobalLedgerAssets: cand.cantonAssets,
		Timestamp:          timestamp,
		Entropy:            cand.entropy,
		LedgerStateHash:    cand.ledgerStateHash,
		ChainID:            cand.chainID,
		BridgeAddress:      r.deps.Chain.Bridge.Address(),
	}
	id := attestation.ID(fields)
	if used, err := r.deps.Chain.Bridge.UsedAttestationIds(ctx, id); err != nil {
		return false, transient("read usedAttestationIds: %w", err)
	} else if used {
		r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
		return false, duplicate("attestation id %s already used on chain", id)
	}

	messageHash := attestation.MessageHash(id, fields)
	digest := attestation.RecoverableDigest(messageHash)

	validatorAddrs, err := parseValidatorAddresses(r.deps.ValidatorAddresses)
	if err != nil {
		r.deps.Logger.Printf("d1: %v", err)
	}
	sigs := make([]attestation.ValidatorSignature, 0, len(cand.signatures))
	for _, s := range cand.signatures {
		sigs = append(sigs, attestation.ValidatorSignature{ValidatorParty: s.ValidatorParty, Signature: s.Signature})
	}
	aggregated, err := attestation.Aggregate(digest, sigs, validatorAddrs)
	if err != nil {
		return false, transient("aggregate signatures: %w", err)
	}

	bridgeAttestation := chainclient.BridgeAttestation{
		Nonce:              cand.nonce,
		GlobalLedgerAssets: cand.cantonAssets,
		Timestamp:          timestamp,
		Entropy:            cand.entropy,
		LedgerStateHash:    cand.ledgerStateHash,
		ChainID:            cand.chainID,
	}

	if err := r.deps.Chain.Bridge.StaticCallProcessAttestation(ctx, r.deps.Chain, r.deps.Signer.Address(), bridgeAttestation, aggregated); err != nil {
		if used, uerr := r.deps.Chain.Bridge.UsedAttestationIds(ctx, id); uerr == nil && used {
			r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
			return false, duplicate("static call reverted but id is already used on chain")
		}
		return false, transient("static call to processAttestation reverted: %w", err)
	}

	opts, err := r.deps.Signer.TransactOpts(ctx, r.deps.Chain.ChainID().Int64())
	if err != nil {
		return false, transient("build transact opts: %w", err)
	}
	if data, err := r.deps.Chain.Bridge.PackProcessAttestation(bridgeAttestation, aggregated); err == nil {
		to := r.deps.Chain.Bridge.Address()
		gas, gerr := r.deps.Chain.EstimateGas(ctx, ethereum.CallMsg{From: r.deps.Signer.Address(), To: &to, Data: data})
		if gerr == nil {
			opts.GasLimit = gas
		}
	}

	r.mu.Lock()
	r.inFlightNonces[nonceU64] = true
	r.inFlightIDs[cand.attestationID] = true
	r.mu.Unlock()

	tx, err := r.deps.Chain.Bridge.ProcessAttestation(opts, bridgeAttestation, aggregated)
	if err != nil {
		r.clearInFlight(nonceU64, cand.attestationID)
		r.deps.Metrics.AttestationsSubmitted.WithLabelValues("revert").Inc()
		return false, transient("submit processAttestation: %w", err)
	}

	receipt, err := r.deps.Chain.WaitMined(ctx, tx)
	if err != nil {
		// Ambiguous: the send itself succeeded but confirmation failed
		// (e.g. RPC timeout). Keep both markers to avoid a double-spend.
		return false, transient("wait for processAttestation tx to mine: %w", err)
	}

	if receipt.Status == 0 {
		r.clearInFlight(nonceU64, cand.attestationID)
		r.deps.Metrics.AttestationsSubmitted.WithLabelValues("revert").Inc()
		if gerr := r.deps.Guardian.RecordRevert(ctx, r.pauser); gerr != nil {
			return false, anomaly("consecutive reverts tripped guardian: %w", gerr)
		}
		return false, transient("processAttestation reverted on-chain")
	}

	r.mu.Lock()
	delete(r.inFlightNonces, nonceU64)
	delete(r.inFlightIDs, cand.attestationID)
	r.submittedNonces[nonceU64] = true
	r.mu.Unlock()

	r.deps.Guardian.RefreshBaseline(cand.cantonAssets)
	r.deps.Guardian.RecordSuccess()
	r.deps.State.ConsumedAttestationIds().Add(cand.attestationID)
	r.deps.Metrics.AttestationsSubmitted.WithLabelValues("submitted").Inc()

	if _, err := r.deps.Ledger.Exercise(ctx, r.deps.CantonParty, tplAttestation, cand.contractID, choiceAttestationComplete, map[string]interface{}{}, nil); err != nil {
		r.deps.Logger.Printf("d1: attestation %s submitted but archive failed (non-fatal): %v", cand.attestationID, err)
	}

	if err := r.deps.Audit.RecordAttestation(ctx, auditlog.AttestationRecord{
		AttestationID:      cand.attestationID,
		Nonce:              cand.nonce.Uint64(),
		ChainID:            r.deps.Chain.ChainID().Uint64(),
		EthTxHash:          tx.Hash().Hex(),
		GlobalLedgerAssets: cand.cantonAssets.String(),
		SubmittedAt:        time.Now(),
	}); err != nil {
		r.deps.Logger.Printf("d1: audit log write failed (non-fatal): %v", err)
	}

	return true, nil
}

func (r *AttestationRelay) clearInFlight(nonce uint64, id string) {
	r.mu.Lock()
	delete(r.inFlightNonces, nonce)
	delete(r.inFlightIDs, id)
	r.mu.Unlock()
}
