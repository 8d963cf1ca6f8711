// Package attestation derives the Chain-verifiable digest for a Ledger
// attestation and recovers/validates the ECDSA signatures collected for it.
package attestation

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fields is the subset of a Ledger-issued attestation that feeds the
// keccak256(abi.encodePacked(...)) digest the Chain bridge verifies.
type Fields struct {
	Nonce             *big.Int
	GlobalLedgerAssets *big.Int
	Timestamp         *big.Int // floor(expiresAt_unix) - 3600
	Entropy           [32]byte
	LedgerStateHash   [32]byte
	ChainID           *big.Int
	BridgeAddress     common.Address
}

// ID computes keccak256(abi.encodePacked(nonce, cantonAssets, timestamp,
// entropy, ledgerStateHash, chainId, bridgeAddress)) — the attestation's
// on-chain idempotency key.
func ID(f Fields) common.Hash {
	return crypto.Keccak256Hash(encodePacked(f)...)
}

// MessageHash computes the same packed encoding with id prepended, then
// keccak256 — the payload a validator ECDSA-signs before the personal-sign
// prefix is applied.
func MessageHash(id common.Hash, f Fields) common.Hash {
	parts := append([][]byte{id.Bytes()}, encodePacked(f)...)
	return crypto.Keccak256Hash(parts...)
}

// RecoverableDigest applies the standard Ethereum personal-sign prefix to
// a message hash, yielding the digest validator signatures actually sign
// over and that Ecrecover operates on.
func RecoverableDigest(messageHash common.Hash) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(messageHash.Bytes()))
	return crypto.Keccak256Hash([]byte(prefixed), messageHash.Bytes())
}

func encodePacked(f Fields) [][]byte {
	return [][]byte{
		uint256Bytes(f.Nonce),
		uint256Bytes(f.GlobalLedgerAssets),
		uint256Bytes(f.Timestamp),
		f.Entropy[:],
		f.LedgerStateHash[:],
		uint256Bytes(f.ChainID),
		f.BridgeAddress.Bytes(),
	}
}

func uint256Bytes(v *big.Int) []byte {
	var out [32]byte
	if v == nil {
		return out[:]
	}
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out[:]
}

// ValidatorSignature is one collected Ledger-side signature over a
// MessageHash digest.
type ValidatorSignature struct {
	ValidatorParty string
	Signature      []byte // raw 65-byte rsv, or ASN.1 DER (r,s) without the recovery id
}

// ValidatorAddresses maps a validator party id to its pre-registered Chain
// address (spec §4.1 step 11a).
type ValidatorAddresses map[string]common.Address

// Aggregate validates and orders the collected signatures for submission:
// it resolves each validator to its Chain address, normalizes the
// signature to rsv form, recovers the signer, drops anything that doesn't
// match, and sorts the survivors by recovered address ascending — the
// order the on-chain verifier requires.
func Aggregate(digest common.Hash, sigs []ValidatorSignature, addrs ValidatorAddresses) ([][]byte, error) {
	type recovered struct {
		address common.Address
		sig     []byte
	}
	var accepted []recovered

	for _, vs := range sigs {
		want, ok := addrs[vs.ValidatorParty]
		if !ok {
			continue
		}
		rsv, err := normalizeSignature(digest, vs.Signature, want)
		if err != nil {
			continue
		}
		accepted = append(accepted, recovered{address: want, sig: rsv})
	}

	if len(accepted) == 0 {
		return nil, fmt.Errorf("no validator signatures recovered to their registered addresses")
	}

	sort.Slice(accepted, func(i, j int) bool {
		return compareAddresses(accepted[i].address, accepted[j].address) < 0
	})

	out := make([][]byte, len(accepted))
	for i, r := range accepted {
		out[i] = r.sig
	}
	return out, nil
}

func compareAddresses(a, b common.Address) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// normalizeSignature accepts a raw 65-byte rsv signature with v in
// {0x1b, 0x1c} directly; otherwise it treats the input as an ASN.1 DER
// (r, s) encoding and reconstructs the recovery id by trying both
// candidates against the expected address (spec §4.1 step 11b/c).
func normalizeSignature(digest common.Hash, raw []byte, want common.Address) ([]byte, error) {
	if len(raw) == 65 && (raw[64] == 0x1b || raw[64] == 0x1c) {
		if addr, err := recoverSigner(digest, raw); err == nil && addr == want {
			return raw, nil
		}
		return nil, fmt.Errorf("recovered address does not match validator's registered address")
	}

	r, s, err := decodeDERSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("signature is neither raw rsv nor valid DER: %w", err)
	}

	for _, recID := range []byte{0, 1} {
		candidate := make([]byte, 65)
		copy(candidate[0:32], leftPad32(r))
		copy(candidate[32:64], leftPad32(s))
		candidate[64] = recID + 27
		if addr, err := recoverSigner(digest, candidate); err == nil && addr == want {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("DER signature did not recover to the validator's registered address")
}

func leftPad32(b []byte) []byte {
	var out [32]byte
	copy(out[32-len(b):], b)
	return out[:]
}

// recoverSigner recovers the signer address from a 65-byte rsv signature whose
// v is in {27, 28} (Ethereum convention) against digest.
func recoverSigner(digest common.Hash, rsv []byte) (common.Address, error) {
	if len(rsv) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(rsv))
	}
	normalized := make([]byte, 65)
	copy(normalized, rsv)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
