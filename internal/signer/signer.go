// Package signer exposes the narrow signing capability the relay consumes.
// The signing backend itself (hardware keystore or raw key) is an external
// collaborator; this package defines the two-variant capability the relay
// depends on and a RawKeySigner implementation for the dev/test path. A
// production HSM-backed signer satisfies the same Signer interface and is
// wired in at startup by whichever KMS client the deployment provides.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the capability every direction handler depends on: an address
// identity, raw digest signing for off-chain attestation signatures, and a
// transactor for submitting Chain transactions.
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
	TransactOpts(ctx context.Context, chainID int64) (*bind.TransactOpts, error)
}

// RawKeySigner signs with an in-process ECDSA private key. Rejected outside
// development/test by config.Validate (spec §6: "raw key rejected unless
// dev/test").
type RawKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewRawKeySigner parses a hex-encoded secp256k1 private key (with or
// without the 0x prefix).
func NewRawKeySigner(privateKeyHex string) (*RawKeySigner, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw signer private key: %w", err)
	}
	publicKey, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to derive public key from raw signer private key")
	}
	return &RawKeySigner{key: key, address: crypto.PubkeyToAddress(*publicKey)}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Address returns the signer's Chain address.
func (s *RawKeySigner) Address() common.Address { return s.address }

// SignDigest signs a 32-byte digest, returning a 65-byte r||s||v signature
// with v normalized to {27, 28} (spec §4.1's "recoverable digest" convention).
func (s *RawKeySigner) SignDigest(_ context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	if len(sig) == 65 && sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// TransactOpts builds a *bind.TransactOpts for submitting Chain transactions.
func (s *RawKeySigner) TransactOpts(_ context.Context, chainID int64) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return opts, nil
}

var _ Signer = (*RawKeySigner)(nil)
