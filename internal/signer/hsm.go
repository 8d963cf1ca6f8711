package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// HSMClient is the narrow capability an external keystore (AWS KMS, a
// hardware signer, Fireblocks, etc.) must provide. The relay never talks to
// a specific vendor SDK directly; HsmSigner adapts whatever implements this
// into the Signer interface.
type HSMClient interface {
	Address(ctx context.Context) (common.Address, error)
	Sign(ctx context.Context, digest [32]byte) ([]byte, error)
}

// HsmSigner wraps an HSMClient to satisfy Signer. Required in production
// (spec §6: "KMS required in production, raw key rejected unless dev/test").
type HsmSigner struct {
	client  HSMClient
	address common.Address
}

// NewHsmSigner resolves and caches the signer's address from client.
func NewHsmSigner(ctx context.Context, client HSMClient) (*HsmSigner, error) {
	addr, err := client.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HSM signer address: %w", err)
	}
	return &HsmSigner{client: client, address: addr}, nil
}

// Address returns the signer's Chain address.
func (h *HsmSigner) Address() common.Address { return h.address }

// SignDigest delegates to the HSM client.
func (h *HsmSigner) SignDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	sig, err := h.client.Sign(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("HSM sign failed: %w", err)
	}
	return sig, nil
}

// TransactOpts builds a *bind.TransactOpts whose Signer callback routes the
// transaction hash through the HSM client instead of an in-process key.
func (h *HsmSigner) TransactOpts(ctx context.Context, chainID int64) (*bind.TransactOpts, error) {
	signer := types.LatestSignerForChainID(big.NewInt(chainID))
	return &bind.TransactOpts{
		From: h.address,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != h.address {
				return nil, fmt.Errorf("HSM signer address mismatch: requested %s, bound %s", addr, h.address)
			}
			hash := signer.Hash(tx)
			sig, err := h.client.Sign(ctx, hash)
			if err != nil {
				return nil, fmt.Errorf("HSM sign of transaction hash failed: %w", err)
			}
			return tx.WithSignature(signer, sig)
		},
		Context: ctx,
	}, nil
}

var _ Signer = (*HsmSigner)(nil)
