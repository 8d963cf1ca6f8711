package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const treasuryABIJSON = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[]},
	{"type":"function","name":"depositToStrategy","stateMutability":"nonpayable","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[]},
	{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"usdc","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"type":"bytes32"},{"type":"address"}],"outputs":[{"type":"bool"}]}
]`

// Treasury is a hand-maintained binding around the Chain treasury contract
// that backs D3 bridge-out mints with off-chain asset deposits.
type Treasury struct {
	address  common.Address
	contract *bind.BoundContract
	abi      abi.ABI
}

// NewTreasury binds the treasury contract at address using backend.
func NewTreasury(address common.Address, backend bind.ContractBackend) (*Treasury, error) {
	parsed, err := abi.JSON(strings.NewReader(treasuryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse treasury ABI: %w", err)
	}
	return &Treasury{address: address, contract: bind.NewBoundContract(address, parsed, backend, backend, backend), abi: parsed}, nil
}

// Address returns the bound contract address.
func (t *Treasury) Address() common.Address { return t.address }

// Asset reads asset(), falling back to usdc() when asset() reverts —
// spec §4.4 step 2's documented fallback for older treasury deployments.
func (t *Treasury) Asset(ctx context.Context) (common.Address, error) {
	var out []interface{}
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "asset")
	if err == nil {
		return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
	}
	var outUSDC []interface{}
	if err2 := t.contract.Call(&bind.CallOpts{Context: ctx}, &outUSDC, "usdc"); err2 != nil {
		return common.Address{}, fmt.Errorf("asset() and usdc() both failed: %w / %w", err, err2)
	}
	return *abi.ConvertType(outUSDC[0], new(common.Address)).(*common.Address), nil
}

// HasRole reads hasRole(role, account).
func (t *Treasury) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasRole", role, account); err != nil {
		return false, fmt.Errorf("hasRole call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Deposit transacts deposit(from, amount) — the default backing path.
func (t *Treasury) Deposit(opts *bind.TransactOpts, from common.Address, amount *big.Int) (*types.Transaction, error) {
	tx, err := t.contract.Transact(opts, "deposit", from, amount)
	if err != nil {
		return nil, fmt.Errorf("deposit transact failed: %w", err)
	}
	return tx, nil
}

// DepositToStrategy transacts depositToStrategy(metaVault3, amount) — the
// "ethpool" source backing path.
func (t *Treasury) DepositToStrategy(opts *bind.TransactOpts, metaVault3 common.Address, amount *big.Int) (*types.Transaction, error) {
	tx, err := t.contract.Transact(opts, "depositToStrategy", metaVault3, amount)
	if err != nil {
		return nil, fmt.Errorf("depositToStrategy transact failed: %w", err)
	}
	return tx, nil
}

// TreasuryVaultRole is the role identifier the relay must hold to deposit.
var TreasuryVaultRole = roleID("TREASURY_VAULT_ROLE")
