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

const musdTokenABIJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"supplyCap","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"localCapBps","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"type":"bytes32"},{"type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"grantRole","stateMutability":"nonpayable","inputs":[{"type":"bytes32"},{"type":"address"}],"outputs":[]}
]`

// MUSDToken is a hand-maintained binding around the Chain mUSD token contract.
type MUSDToken struct {
	address  common.Address
	contract *bind.BoundContract
	abi      abi.ABI
}

// NewMUSDToken binds the mUSD token contract at address using backend.
func NewMUSDToken(address common.Address, backend bind.ContractBackend) (*MUSDToken, error) {
	parsed, err := abi.JSON(strings.NewReader(musdTokenABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mUSD token ABI: %w", err)
	}
	return &MUSDToken{address: address, contract: bind.NewBoundContract(address, parsed, backend, backend, backend), abi: parsed}, nil
}

// Address returns the bound contract address.
func (m *MUSDToken) Address() common.Address { return m.address }

// TotalSupply reads totalSupply().
func (m *MUSDToken) TotalSupply(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply"); err != nil {
		return nil, fmt.Errorf("totalSupply call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SupplyCap reads supplyCap().
func (m *MUSDToken) SupplyCap(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "supplyCap"); err != nil {
		return nil, fmt.Errorf("supplyCap call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// LocalCapBps reads localCapBps().
func (m *MUSDToken) LocalCapBps(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "localCapBps"); err != nil {
		return nil, fmt.Errorf("localCapBps call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// HasRole reads hasRole(role, account).
func (m *MUSDToken) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasRole", role, account); err != nil {
		return false, fmt.Errorf("hasRole call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GrantRole transacts grantRole(role, account).
func (m *MUSDToken) GrantRole(opts *bind.TransactOpts, role [32]byte, account common.Address) (*types.Transaction, error) {
	tx, err := m.contract.Transact(opts, "grantRole", role, account)
	if err != nil {
		return nil, fmt.Errorf("grantRole transact failed: %w", err)
	}
	return tx, nil
}

// Mint transacts mint(recipient, amount) — the D2b redemption settlement step.
func (m *MUSDToken) Mint(opts *bind.TransactOpts, recipient common.Address, amount *big.Int) (*types.Transaction, error) {
	tx, err := m.contract.Transact(opts, "mint", recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("mint transact failed: %w", err)
	}
	return tx, nil
}

// BridgeMintRole is the role identifier mint-time access checks gate on.
var BridgeMintRole = roleID("BRIDGE_MINT_ROLE")

// ExceedsLocalCapSelector is the known revert selector (spec §4.3) treated
// as a soft skip rather than a retry storm.
const ExceedsLocalCapSelector = "0x5d24ffe1"
