package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func ethereumCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

// bridgeABIJSON describes the subset of the Chain bridge contract's surface
// the relay consumes (spec §6): nonce/threshold reads, attestation
// processing, pause control, and the two watched events.
const bridgeABIJSON = `[
	{"type":"function","name":"currentNonce","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"minSignatures","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"usedAttestationIds","stateMutability":"view","inputs":[{"type":"bytes32"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"getCurrentSupplyCap","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"attestedCantonAssets","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"type":"bytes32"},{"type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"processAttestation","stateMutability":"nonpayable","inputs":[
		{"type":"tuple","components":[
			{"name":"nonce","type":"uint256"},
			{"name":"globalLedgerAssets","type":"uint256"},
			{"name":"timestamp","type":"uint256"},
			{"name":"entropy","type":"bytes32"},
			{"name":"ledgerStateHash","type":"bytes32"},
			{"name":"chainId","type":"uint256"}
		]},
		{"type":"bytes[]"}
	],"outputs":[]},
	{"type":"event","name":"AttestationReceived","inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"cantonAssets","type":"uint256","indexed":false},
		{"name":"newSupplyCap","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	],"anonymous":false},
	{"type":"event","name":"BridgeToCantonRequested","inputs":[
		{"name":"requestId","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"cantonRecipient","type":"string","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	],"anonymous":false}
]`

// BridgeAttestation mirrors the on-chain attestation struct consumed by
// processAttestation.
type BridgeAttestation struct {
	Nonce              *big.Int
	GlobalLedgerAssets *big.Int
	Timestamp          *big.Int
	Entropy            [32]byte
	LedgerStateHash    [32]byte
	ChainID            *big.Int
}

// BridgeToCantonRequestedEvent is the decoded form of the bridge-out event
// D2 watches for.
type BridgeToCantonRequestedEvent struct {
	RequestID       [32]byte
	Sender          common.Address
	Amount          *big.Int
	Nonce           *big.Int
	CantonRecipient string
	Timestamp       *big.Int
	Raw             types.Log
}

// Bridge is a hand-maintained abigen-style binding around the Chain bridge
// contract, following the Caller/Transactor split the teacher's generated
// bindings use without the session-struct boilerplate this relay has no
// need for.
type Bridge struct {
	address  common.Address
	contract *bind.BoundContract
	abi      abi.ABI
}

// NewBridge binds the bridge contract at address using backend.
func NewBridge(address common.Address, backend bind.ContractBackend) (*Bridge, error) {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}
	return &Bridge{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		abi:      parsed,
	}, nil
}

// Address returns the bound contract address.
func (b *Bridge) Address() common.Address { return b.address }

// CurrentNonce reads currentNonce().
func (b *Bridge) CurrentNonce(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "currentNonce"); err != nil {
		return nil, fmt.Errorf("currentNonce call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// MinSignatures reads minSignatures().
func (b *Bridge) MinSignatures(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "minSignatures"); err != nil {
		return nil, fmt.Errorf("minSignatures call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// UsedAttestationIds reads usedAttestationIds(id).
func (b *Bridge) UsedAttestationIds(ctx context.Context, id [32]byte) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "usedAttestationIds", id); err != nil {
		return false, fmt.Errorf("usedAttestationIds call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetCurrentSupplyCap reads getCurrentSupplyCap().
func (b *Bridge) GetCurrentSupplyCap(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCurrentSupplyCap"); err != nil {
		return nil, fmt.Errorf("getCurrentSupplyCap call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// AttestedCantonAssets reads attestedCantonAssets().
func (b *Bridge) AttestedCantonAssets(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "attestedCantonAssets"); err != nil {
		return nil, fmt.Errorf("attestedCantonAssets call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Paused reads paused().
func (b *Bridge) Paused(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "paused"); err != nil {
		return false, fmt.Errorf("paused call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// HasRole reads hasRole(role, account).
func (b *Bridge) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasRole", role, account); err != nil {
		return false, fmt.Errorf("hasRole call failed: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Pause transacts pause().
func (b *Bridge) Pause(opts *bind.TransactOpts) (*types.Transaction, error) {
	tx, err := b.contract.Transact(opts, "pause")
	if err != nil {
		return nil, fmt.Errorf("pause transact failed: %w", err)
	}
	return tx, nil
}

// ProcessAttestation transacts processAttestation(attestation, signatures).
func (b *Bridge) ProcessAttestation(opts *bind.TransactOpts, attestation BridgeAttestation, signatures [][]byte) (*types.Transaction, error) {
	tx, err := b.contract.Transact(opts, "processAttestation", attestation, signatures)
	if err != nil {
		return nil, fmt.Errorf("processAttestation transact failed: %w", err)
	}
	return tx, nil
}

// PackProcessAttestation encodes the processAttestation calldata, useful for
// gas estimation ahead of the actual Transact call.
func (b *Bridge) PackProcessAttestation(attestation BridgeAttestation, signatures [][]byte) ([]byte, error) {
	data, err := b.abi.Pack("processAttestation", attestation, signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to pack processAttestation: %w", err)
	}
	return data, nil
}

// StaticCallProcessAttestation performs the read-only simulation spec §4.1
// step 12 requires before an actual submission: an eth_call with From set to
// the relay's own address, so a revert surfaces here rather than on-chain.
func (b *Bridge) StaticCallProcessAttestation(ctx context.Context, caller bind.ContractCaller, from common.Address, attestation BridgeAttestation, signatures [][]byte) error {
	data, err := b.abi.Pack("processAttestation", attestation, signatures)
	if err != nil {
		return fmt.Errorf("failed to pack processAttestation: %w", err)
	}
	msg := ethereumCallMsg(from, b.address, data)
	if _, err := caller.CallContract(ctx, msg, nil); err != nil {
		return err
	}
	return nil
}

// UnpackAttestationReceived decodes an AttestationReceived log.
func (b *Bridge) UnpackAttestationReceived(log types.Log) (id [32]byte, cantonAssets, newSupplyCap, nonce, timestamp *big.Int, err error) {
	event := struct {
		CantonAssets *big.Int
		NewSupplyCap *big.Int
		Nonce        *big.Int
		Timestamp    *big.Int
	}{}
	if err = b.abi.UnpackIntoInterface(&event, "AttestationReceived", log.Data); err != nil {
		return id, nil, nil, nil, nil, fmt.Errorf("failed to unpack AttestationReceived: %w", err)
	}
	if len(log.Topics) > 1 {
		id = log.Topics[1]
	}
	return id, event.CantonAssets, event.NewSupplyCap, event.Nonce, event.Timestamp, nil
}

// UnpackBridgeToCantonRequested decodes a BridgeToCantonRequested log.
func (b *Bridge) UnpackBridgeToCantonRequested(log types.Log) (*BridgeToCantonRequestedEvent, error) {
	event := struct {
		Sender          common.Address
		Amount          *big.Int
		Nonce           *big.Int
		CantonRecipient string
		Timestamp       *big.Int
	}{}
	if err := b.abi.UnpackIntoInterface(&event, "BridgeToCantonRequested", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack BridgeToCantonRequested: %w", err)
	}
	var requestID [32]byte
	if len(log.Topics) > 1 {
		requestID = log.Topics[1]
	}
	return &BridgeToCantonRequestedEvent{
		RequestID:       requestID,
		Sender:          event.Sender,
		Amount:          event.Amount,
		Nonce:           event.Nonce,
		CantonRecipient: event.CantonRecipient,
		Timestamp:       event.Timestamp,
		Raw:             log,
	}, nil
}

// EventTopic returns the keccak256 topic hash for an event name, precomputed
// the way pkg/anchor/event_watcher.go precomputes its topic set.
func (b *Bridge) EventTopic(name string) (common.Hash, error) {
	ev, ok := b.abi.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event %q", name)
	}
	return ev.ID, nil
}
