package chainclient

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const yieldDistributorABIJSON = `[
	{"type":"event","name":"CantonYieldBridged","inputs":[
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"musdAmount","type":"uint256","indexed":false},
		{"name":"cantonRecipient","type":"string","indexed":false}
	],"anonymous":false},
	{"type":"event","name":"ETHPoolYieldBridged","inputs":[
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"yieldUsdc","type":"uint256","indexed":false},
		{"name":"musdBridged","type":"uint256","indexed":false},
		{"name":"ethPoolRecipient","type":"string","indexed":false}
	],"anonymous":false}
]`

// CantonYieldBridgedEvent is the decoded form of the D4 (staking pool) yield event.
type CantonYieldBridgedEvent struct {
	Epoch           *big.Int
	MUSDAmount      *big.Int
	CantonRecipient string
	Raw             types.Log
}

// ETHPoolYieldBridgedEvent is the decoded form of the D4b (ETH pool) yield event.
type ETHPoolYieldBridgedEvent struct {
	Epoch            *big.Int
	YieldUSDC        *big.Int
	MUSDBridged      *big.Int
	ETHPoolRecipient string
	Raw              types.Log
}

// YieldDistributor is a hand-maintained binding shared by the staking-pool
// (D4) and ETH-pool (D4b) yield distributor contracts — the two pipelines
// decode different events off the same contract shape.
type YieldDistributor struct {
	address common.Address
	abi     abi.ABI
}

// NewYieldDistributor binds a yield distributor contract at address. The
// backend parameter is accepted for symmetry with the other bindings and to
// allow future read methods; the relay only consumes this contract's
// events today.
func NewYieldDistributor(address common.Address, backend bind.ContractBackend) (*YieldDistributor, error) {
	parsed, err := abi.JSON(strings.NewReader(yieldDistributorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse yield distributor ABI: %w", err)
	}
	return &YieldDistributor{address: address, abi: parsed}, nil
}

// Address returns the bound contract address.
func (y *YieldDistributor) Address() common.Address { return y.address }

// EventTopic returns the keccak256 topic hash for an event name.
func (y *YieldDistributor) EventTopic(name string) (common.Hash, error) {
	ev, ok := y.abi.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event %q", name)
	}
	return ev.ID, nil
}

// UnpackCantonYieldBridged decodes a CantonYieldBridged log.
func (y *YieldDistributor) UnpackCantonYieldBridged(log types.Log) (*CantonYieldBridgedEvent, error) {
	event := struct {
		Epoch           *big.Int
		MUSDAmount      *big.Int
		CantonRecipient string
	}{}
	if err := y.abi.UnpackIntoInterface(&event, "CantonYieldBridged", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack CantonYieldBridged: %w", err)
	}
	return &CantonYieldBridgedEvent{Epoch: event.Epoch, MUSDAmount: event.MUSDAmount, CantonRecipient: event.CantonRecipient, Raw: log}, nil
}

// UnpackETHPoolYieldBridged decodes an ETHPoolYieldBridged log.
func (y *YieldDistributor) UnpackETHPoolYieldBridged(log types.Log) (*ETHPoolYieldBridgedEvent, error) {
	event := struct {
		Epoch            *big.Int
		YieldUSDC        *big.Int
		MUSDBridged      *big.Int
		ETHPoolRecipient string
	}{}
	if err := y.abi.UnpackIntoInterface(&event, "ETHPoolYieldBridged", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack ETHPoolYieldBridged: %w", err)
	}
	return &ETHPoolYieldBridgedEvent{
		Epoch:            event.Epoch,
		YieldUSDC:        event.YieldUSDC,
		MUSDBridged:      event.MUSDBridged,
		ETHPoolRecipient: event.ETHPoolRecipient,
		Raw:              log,
	}, nil
}
