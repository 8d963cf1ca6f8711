// Package chainclient wraps the Chain RPC connection and the relay's
// hand-maintained contract bindings (bridge, mUSD token, treasury, and the
// two yield distributors).
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an ethclient connection plus the bound contracts the relay
// drives, and supports rotating among an ordered list of RPC providers.
type Client struct {
	mu      sync.RWMutex
	eth     *ethclient.Client
	chainID *big.Int
	urls    []string
	active  int

	Bridge    *Bridge
	MUSD      *MUSDToken
	Treasury  *Treasury
	Yield     *YieldDistributor
	ETHYield  *YieldDistributor
}

// Addresses groups the contract addresses the relay is configured against.
type Addresses struct {
	Bridge               common.Address
	MUSDToken            common.Address
	Treasury             common.Address
	YieldDistributor     common.Address
	ETHPoolYieldDistrib  common.Address
}

// Dial connects to the first reachable URL in urls (ordered primary then
// fallbacks) and wires the bound contracts against it.
func Dial(ctx context.Context, urls []string, chainID int64, addrs Addresses) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no RPC URLs configured")
	}
	c := &Client{urls: urls, chainID: big.NewInt(chainID)}
	var err error
	for i := range urls {
		if err = c.connect(ctx, i); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if err := c.bind(addrs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context, index int) error {
	if index >= len(c.urls) {
		return fmt.Errorf("no RPC provider available at index %d", index)
	}
	eth, err := ethclient.DialContext(ctx, c.urls[index])
	if err != nil {
		return fmt.Errorf("failed to connect to chain RPC: %w", err)
	}
	c.mu.Lock()
	if c.eth != nil {
		c.eth.Close()
	}
	c.eth = eth
	c.active = index
	c.mu.Unlock()
	return nil
}

func (c *Client) bind(addrs Addresses) error {
	backend := c.backend()
	var err error
	if c.Bridge, err = NewBridge(addrs.Bridge, backend); err != nil {
		return fmt.Errorf("failed to bind bridge contract: %w", err)
	}
	if c.MUSD, err = NewMUSDToken(addrs.MUSDToken, backend); err != nil {
		return fmt.Errorf("failed to bind mUSD token contract: %w", err)
	}
	if c.Treasury, err = NewTreasury(addrs.Treasury, backend); err != nil {
		return fmt.Errorf("failed to bind treasury contract: %w", err)
	}
	if c.Yield, err = NewYieldDistributor(addrs.YieldDistributor, backend); err != nil {
		return fmt.Errorf("failed to bind yield distributor contract: %w", err)
	}
	if c.ETHYield, err = NewYieldDistributor(addrs.ETHPoolYieldDistrib, backend); err != nil {
		return fmt.Errorf("failed to bind ETH pool yield distributor contract: %w", err)
	}
	return nil
}

func (c *Client) backend() bind.ContractBackend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth
}

// Backend exposes the underlying bind.ContractBackend so callers can bind
// ad-hoc contracts (e.g. the ERC20 asset a Treasury reports) without the
// caller needing its own RPC connection.
func (c *Client) Backend() bind.ContractBackend {
	return c.backend()
}

// Failover rotates to the next RPC provider modulo len(urls), rebinds the
// contracts against it, and returns the new provider's URL.
func (c *Client) Failover(ctx context.Context, addrs Addresses) (string, error) {
	c.mu.RLock()
	next := (c.active + 1) % len(c.urls)
	c.mu.RUnlock()

	if err := c.connect(ctx, next); err != nil {
		return "", err
	}
	if err := c.bind(addrs); err != nil {
		return "", err
	}
	c.mu.RLock()
	url := c.urls[c.active]
	c.mu.RUnlock()
	return RedactURL(url), nil
}

// ActiveURL returns the redacted URL of the currently connected provider.
func (c *Client) ActiveURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active >= len(c.urls) {
		return ""
	}
	return RedactURL(c.urls[c.active])
}

// RedactURL strips a query string (which may carry an API key) from a URL
// before it is ever logged.
func RedactURL(u string) string {
	if idx := strings.IndexByte(u, '?'); idx >= 0 {
		return u[:idx] + "?<redacted>"
	}
	return u
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	n, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// FilterLogs paginates through fromBlock..toBlock in chunkSize windows to
// stay under per-call RPC caps, returning the concatenated log set.
func (c *Client) FilterLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock uint64, chunkSize uint64) ([]types.Log, error) {
	if chunkSize == 0 {
		chunkSize = 10000
	}
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()

	var all []types.Log
	for from := fromBlock; from <= toBlock; from += chunkSize {
		to := from + chunkSize - 1
		if to > toBlock {
			to = toBlock
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: addresses,
			Topics:    topics,
		}
		logs, err := eth.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs [%d,%d]: %w", from, to, err)
		}
		all = append(all, logs...)
		if to == toBlock {
			break
		}
	}
	return all, nil
}

// CallContract performs a read-only eth_call, satisfying bind.ContractCaller
// so a *Client can be passed directly to a binding's static-call helpers
// (e.g. Bridge.StaticCallProcessAttestation).
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	out, err := eth.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}
	return out, nil
}

// CodeAt satisfies the remaining half of bind.ContractCaller.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	out, err := eth.CodeAt(ctx, account, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode failed: %w", err)
	}
	return out, nil
}

// WaitMined blocks until tx is mined (or ctx is cancelled) and returns its receipt.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	receipt, err := bind.WaitMined(ctx, eth, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction to be mined: %w", err)
	}
	return receipt, nil
}

// NewTransactOpts builds a *bind.TransactOpts for the given signing key,
// with gas estimation left to the caller (the relay always estimates then
// multiplies by 1.2 before submission — see internal/directions).
func (c *Client) NewTransactOpts(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// EstimateGas estimates gas for a call and applies the 1.2x safety multiplier
// spec §4.1 step 13 requires before submission.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	gas, err := eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas * 12 / 10, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
	}
}

// DefaultTimeout is the Chain RPC client default timeout per spec §5.
const DefaultTimeout = 30 * time.Second
