package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/semaphore"
)

// Backend is the subset of the go-ethereum client API the adapter uses.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	gethcore.ChainStateReader
	gethcore.ContractCaller
	gethcore.GasEstimator
	gethcore.TransactionSender
	gethcore.TransactionReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// rawCaller issues JSON-RPC calls the typed client does not expose.
type rawCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Config describes how to construct an EVM compatible adapter.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	Router         common.Address
	WETH           common.Address
	Tokens         *web3.TokenRegistry
	Accounts       []web3.Account
	MaxConcurrency int64
	RequestTimeout time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Notes          string
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Tokens == nil {
		c.Tokens = web3.MustTokenRegistry(web3.DefaultTokens()...)
	}
	if c.WETH == (common.Address{}) {
		if weth, ok := c.Tokens.Lookup("WETH"); ok {
			c.WETH = weth.Address
		}
	}
}

// Client implements web3.Adapter for EVM compatible chains.
type Client struct {
	name     string
	notes    string
	rpc      *gethrpc.Client
	raw      rawCaller
	backend  Backend
	chainID  *big.Int
	router   common.Address
	weth     common.Address
	tokens   *web3.TokenRegistry
	keys     map[common.Address]*ecdsa.PrivateKey
	accounts map[common.Address]string

	sem            *semaphore.Weighted
	requestTimeout time.Duration
	receiptTimeout time.Duration
	pollInterval   time.Duration

	nonces  *nonceTracker
	pending *pendingOps
	commit  func()
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use adapter.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client, err := newClient(ctx, ethclient.NewClient(rpcClient), cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpc = rpcClient
	client.raw = rpcClient
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every receipt
// poll mines pending transactions into a new block.
func NewSimulatedClient(ctx context.Context, backend *simulated.Backend, cfg Config) (*Client, error) {
	client, err := newClient(ctx, backend.Client(), cfg)
	if err != nil {
		return nil, err
	}
	client.commit = func() { backend.Commit() }
	if cfg.Notes == "" {
		client.notes = "simulated backend"
	}
	return client, nil
}

// NewWithBackend builds an adapter over an arbitrary Backend.
func NewWithBackend(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	return newClient(ctx, backend, cfg)
}

func newClient(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("链 %s 的 ID 为 %s，与配置的 %d 不符", cfg.Name, chainID, cfg.ChainID)
	}

	c := &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		backend:        backend,
		chainID:        chainID,
		router:         cfg.Router,
		weth:           cfg.WETH,
		tokens:         cfg.Tokens,
		keys:           make(map[common.Address]*ecdsa.PrivateKey),
		accounts:       make(map[common.Address]string),
		sem:            semaphore.NewWeighted(cfg.MaxConcurrency),
		requestTimeout: cfg.RequestTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
		nonces:         newNonceTracker(),
		pending:        newPendingOps(time.Hour),
		now:            time.Now,
	}
	for _, acct := range cfg.Accounts {
		c.accounts[acct.Address] = acct.Name
		if acct.Key != nil {
			c.keys[acct.Address] = acct.Key
		}
	}
	return c, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// ChainID returns the chain id reported by the node at construction.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Tokens exposes the token registry the adapter was built with.
func (c *Client) Tokens() *web3.TokenRegistry { return c.tokens }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// acquire bounds the number of concurrent node operations.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, classify(err, web3.CodeNetworkError, "")
	}
	return func() { c.sem.Release(1) }, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.requestTimeout)
}

// GetBalance implements web3.Adapter.
func (c *Client) GetBalance(ctx context.Context, address common.Address, token web3.Token) (web3.Balance, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return web3.Balance{}, err
	}
	defer release()
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	raw, err := c.balanceOf(ctx, address, token)
	if err != nil {
		return web3.Balance{}, err
	}
	if raw.Sign() == 0 {
		seen, err := c.observed(ctx, address)
		if err != nil {
			return web3.Balance{}, err
		}
		if !seen {
			return web3.Balance{}, xerrors.New(web3.CodeAddressNotFound,
				fmt.Sprintf("address %s has no history on chain %s", address.Hex(), c.name))
		}
	}
	return web3.Balance{Address: address, Token: token, Raw: raw}, nil
}

// IsContract reports whether code is deployed at address.
func (c *Client) IsContract(ctx context.Context, address common.Address) (bool, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, classify(err, web3.CodeAdapterFailure, "query code")
	}
	return len(code) > 0, nil
}

// QueryContract calls a read-only ERC20 or router method and renders the
// decoded outputs as strings.
func (c *Client) QueryContract(ctx context.Context, address common.Address, method string, args []string) (web3.ContractResult, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return web3.ContractResult{}, err
	}
	defer release()
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return web3.ContractResult{}, classify(err, web3.CodeAdapterFailure, "query code")
	}
	if len(code) == 0 {
		return web3.ContractResult{}, xerrors.New(web3.CodeContractNotFound,
			fmt.Sprintf("no contract deployed at %s", address.Hex()))
	}

	parsed, m, ok := lookupMethod(method)
	if !ok {
		return web3.ContractResult{}, xerrors.New(web3.CodeDecodeError,
			fmt.Sprintf("method %q is not a known read-only ERC20 or router method", method))
	}
	values, err := convertArgs(m.Inputs, args)
	if err != nil {
		return web3.ContractResult{}, xerrors.Wrap(web3.CodeDecodeError, err, "encode arguments")
	}
	data, err := parsed.Pack(m.Name, values...)
	if err != nil {
		return web3.ContractResult{}, xerrors.Wrap(web3.CodeDecodeError, err, "encode call")
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return web3.ContractResult{}, classify(err, web3.CodeTransactionReverted, "contract call failed")
	}
	decoded, err := m.Outputs.Unpack(out)
	if err != nil || len(decoded) != len(m.Outputs) {
		if err == nil {
			err = fmt.Errorf("expected %d outputs, got %d", len(m.Outputs), len(decoded))
		}
		return web3.ContractResult{}, xerrors.Wrap(web3.CodeDecodeError, err,
			fmt.Sprintf("decode %s result", m.Name))
	}
	return web3.ContractResult{Address: address, Method: m.Name, Outputs: renderValues(decoded)}, nil
}

// balanceOf reads a native or ERC20 balance.
func (c *Client) balanceOf(ctx context.Context, owner common.Address, token web3.Token) (*big.Int, error) {
	if token.Native {
		bal, err := c.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, classify(err, web3.CodeAdapterFailure, "query balance")
		}
		return bal, nil
	}
	return c.callUint(ctx, token, "balanceOf", owner)
}

// callUint calls a single-uint256 ERC20 view method.
func (c *Client) callUint(ctx context.Context, token web3.Token, method string, args ...any) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeDecodeError, err, "encode "+method)
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return nil, classify(err, web3.CodeAdapterFailure, token.Symbol+"."+method)
	}
	if len(out) == 0 {
		return nil, xerrors.New(web3.CodeContractNotFound,
			fmt.Sprintf("token %s has no contract at %s", token.Symbol, token.Address.Hex()))
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return nil, xerrors.Wrap(web3.CodeDecodeError, err, "decode "+method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(web3.CodeDecodeError, fmt.Sprintf("%s returned %T", method, values[0]))
	}
	return v, nil
}

// observed reports whether the chain has any trace of address: a configured
// account, a non-zero nonce or ETH balance, or deployed code.
func (c *Client) observed(ctx context.Context, address common.Address) (bool, error) {
	if _, ok := c.accounts[address]; ok {
		return true, nil
	}
	nonce, err := c.backend.NonceAt(ctx, address, nil)
	if err != nil {
		return false, classify(err, web3.CodeAdapterFailure, "query nonce")
	}
	if nonce > 0 {
		return true, nil
	}
	bal, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return false, classify(err, web3.CodeAdapterFailure, "query balance")
	}
	if bal.Sign() > 0 {
		return true, nil
	}
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, classify(err, web3.CodeAdapterFailure, "query code")
	}
	return len(code) > 0, nil
}

var _ web3.Adapter = (*Client)(nil)
