package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ChainPilot/internal/config"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

// Registry manages the blockchain adapters keyed by chain name, together
// with the token registry and named accounts they share.
type Registry struct {
	defaultChain string
	adapters     map[string]web3.Adapter
	tokens       *web3.TokenRegistry
	accounts     []web3.Account
}

// NewRegistry loads chain definitions and dials one adapter per chain.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	tokens, err := defs.TokenRegistry()
	if err != nil {
		return nil, err
	}
	accounts, err := defs.ParseAccounts()
	if err != nil {
		return nil, err
	}

	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains = map[string]web3.ChainDefinition{
			"default": {Type: "evm", RPCURL: cfg.RPCURL, Router: web3.UniswapV2Router},
		}
	}
	if cfg.RPCURL != "" && cfg.DefaultChain != "" {
		if def, ok := defs.Chains[cfg.DefaultChain]; ok {
			def.RPCURL = cfg.RPCURL
			defs.Chains[cfg.DefaultChain] = def
		}
	}

	adapters := make(map[string]web3.Adapter, len(defs.Chains))
	closeAll := func() {
		for _, a := range adapters {
			a.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		ecfg := ethereum.Config{
			Name:           name,
			RPCURL:         chain.RPCURL,
			ChainID:        chain.ChainID,
			Tokens:         tokens,
			Accounts:       accounts,
			MaxConcurrency: cfg.MaxConcurrency,
			RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			ReceiptTimeout: time.Duration(cfg.ReceiptTimeoutSeconds) * time.Second,
			Notes:          chain.Description,
		}
		if common.IsHexAddress(chain.Router) {
			ecfg.Router = common.HexToAddress(chain.Router)
		}
		if common.IsHexAddress(chain.WETH) {
			ecfg.WETH = common.HexToAddress(chain.WETH)
		}
		client, err := ethereum.NewClient(ctx, ecfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		adapters[name] = client
	}
	if len(adapters) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = defs.DefaultChain
	}
	r := &Registry{adapters: adapters, tokens: tokens, accounts: accounts}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := adapters[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// NewStaticRegistry wraps already constructed adapters.
func NewStaticRegistry(defaultChain string, adapters map[string]web3.Adapter, tokens *web3.TokenRegistry, accounts []web3.Account) (*Registry, error) {
	if _, ok := adapters[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", defaultChain)
	}
	if tokens == nil {
		tokens = web3.MustTokenRegistry(web3.DefaultTokens()...)
	}
	return &Registry{defaultChain: defaultChain, adapters: adapters, tokens: tokens, accounts: accounts}, nil
}

// Default returns the adapter configured as default chain.
func (r *Registry) Default() (web3.Adapter, error) {
	if r == nil {
		return nil, errors.New("未初始化的链适配器注册表")
	}
	adapter, ok := r.adapters[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return adapter, nil
}

// Adapter returns the adapter identified by chain name.
func (r *Registry) Adapter(name string) (web3.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Tokens returns the shared token registry.
func (r *Registry) Tokens() *web3.TokenRegistry { return r.tokens }

// Accounts returns the named accounts from the chain configuration.
func (r *Registry) Accounts() []web3.Account {
	return append([]web3.Account(nil), r.accounts...)
}

// Aliases maps account names to addresses for session seeding.
func (r *Registry) Aliases() map[string]common.Address {
	out := make(map[string]common.Address, len(r.accounts))
	for _, acct := range r.accounts {
		out[acct.Name] = acct.Address
	}
	return out
}

// Close releases all adapters managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, adapter := range r.adapters {
		if adapter != nil {
			adapter.Close()
		}
		delete(r.adapters, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
