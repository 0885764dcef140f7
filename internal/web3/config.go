package web3

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	DefaultChain string                     `yaml:"default_chain"`
	Chains       map[string]ChainDefinition `yaml:"chains"`
	Tokens       []TokenDefinition          `yaml:"tokens"`
	Accounts     []AccountDefinition        `yaml:"accounts"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	Router      string `yaml:"router"`
	WETH        string `yaml:"weth"`
	Description string `yaml:"description"`
}

// TokenDefinition is the YAML form of a Token.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// AccountDefinition names a well-known account. PrivateKey is optional;
// accounts without one are signed by the node (eth_sendTransaction).
type AccountDefinition struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"private_key"`
}

// Account is a parsed AccountDefinition.
type Account struct {
	Name    string
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// UniswapV2Router is the mainnet router address reachable on a forked node.
const UniswapV2Router = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"

// DevAccounts returns the first five accounts of the standard development
// mnemonic used by anvil and hardhat, with their well-known keys.
func DevAccounts() []AccountDefinition {
	return []AccountDefinition{
		{Name: "alice", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", PrivateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"},
		{Name: "bob", Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", PrivateKey: "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"},
		{Name: "charlie", Address: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", PrivateKey: "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"},
		{Name: "david", Address: "0x90F79bf6EB2c4f870365E785982E1f101E93b906", PrivateKey: "0x7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6"},
		{Name: "eve", Address: "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65", PrivateKey: "0x47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a"},
	}
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields an empty definition set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// TokenRegistry builds the registry from the configured tokens, falling back
// to DefaultTokens when none are listed.
func (d ChainDefinitions) TokenRegistry() (*TokenRegistry, error) {
	if len(d.Tokens) == 0 {
		return NewTokenRegistry(DefaultTokens()...)
	}
	tokens := make([]Token, 0, len(d.Tokens))
	for _, def := range d.Tokens {
		if !common.IsHexAddress(def.Address) {
			return nil, fmt.Errorf("代币 %s 的合约地址无效: %q", def.Symbol, def.Address)
		}
		tokens = append(tokens, Token{
			Symbol:   def.Symbol,
			Name:     def.Name,
			Address:  common.HexToAddress(def.Address),
			Decimals: def.Decimals,
		})
	}
	return NewTokenRegistry(tokens...)
}

// ParseAccounts validates the configured accounts, falling back to
// DevAccounts when none are listed.
func (d ChainDefinitions) ParseAccounts() ([]Account, error) {
	defs := d.Accounts
	if len(defs) == 0 {
		defs = DevAccounts()
	}
	out := make([]Account, 0, len(defs))
	for _, def := range defs {
		acct, err := def.Parse()
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// Parse checks the address and, if present, that the key controls it.
func (a AccountDefinition) Parse() (Account, error) {
	name := strings.ToLower(strings.TrimSpace(a.Name))
	if name == "" {
		return Account{}, fmt.Errorf("账户 %s 缺少名称", a.Address)
	}
	if !common.IsHexAddress(a.Address) {
		return Account{}, fmt.Errorf("账户 %s 的地址无效: %q", name, a.Address)
	}
	acct := Account{Name: name, Address: common.HexToAddress(a.Address)}
	if raw := strings.TrimPrefix(strings.TrimSpace(a.PrivateKey), "0x"); raw != "" {
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return Account{}, fmt.Errorf("账户 %s 的私钥无效: %w", name, err)
		}
		if derived := crypto.PubkeyToAddress(key.PublicKey); derived != acct.Address {
			return Account{}, fmt.Errorf("账户 %s 的私钥对应地址 %s 与配置不符", name, derived.Hex())
		}
		acct.Key = key
	}
	return acct, nil
}
