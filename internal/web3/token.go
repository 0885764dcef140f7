package web3

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSymbol is the symbol of the chain's native asset.
const NativeSymbol = "ETH"

// Token describes an asset the adapter knows how to move.
type Token struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Name     string         `json:"name" yaml:"name"`
	Address  common.Address `json:"address" yaml:"address"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
	Native   bool           `json:"native,omitempty" yaml:"native"`
}

// NativeToken returns the ETH descriptor.
func NativeToken() Token {
	return Token{Symbol: NativeSymbol, Name: "Ether", Decimals: 18, Native: true}
}

// DefaultTokens lists the mainnet ERC20 tokens available on a forked node.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "USDC", Name: "USD Coin", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
		{Symbol: "USDT", Name: "Tether USD", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6},
		{Symbol: "DAI", Name: "Dai Stablecoin", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
		{Symbol: "UNI", Name: "Uniswap", Address: common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"), Decimals: 18},
		{Symbol: "LINK", Name: "ChainLink Token", Address: common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), Decimals: 18},
		{Symbol: "WBTC", Name: "Wrapped BTC", Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Decimals: 8},
	}
}

// TokenRegistry resolves symbols and contract addresses to tokens. It is
// immutable after construction.
type TokenRegistry struct {
	bySymbol  map[string]Token
	byAddress map[common.Address]Token
}

// NewTokenRegistry builds a registry containing ETH plus the given tokens.
func NewTokenRegistry(tokens ...Token) (*TokenRegistry, error) {
	r := &TokenRegistry{
		bySymbol:  make(map[string]Token, len(tokens)+1),
		byAddress: make(map[common.Address]Token, len(tokens)),
	}
	r.bySymbol[NativeSymbol] = NativeToken()
	for _, tok := range tokens {
		key := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if key == "" {
			return nil, fmt.Errorf("token %s has no symbol", tok.Address.Hex())
		}
		if tok.Native || key == NativeSymbol {
			continue
		}
		if tok.Address == (common.Address{}) {
			return nil, fmt.Errorf("token %s has no contract address", key)
		}
		if _, dup := r.bySymbol[key]; dup {
			return nil, fmt.Errorf("token %s registered twice", key)
		}
		tok.Symbol = key
		r.bySymbol[key] = tok
		r.byAddress[tok.Address] = tok
	}
	return r, nil
}

// MustTokenRegistry is NewTokenRegistry for static token lists.
func MustTokenRegistry(tokens ...Token) *TokenRegistry {
	r, err := NewTokenRegistry(tokens...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves a symbol (case-insensitive) or a token contract address.
func (r *TokenRegistry) Lookup(ref string) (Token, bool) {
	ref = strings.TrimSpace(ref)
	if r == nil || ref == "" {
		return Token{}, false
	}
	if common.IsHexAddress(ref) {
		tok, ok := r.byAddress[common.HexToAddress(ref)]
		return tok, ok
	}
	tok, ok := r.bySymbol[strings.ToUpper(ref)]
	return tok, ok
}

// ByAddress resolves an ERC20 contract address.
func (r *TokenRegistry) ByAddress(addr common.Address) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	tok, ok := r.byAddress[addr]
	return tok, ok
}

// All returns every token, native asset first, the rest ordered by symbol.
func (r *TokenRegistry) All() []Token {
	if r == nil {
		return nil
	}
	out := make([]Token, 0, len(r.bySymbol))
	for _, tok := range r.bySymbol {
		if !tok.Native {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return append([]Token{NativeToken()}, out...)
}
