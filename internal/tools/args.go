package tools

import (
	"maps"
	"math/big"

	"ChainPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// Args holds validated, typed tool arguments. Getters return zero values
// for parameters that were optional and omitted.
type Args struct {
	values  map[string]any
	display map[string]string
}

func (a *Args) set(name string, v any, shown string) {
	a.values[name] = v
	a.display[name] = shown
}

// Has reports whether name was supplied or defaulted.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Address returns an account or address parameter.
func (a Args) Address(name string) common.Address {
	v, _ := a.values[name].(common.Address)
	return v
}

// Amount returns an amount parameter in base units.
func (a Args) Amount(name string) *big.Int {
	if v, ok := a.values[name].(*big.Int); ok {
		return new(big.Int).Set(v)
	}
	return nil
}

// Token returns a token parameter.
func (a Args) Token(name string) web3.Token {
	v, _ := a.values[name].(web3.Token)
	return v
}

// Bps returns a basis-points parameter.
func (a Args) Bps(name string) uint32 {
	v, _ := a.values[name].(uint32)
	return v
}

// Int returns an integer parameter.
func (a Args) Int(name string) int64 {
	v, _ := a.values[name].(int64)
	return v
}

// String returns a string parameter.
func (a Args) String(name string) string {
	v, _ := a.values[name].(string)
	return v
}

// Strings returns a string-list parameter.
func (a Args) Strings(name string) []string {
	v, _ := a.values[name].([]string)
	return append([]string(nil), v...)
}

// Display returns the canonical textual form of every argument: checksummed
// addresses, token symbols and human-unit amounts.
func (a Args) Display() map[string]string {
	return maps.Clone(a.display)
}

// NewArgs builds Args from canonical display values, for callers that
// construct invocations without going through Validate.
func NewArgs(values map[string]any) Args {
	args := Args{values: make(map[string]any, len(values)), display: make(map[string]string, len(values))}
	for k, v := range values {
		args.set(k, v, render(v))
	}
	return args
}

func render(v any) string {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	case web3.Token:
		return val.Symbol
	case string:
		return val
	default:
		return ""
	}
}
