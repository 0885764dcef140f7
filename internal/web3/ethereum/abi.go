package ethereum

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/erc20.json
	erc20JSON string
	//go:embed abi/router.json
	routerJSON string

	erc20ABI  = mustParseABI(erc20JSON)
	routerABI = mustParseABI(routerJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// lookupMethod finds a read-only method in the known ABIs.
func lookupMethod(name string) (abi.ABI, abi.Method, bool) {
	for _, candidate := range []abi.ABI{erc20ABI, routerABI} {
		if m, ok := candidate.Methods[name]; ok && m.IsConstant() {
			return candidate, m, true
		}
	}
	return abi.ABI{}, abi.Method{}, false
}
