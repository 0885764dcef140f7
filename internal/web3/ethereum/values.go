package ethereum

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// convertArgs turns textual arguments into the Go values abi.Pack expects.
func convertArgs(inputs abi.Arguments, args []string) ([]any, error) {
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(args))
	}
	out := make([]any, len(inputs))
	for i, in := range inputs {
		v, err := convertArg(in.Type, strings.TrimSpace(args[i]))
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(t abi.Type, raw string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.UintTy:
		n, ok := new(big.Int).SetString(raw, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid unsigned integer %q", raw)
		}
		if t.Size == 8 {
			return uint8(n.Uint64()), nil
		}
		return n, nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	case abi.StringTy:
		return raw, nil
	case abi.SliceTy:
		if t.Elem.T != abi.AddressTy {
			return nil, fmt.Errorf("unsupported slice type %s", t.String())
		}
		parts := strings.Split(raw, ",")
		addrs := make([]common.Address, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if !common.IsHexAddress(p) {
				return nil, fmt.Errorf("invalid address %q", p)
			}
			addrs = append(addrs, common.HexToAddress(p))
		}
		return addrs, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %s", t.String())
	}
}

func renderValues(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = renderValue(v)
	}
	return out
}

func renderValue(v any) string {
	switch val := v.(type) {
	case *big.Int:
		return val.String()
	case common.Address:
		return val.Hex()
	case []*big.Int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = n.String()
		}
		return strings.Join(parts, ",")
	case []common.Address:
		parts := make([]string, len(val))
		for i, a := range val {
			parts[i] = a.Hex()
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
