package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// AliasResolver resolves a human alias such as "alice" to an address.
type AliasResolver interface {
	Resolve(alias string) (common.Address, bool)
}

// AliasMap is an AliasResolver over a plain map with lower-case keys.
type AliasMap map[string]common.Address

// Resolve implements AliasResolver.
func (m AliasMap) Resolve(alias string) (common.Address, bool) {
	addr, ok := m[strings.ToLower(strings.TrimSpace(alias))]
	return addr, ok
}

// Call is a validated tool invocation.
type Call struct {
	Tool Schema
	Args Args
}

// Validate checks raw JSON arguments against the named tool's schema and
// converts them into typed values. It performs no I/O: addresses are checked
// syntactically, aliases go through the resolver and amounts are converted
// exactly to base units. Parameters the schema does not declare are ignored.
func (r *Registry) Validate(name string, raw json.RawMessage, aliases AliasResolver) (Call, error) {
	schema, ok := r.Lookup(name)
	if !ok {
		return Call{}, xerrors.New(CodeUnknownTool, fmt.Sprintf("no tool named %q", name),
			xerrors.WithMetadata("tool", name))
	}

	input, err := decodeObject(raw)
	if err != nil {
		return Call{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("%s arguments must be a JSON object", name))
	}

	args := Args{values: make(map[string]any, len(schema.Params)), display: make(map[string]string, len(schema.Params))}

	// Amounts depend on their token's decimals, so they are resolved last.
	var amounts []Param
	for _, p := range schema.Params {
		if p.Type == TypeAmount {
			amounts = append(amounts, p)
			continue
		}
		if err := r.bind(&args, p, input, aliases); err != nil {
			return Call{}, err
		}
	}
	for _, p := range amounts {
		if err := r.bind(&args, p, input, aliases); err != nil {
			return Call{}, err
		}
	}
	return Call{Tool: schema, Args: args}, nil
}

func (r *Registry) bind(args *Args, p Param, input map[string]any, aliases AliasResolver) error {
	v, present := input[p.Name]
	if present && v == nil {
		present = false
	}
	if !present {
		def := p.Default
		if def == "" && p.Type == TypeBps {
			def = strconv.FormatUint(uint64(r.defaultSlippage), 10)
		}
		switch {
		case def != "":
			v = def
		case p.Required:
			return xerrors.New(CodeMissingArgument, fmt.Sprintf("%s is required", p.Name),
				xerrors.WithMetadata("param", p.Name))
		default:
			return nil
		}
	}

	switch p.Type {
	case TypeAccount:
		s, err := asString(p, v)
		if err != nil {
			return err
		}
		addr, err := resolveAccount(s, aliases)
		if err != nil {
			return err
		}
		args.set(p.Name, addr, addr.Hex())
	case TypeAddress:
		s, err := asString(p, v)
		if err != nil {
			return err
		}
		addr, err := ParseAddress(s)
		if err != nil {
			return err
		}
		args.set(p.Name, addr, addr.Hex())
	case TypeToken:
		s, err := asString(p, v)
		if err != nil {
			return err
		}
		tok, ok := r.tokens.Lookup(s)
		if !ok {
			return xerrors.New(CodeUnknownToken,
				fmt.Sprintf("unknown token %q; supported: %s", s, r.supportedSymbols()),
				xerrors.WithMetadata("token", s))
		}
		args.set(p.Name, tok, tok.Symbol)
	case TypeAmount:
		tok := web3.NativeToken()
		if p.TokenParam != "" {
			if t, ok := args.values[p.TokenParam].(web3.Token); ok {
				tok = t
			}
		}
		amount, err := parseAmount(v, tok)
		if err != nil {
			return xerrors.Wrap(CodeInvalidAmount, err, fmt.Sprintf("%s: %v", p.Name, err),
				xerrors.WithMetadata("param", p.Name))
		}
		args.set(p.Name, amount, web3.FormatUnits(amount, tok.Decimals))
	case TypeBps:
		n, err := asInteger(p, v)
		if err != nil {
			return err
		}
		if n < 0 || n > 10_000 {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("%s must be between 0 and 10000 basis points", p.Name))
		}
		args.set(p.Name, uint32(n), strconv.FormatInt(n, 10))
	case TypeInteger:
		n, err := asInteger(p, v)
		if err != nil {
			return err
		}
		if (p.Min != 0 && n < p.Min) || (p.Max != 0 && n > p.Max) {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("%s must be between %d and %d", p.Name, p.Min, p.Max))
		}
		args.set(p.Name, n, strconv.FormatInt(n, 10))
	case TypeString:
		s, err := asString(p, v)
		if err != nil {
			return err
		}
		args.set(p.Name, s, s)
	case TypeStrings:
		list, err := asStrings(p, v)
		if err != nil {
			return err
		}
		args.set(p.Name, list, strings.Join(list, ","))
	default:
		return fmt.Errorf("tool parameter %s has unsupported type %s", p.Name, p.Type)
	}
	return nil
}

func (r *Registry) supportedSymbols() string {
	all := r.tokens.All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Symbol
	}
	return strings.Join(names, ", ")
}

// ParseAddress accepts "0x" followed by 40 hex digits. Mixed-case input must
// carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") || !isHex(s[2:]) {
		return common.Address{}, xerrors.New(CodeInvalidAddress,
			fmt.Sprintf("%q is not 0x followed by 40 hex digits", s))
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if strings.ToLower(body) != body && strings.ToUpper(body) != body && addr.Hex() != s {
		return common.Address{}, xerrors.New(CodeInvalidAddress,
			fmt.Sprintf("%s fails its EIP-55 checksum", s))
	}
	return addr, nil
}

func resolveAccount(s string, aliases AliasResolver) (common.Address, error) {
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return ParseAddress(s)
	}
	if aliases != nil {
		if addr, ok := aliases.Resolve(s); ok {
			return addr, nil
		}
	}
	return common.Address{}, xerrors.New(CodeUnknownAlias,
		fmt.Sprintf("I don't know who %q is; please give their 0x address", s),
		xerrors.WithMetadata("alias", s))
}

func parseAmount(v any, tok web3.Token) (*big.Int, error) {
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = val
	default:
		return nil, fmt.Errorf("expected a decimal number, got %T", v)
	}
	return web3.ParseUnits(s, tok.Decimals)
}

func asString(p Param, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s must be a string", p.Name))
	}
	s = strings.TrimSpace(s)
	if s == "" && p.Required {
		return "", xerrors.New(CodeMissingArgument, fmt.Sprintf("%s is required", p.Name),
			xerrors.WithMetadata("param", p.Name))
	}
	return s, nil
}

func asInteger(p Param, v any) (int64, error) {
	var (
		n   int64
		err error
	)
	switch val := v.(type) {
	case json.Number:
		n, err = val.Int64()
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	default:
		err = fmt.Errorf("got %T", v)
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s must be an integer", p.Name))
	}
	return n, nil
}

func asStrings(p Param, v any) ([]string, error) {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			switch s := item.(type) {
			case string:
				out = append(out, strings.TrimSpace(s))
			case json.Number:
				out = append(out, s.String())
			default:
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s must be a list of strings", p.Name))
			}
		}
		return out, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s must be a list of strings", p.Name))
	}
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("arguments are not an object")
	}
	return out, nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
