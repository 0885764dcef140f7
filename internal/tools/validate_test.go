package tools

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewDefaultRegistry(web3.MustTokenRegistry(web3.DefaultTokens()...), DefaultSlippageBps)
}

func TestValidateTransferResolvesAliasesAndDecimals(t *testing.T) {
	reg := newTestRegistry(t)
	aliases := AliasMap{"alice": alice, "bob": bob}

	call, err := reg.Validate(Transfer, json.RawMessage(`{"from":"Alice","to":"bob","amount":"1000","token":"usdc"}`), aliases)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if call.Args.Address("from") != alice || call.Args.Address("to") != bob {
		t.Fatalf("unexpected accounts: %v", call.Args.Display())
	}
	if got := call.Args.Amount("amount"); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("expected 1000 USDC in base units, got %s", got)
	}
	want := map[string]string{
		"from":   alice.Hex(),
		"to":     bob.Hex(),
		"amount": "1000.0",
		"token":  "USDC",
	}
	if diff := cmp.Diff(want, call.Args.Display()); diff != "" {
		t.Fatalf("display mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateDefaultsNativeTokenAndSlippage(t *testing.T) {
	reg := newTestRegistry(t)
	call, err := reg.Validate(Swap, json.RawMessage(`{"account":"`+alice.Hex()+`","amount_in":1.5,"token_out":"DAI","extra":true}`), nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if call.Args.Token("token_in").Symbol != web3.NativeSymbol {
		t.Fatalf("expected ETH default, got %s", call.Args.Token("token_in").Symbol)
	}
	if call.Args.Bps("max_slippage_bps") != DefaultSlippageBps {
		t.Fatalf("expected default slippage %d, got %d", DefaultSlippageBps, call.Args.Bps("max_slippage_bps"))
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if call.Args.Amount("amount_in").Cmp(want) != 0 {
		t.Fatalf("unexpected amount %s", call.Args.Amount("amount_in"))
	}
}

func TestValidateErrors(t *testing.T) {
	reg := newTestRegistry(t)
	aliases := AliasMap{"alice": alice}

	cases := []struct {
		name string
		tool string
		args string
		code xerrors.Code
	}{
		{"unknown tool", "mint", `{}`, CodeUnknownTool},
		{"missing recipient", Transfer, `{"from":"alice","amount":"1"}`, CodeMissingArgument},
		{"negative amount", Transfer, `{"from":"alice","to":"alice","amount":"-1"}`, CodeInvalidAmount},
		{"zero amount", Transfer, `{"from":"alice","to":"alice","amount":"0"}`, CodeInvalidAmount},
		{"too many decimals", Transfer, `{"from":"alice","to":"alice","amount":"1.0000001","token":"USDC"}`, CodeInvalidAmount},
		{"unknown alias", Transfer, `{"from":"alice","to":"carol","amount":"1"}`, CodeUnknownAlias},
		{"short address", GetBalance, `{"account":"0x1234"}`, CodeInvalidAddress},
		{"unknown token", GetBalance, `{"account":"alice","token":"DOGE"}`, CodeUnknownToken},
		{"not an object", GetBalance, `[1,2]`, xerrors.CodeInvalidArgument},
		{"slippage out of range", Swap, `{"account":"alice","amount_in":"1","token_out":"DAI","max_slippage_bps":20000}`, xerrors.CodeInvalidArgument},
		{"limit out of range", SearchDocs, `{"query":"fees","limit":50}`, xerrors.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Validate(tc.tool, json.RawMessage(tc.args), aliases)
			if !xerrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if xerrors.CategoryOf(err) != xerrors.CategoryValidation {
				t.Fatalf("expected validation category, got %s", xerrors.CategoryOf(err))
			}
		})
	}
}

func TestUnknownAliasMessageAsksForAddress(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Validate(GetBalance, json.RawMessage(`{"account":"carol"}`), nil)
	if got := xerrors.MessageOf(err); got != `I don't know who "carol" is; please give their 0x address` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParseAddressChecksum(t *testing.T) {
	const valid = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if _, err := ParseAddress(valid); err != nil {
		t.Fatalf("valid checksum rejected: %v", err)
	}
	if _, err := ParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"); err != nil {
		t.Fatalf("lower-case address rejected: %v", err)
	}
	if _, err := ParseAddress("0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); !xerrors.HasCode(err, CodeInvalidAddress) {
		t.Fatalf("bad checksum accepted: %v", err)
	}
	if _, err := ParseAddress("0xZZeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); !xerrors.HasCode(err, CodeInvalidAddress) {
		t.Fatalf("non-hex accepted: %v", err)
	}
}

func TestRegistryRejectsDuplicatesAndDanglingTokenParam(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.Register(Schema{Name: GetBalance}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	bad := Schema{Name: "mint", Params: []Param{{Name: "amount", Type: TypeAmount, TokenParam: "token"}}}
	if err := reg.Register(bad); err == nil {
		t.Fatal("expected dangling token parameter to be rejected")
	}
	if got := len(reg.Schemas()); got != len(Builtin()) {
		t.Fatalf("expected %d schemas, got %d", len(Builtin()), got)
	}
}

func TestSchemaRendering(t *testing.T) {
	reg := newTestRegistry(t)
	s, _ := reg.Lookup(Transfer)
	if got := s.Summary(); got != "transfer(from, to, amount, token?)" {
		t.Fatalf("unexpected summary %q", got)
	}
	js := s.JSONSchema()
	if diff := cmp.Diff([]string{"amount", "from", "to"}, js["required"]); diff != "" {
		t.Fatalf("required mismatch (-want +got):\n%s", diff)
	}
	q, _ := reg.Lookup(QueryContract)
	args := q.JSONSchema()["properties"].(map[string]any)["args"].(map[string]any)
	if args["type"] != "array" {
		t.Fatalf("expected array type for args, got %v", args["type"])
	}
}
