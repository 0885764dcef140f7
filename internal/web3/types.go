package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter is the boundary between the agent and a blockchain node. Every
// error returned carries one of the codes in errors.go.
type Adapter interface {
	// GetBalance reports the balance of address in token. A zero balance is
	// returned for known addresses; ADDRESS_NOT_FOUND is reserved for
	// addresses the chain has never observed.
	GetBalance(ctx context.Context, address common.Address, token Token) (Balance, error)
	Transfer(ctx context.Context, req TransferRequest) (Receipt, error)
	Swap(ctx context.Context, req SwapRequest) (SwapReceipt, error)
	QueryContract(ctx context.Context, address common.Address, method string, args []string) (ContractResult, error)
	IsContract(ctx context.Context, address common.Address) (bool, error)
	Close()
}

// Balance is an exact balance in base units.
type Balance struct {
	Address common.Address `json:"address"`
	Token   Token          `json:"token"`
	Raw     *big.Int       `json:"raw"`
}

// Formatted renders the balance such as "1000.0 USDC".
func (b Balance) Formatted() string {
	return FormatAmount(b.Raw, b.Token)
}

// TransferRequest moves Amount base units of Token from From to To. Key
// identifies the logical operation: retries with the same key never
// submit a second transaction.
type TransferRequest struct {
	Key    string
	From   common.Address
	To     common.Address
	Amount *big.Int
	Token  Token
}

// Receipt is the outcome of a mined transfer.
type Receipt struct {
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	GasUsed     uint64         `json:"gas_used"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Token       Token          `json:"token"`
	Amount      *big.Int       `json:"amount"`
	FromBalance *big.Int       `json:"from_balance"`
	ToBalance   *big.Int       `json:"to_balance"`
}

// SwapRequest trades AmountIn of TokenIn for TokenOut on behalf of Account.
// The trade reverts when the output falls more than MaxSlippageBps below
// the quote taken immediately before submission.
type SwapRequest struct {
	Key            string
	Account        common.Address
	AmountIn       *big.Int
	TokenIn        Token
	TokenOut       Token
	MaxSlippageBps uint32
}

// SwapReceipt is the outcome of a mined swap.
type SwapReceipt struct {
	TxHash       common.Hash      `json:"tx_hash"`
	BlockNumber  uint64           `json:"block_number"`
	Account      common.Address   `json:"account"`
	TokenIn      Token            `json:"token_in"`
	TokenOut     Token            `json:"token_out"`
	AmountIn     *big.Int         `json:"amount_in"`
	QuotedOut    *big.Int         `json:"quoted_out"`
	MinAmountOut *big.Int         `json:"min_amount_out"`
	Path         []common.Address `json:"path"`
	BalanceIn    *big.Int         `json:"balance_in"`
	BalanceOut   *big.Int         `json:"balance_out"`
}

// ContractResult holds the decoded outputs of a read-only contract call.
type ContractResult struct {
	Address common.Address `json:"address"`
	Method  string         `json:"method"`
	Outputs []string       `json:"outputs"`
}

// MinimumOut applies a slippage bound in basis points to a quoted amount,
// rounding down.
func MinimumOut(quoted *big.Int, bps uint32) *big.Int {
	if quoted == nil {
		return new(big.Int)
	}
	if bps > 10_000 {
		bps = 10_000
	}
	out := new(big.Int).Mul(quoted, big.NewInt(int64(10_000-bps)))
	return out.Quo(out, big.NewInt(10_000))
}
