package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const swapDeadline = time.Hour

// Swap implements web3.Adapter through a Uniswap V2 style router. Token
// inputs are approved for the router first; the minimum output is the quote
// reduced by MaxSlippageBps.
func (c *Client) Swap(ctx context.Context, req web3.SwapRequest) (web3.SwapReceipt, error) {
	if c.router == (common.Address{}) {
		return web3.SwapReceipt{}, xerrors.New(web3.CodeAdapterFailure,
			fmt.Sprintf("chain %s has no swap router configured", c.name))
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return web3.SwapReceipt{}, xerrors.New(xerrors.CodeInvalidArgument, "swap amount must be positive")
	}
	path, err := c.swapPath(req.TokenIn, req.TokenOut)
	if err != nil {
		return web3.SwapReceipt{}, err
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	defer release()

	_, resumed := c.pending.get(req.Key)
	if !resumed {
		if err := c.requireBalance(ctx, req.Account, req.TokenIn, req.AmountIn); err != nil {
			return web3.SwapReceipt{}, err
		}
	}

	quoted, err := c.quote(ctx, req.AmountIn, path)
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	minOut := web3.MinimumOut(quoted, req.MaxSlippageBps)

	if !req.TokenIn.Native && !resumed {
		if err := c.ensureAllowance(ctx, req.Key+":approve", req.Account, req.TokenIn, req.AmountIn); err != nil {
			return web3.SwapReceipt{}, err
		}
	}

	deadline := big.NewInt(c.now().Add(swapDeadline).Unix())
	var (
		data  []byte
		value = new(big.Int)
	)
	switch {
	case req.TokenIn.Native:
		data, err = routerABI.Pack("swapExactETHForTokens", minOut, path, req.Account, deadline)
		value.Set(req.AmountIn)
	case req.TokenOut.Native:
		data, err = routerABI.Pack("swapExactTokensForETH", req.AmountIn, minOut, path, req.Account, deadline)
	default:
		data, err = routerABI.Pack("swapExactTokensForTokens", req.AmountIn, minOut, path, req.Account, deadline)
	}
	if err != nil {
		return web3.SwapReceipt{}, xerrors.Wrap(web3.CodeDecodeError, err, "encode swap")
	}

	receipt, err := c.submit(ctx, req.Key, req.Account, gethcore.CallMsg{To: &c.router, Value: value, Data: data})
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		// The router only reverts after a successful estimate when the
		// price moved between estimation and inclusion.
		return web3.SwapReceipt{}, xerrors.New(web3.CodeSlippageExceeded,
			fmt.Sprintf("swap %s reverted below the minimum output", receipt.TxHash.Hex()),
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}

	out := web3.SwapReceipt{
		TxHash:       receipt.TxHash,
		BlockNumber:  blockNumber(receipt),
		Account:      req.Account,
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     new(big.Int).Set(req.AmountIn),
		QuotedOut:    quoted,
		MinAmountOut: minOut,
		Path:         path,
	}
	out.BalanceIn, _ = c.balancesAfter(ctx, req.TokenIn, req.Account)
	out.BalanceOut, _ = c.balancesAfter(ctx, req.TokenOut, req.Account)
	return out, nil
}

// swapPath maps native ETH to WETH and routes pairs without WETH through it.
func (c *Client) swapPath(in, out web3.Token) ([]common.Address, error) {
	if c.weth == (common.Address{}) && (in.Native || out.Native) {
		return nil, xerrors.New(web3.CodeAdapterFailure, "WETH address not configured")
	}
	a, b := in.Address, out.Address
	if in.Native {
		a = c.weth
	}
	if out.Native {
		b = c.weth
	}
	if a == b {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("cannot swap %s for %s", in.Symbol, out.Symbol))
	}
	if a == c.weth || b == c.weth {
		return []common.Address{a, b}, nil
	}
	return []common.Address{a, c.weth, b}, nil
}

func (c *Client) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeDecodeError, err, "encode quote")
	}
	out, err := c.backend.CallContract(callCtx, gethcore.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return nil, classify(err, web3.CodeInsufficientLiquidity, "no route for this pair")
	}
	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil || len(values) != 1 {
		return nil, xerrors.Wrap(web3.CodeInsufficientLiquidity, err, "router returned no quote")
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) != len(path) || amounts[len(amounts)-1].Sign() == 0 {
		return nil, xerrors.New(web3.CodeInsufficientLiquidity, "router quoted zero output")
	}
	return amounts[len(amounts)-1], nil
}

// ensureAllowance approves the router for amount when the current allowance
// is lower.
func (c *Client) ensureAllowance(ctx context.Context, key string, owner common.Address, token web3.Token, amount *big.Int) error {
	callCtx, cancel := c.callContext(ctx)
	allowance, err := c.callUint(callCtx, token, "allowance", owner, c.router)
	cancel()
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	data, err := erc20ABI.Pack("approve", c.router, amount)
	if err != nil {
		return xerrors.Wrap(web3.CodeDecodeError, err, "encode approve")
	}
	receipt, err := c.submit(ctx, key, owner, gethcore.CallMsg{To: &token.Address, Value: new(big.Int), Data: data})
	if err != nil {
		return err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return xerrors.New(web3.CodeTransactionReverted,
			fmt.Sprintf("approve %s for router reverted", token.Symbol))
	}
	return nil
}
