package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Transfer implements web3.Adapter.
func (c *Client) Transfer(ctx context.Context, req web3.TransferRequest) (web3.Receipt, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return web3.Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "transfer amount must be positive")
	}
	if req.To == (common.Address{}) {
		return web3.Receipt{}, xerrors.New(web3.CodeInvalidRecipient, "cannot send to the zero address")
	}
	if !req.Token.Native && req.To == req.Token.Address {
		return web3.Receipt{}, xerrors.New(web3.CodeInvalidRecipient,
			fmt.Sprintf("recipient is the %s contract itself", req.Token.Symbol))
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return web3.Receipt{}, err
	}
	defer release()

	if _, resumed := c.pending.get(req.Key); !resumed {
		if err := c.requireBalance(ctx, req.From, req.Token, req.Amount); err != nil {
			return web3.Receipt{}, err
		}
	}

	msg := gethcore.CallMsg{To: &req.To, Value: new(big.Int).Set(req.Amount)}
	if !req.Token.Native {
		data, err := erc20ABI.Pack("transfer", req.To, req.Amount)
		if err != nil {
			return web3.Receipt{}, xerrors.Wrap(web3.CodeDecodeError, err, "encode transfer")
		}
		msg = gethcore.CallMsg{To: &req.Token.Address, Value: new(big.Int), Data: data}
	}

	receipt, err := c.submit(ctx, req.Key, req.From, msg)
	if err != nil {
		return web3.Receipt{}, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return web3.Receipt{}, xerrors.New(web3.CodeTransactionReverted,
			fmt.Sprintf("transfer %s reverted", receipt.TxHash.Hex()),
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}

	out := web3.Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: blockNumber(receipt),
		GasUsed:     receipt.GasUsed,
		From:        req.From,
		To:          req.To,
		Token:       req.Token,
		Amount:      new(big.Int).Set(req.Amount),
	}
	out.FromBalance, out.ToBalance = c.balancesAfter(ctx, req.Token, req.From, req.To)
	return out, nil
}

// requireBalance fails with INSUFFICIENT_FUNDS before anything is signed.
func (c *Client) requireBalance(ctx context.Context, owner common.Address, token web3.Token, amount *big.Int) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	bal, err := c.balanceOf(callCtx, owner, token)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return xerrors.New(web3.CodeInsufficientFunds,
			fmt.Sprintf("%s holds %s but %s is required",
				c.label(owner), web3.FormatAmount(bal, token), web3.FormatAmount(amount, token)))
	}
	return nil
}

// balancesAfter reads post-transaction balances. The operation already
// succeeded, so read failures leave the corresponding balance nil.
func (c *Client) balancesAfter(ctx context.Context, token web3.Token, owners ...common.Address) (*big.Int, *big.Int) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	out := make([]*big.Int, 2)
	for i, owner := range owners[:min(len(owners), 2)] {
		if bal, err := c.balanceOf(callCtx, owner, token); err == nil {
			out[i] = bal
		}
	}
	return out[0], out[1]
}

func (c *Client) label(addr common.Address) string {
	if name, ok := c.accounts[addr]; ok {
		return name
	}
	return addr.Hex()
}

// submit sends msg from the given account exactly once per key and waits for
// its receipt. A repeated key re-sends the originally signed transaction, or
// returns the stored receipt when it already mined.
func (c *Client) submit(ctx context.Context, key string, from common.Address, msg gethcore.CallMsg) (*coretypes.Receipt, error) {
	if op, ok := c.pending.get(key); ok {
		return c.resume(ctx, key, op)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	msg.From = from
	if msg.Value == nil {
		msg.Value = new(big.Int)
	}
	gas, err := c.backend.EstimateGas(callCtx, msg)
	if err != nil {
		return nil, classify(err, web3.CodeTransactionReverted, "transaction would revert")
	}
	gas += gas / 5

	signer, ok := c.keys[from]
	if !ok {
		return c.submitViaNode(ctx, key, msg, gas)
	}

	tipCap, feeCap, err := c.fees(callCtx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.nonces.reserve(callCtx, c.backend, from)
	if err != nil {
		return nil, classify(err, web3.CodeAdapterFailure, "reserve nonce")
	}
	signed, err := coretypes.SignTx(coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	}), coretypes.LatestSignerForChainID(c.chainID), signer)
	if err != nil {
		c.nonces.reset(from)
		return nil, xerrors.Wrap(web3.CodeAdapterFailure, err, "sign transaction")
	}

	c.pending.put(key, pendingOp{tx: signed, hash: signed.Hash()})
	if err := c.backend.SendTransaction(callCtx, signed); err != nil && !knownTx(err) {
		classified := classify(err, web3.CodeAdapterFailure, "send transaction")
		if !xerrors.HasCode(classified, web3.CodeNetworkError) {
			c.pending.drop(key)
			c.nonces.reset(from)
		}
		return nil, classified
	}
	return c.await(ctx, key, signed.Hash())
}

// submitViaNode asks the node to sign for an unlocked account. The nonce is
// pinned so a re-send after a lost response cannot execute twice.
func (c *Client) submitViaNode(ctx context.Context, key string, msg gethcore.CallMsg, gas uint64) (*coretypes.Receipt, error) {
	if c.raw == nil {
		return nil, xerrors.New(web3.CodeAdapterFailure,
			fmt.Sprintf("no signing key configured for %s", c.label(msg.From)))
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	nonce, err := c.nonces.reserve(callCtx, c.backend, msg.From)
	if err != nil {
		return nil, classify(err, web3.CodeAdapterFailure, "reserve nonce")
	}
	args := map[string]any{
		"from":  msg.From,
		"to":    msg.To,
		"gas":   hexutil.Uint64(gas),
		"value": (*hexutil.Big)(msg.Value),
		"data":  hexutil.Bytes(msg.Data),
		"nonce": hexutil.Uint64(nonce),
	}
	var hash common.Hash
	if err := c.raw.CallContext(callCtx, &hash, "eth_sendTransaction", args); err != nil {
		c.nonces.reset(msg.From)
		classified := classify(err, web3.CodeAdapterFailure, "eth_sendTransaction")
		if xerrors.HasCode(classified, web3.CodeNetworkError) {
			c.pending.put(key, pendingOp{nodeArgs: args})
		}
		return nil, classified
	}
	c.pending.put(key, pendingOp{nodeArgs: args, hash: hash})
	return c.await(ctx, key, hash)
}

func (c *Client) resume(ctx context.Context, key string, op pendingOp) (*coretypes.Receipt, error) {
	if op.receipt != nil {
		return op.receipt, nil
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	switch {
	case op.tx != nil:
		if err := c.backend.SendTransaction(callCtx, op.tx); err != nil && !knownTx(err) && !nonceConsumed(err) {
			return nil, classify(err, web3.CodeAdapterFailure, "re-send transaction")
		}
	case op.hash == (common.Hash{}):
		var hash common.Hash
		if err := c.raw.CallContext(callCtx, &hash, "eth_sendTransaction", op.nodeArgs); err != nil {
			if nonceConsumed(err) || knownTx(err) {
				return nil, xerrors.Wrap(web3.CodeAdapterFailure, err,
					"operation was already submitted; its transaction hash is unknown")
			}
			return nil, classify(err, web3.CodeAdapterFailure, "re-send transaction")
		}
		op.hash = hash
		c.pending.put(key, op)
	}
	return c.await(ctx, key, op.hash)
}

func (c *Client) await(ctx context.Context, key string, hash common.Hash) (*coretypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	receipt, err := c.waitReceipt(waitCtx, hash)
	if err != nil {
		return nil, classify(err, web3.CodeNetworkError, "wait for receipt of "+hash.Hex())
	}
	c.pending.complete(key, receipt)
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if c.commit != nil {
			c.commit()
		}
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fees returns an EIP-1559 tip and fee cap of twice the base fee plus tip.
func (c *Client) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, classify(err, web3.CodeAdapterFailure, "suggest gas tip")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, classify(err, web3.CodeAdapterFailure, "latest header")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tip, feeCap, nil
}

func knownTx(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "already known") || strings.Contains(lower, "already imported")
}

func nonceConsumed(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func blockNumber(r *coretypes.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
