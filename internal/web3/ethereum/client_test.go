package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

const simpleContractBin = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"

var oneEther = big.NewInt(1_000_000_000_000_000_000)

type simEnv struct {
	backend *simulated.Backend
	client  *Client
	aliceK  *ecdsa.PrivateKey
	alice   common.Address
	bob     common.Address
}

func newSimEnv(t *testing.T) *simEnv {
	t.Helper()
	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	bobKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)

	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		alice: {Balance: new(big.Int).Mul(oneEther, big.NewInt(10))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := NewSimulatedClient(ctx, backend, Config{
		Name: "simulated",
		Accounts: []web3.Account{
			{Name: "alice", Address: alice, Key: aliceKey},
			{Name: "bob", Address: bob},
		},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new simulated client: %v", err)
	}
	t.Cleanup(client.Close)
	return &simEnv{backend: backend, client: client, aliceK: aliceKey, alice: alice, bob: bob}
}

func TestSimulatedBalanceAndTransfer(t *testing.T) {
	env := newSimEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	eth := web3.NativeToken()

	bal, err := env.client.GetBalance(ctx, env.alice, eth)
	if err != nil {
		t.Fatalf("alice balance: %v", err)
	}
	if bal.Formatted() != "10.0 ETH" {
		t.Fatalf("unexpected balance %s", bal.Formatted())
	}

	// bob is a configured account without history: zero, not ADDRESS_NOT_FOUND.
	bobBal, err := env.client.GetBalance(ctx, env.bob, eth)
	if err != nil || bobBal.Raw.Sign() != 0 {
		t.Fatalf("expected zero balance for bob, got %v %v", bobBal.Raw, err)
	}

	req := web3.TransferRequest{Key: "s1:1", From: env.alice, To: env.bob, Amount: oneEther, Token: eth}
	receipt, err := env.client.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.TxHash == (common.Hash{}) || receipt.ToBalance.Cmp(oneEther) != 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.FromBalance.Cmp(new(big.Int).Mul(oneEther, big.NewInt(9))) >= 0 {
		t.Fatalf("sender balance should drop below 9 ETH after value and gas, got %s", receipt.FromBalance)
	}

	again, err := env.client.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("repeat transfer: %v", err)
	}
	if again.TxHash != receipt.TxHash {
		t.Fatalf("same key must not submit a second transaction: %s vs %s", again.TxHash.Hex(), receipt.TxHash.Hex())
	}
	bobBal, err = env.client.GetBalance(ctx, env.bob, eth)
	if err != nil || bobBal.Raw.Cmp(oneEther) != 0 {
		t.Fatalf("bob should hold exactly 1 ETH, got %v %v", bobBal.Raw, err)
	}

	second, err := env.client.Transfer(ctx, web3.TransferRequest{Key: "s1:2", From: env.alice, To: env.bob, Amount: oneEther, Token: eth})
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if second.TxHash == receipt.TxHash {
		t.Fatal("a new key must produce a new transaction")
	}
}

func TestSimulatedTransferFailures(t *testing.T) {
	env := newSimEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eth := web3.NativeToken()

	_, err := env.client.Transfer(ctx, web3.TransferRequest{
		Key: "s:1", From: env.alice, To: env.bob,
		Amount: new(big.Int).Mul(oneEther, big.NewInt(100)), Token: eth,
	})
	if xerrors.CodeOf(err) != web3.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}

	_, err = env.client.Transfer(ctx, web3.TransferRequest{Key: "s:2", From: env.alice, Amount: oneEther, Token: eth})
	if xerrors.CodeOf(err) != web3.CodeInvalidRecipient {
		t.Fatalf("expected INVALID_RECIPIENT, got %v", err)
	}

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	if _, err := env.client.GetBalance(ctx, stranger, eth); xerrors.CodeOf(err) != web3.CodeAddressNotFound {
		t.Fatalf("expected ADDRESS_NOT_FOUND, got %v", err)
	}
}

func TestSimulatedContractQueries(t *testing.T) {
	env := newSimEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	contract := deploy(t, ctx, env, common.FromHex(simpleContractBin))

	isContract, err := env.client.IsContract(ctx, contract)
	if err != nil || !isContract {
		t.Fatalf("expected contract at %s: %v", contract.Hex(), err)
	}
	if isContract, _ := env.client.IsContract(ctx, env.bob); isContract {
		t.Fatal("bob is an EOA")
	}

	if _, err := env.client.QueryContract(ctx, env.bob, "decimals", nil); xerrors.CodeOf(err) != web3.CodeContractNotFound {
		t.Fatalf("expected CONTRACT_NOT_FOUND, got %v", err)
	}
	// The contract returns no data for any selector.
	if _, err := env.client.QueryContract(ctx, contract, "decimals", nil); xerrors.CodeOf(err) != web3.CodeDecodeError {
		t.Fatalf("expected DECODE_ERROR, got %v", err)
	}
	if _, err := env.client.QueryContract(ctx, contract, "balanceOf", []string{"not-an-address"}); xerrors.CodeOf(err) != web3.CodeDecodeError {
		t.Fatalf("expected DECODE_ERROR for bad argument, got %v", err)
	}
	if _, err := env.client.QueryContract(ctx, contract, "transfer", []string{env.bob.Hex(), "1"}); xerrors.CodeOf(err) != web3.CodeDecodeError {
		t.Fatalf("state-changing methods are not queryable, got %v", err)
	}
}

func deploy(t *testing.T, ctx context.Context, env *simEnv, code []byte) common.Address {
	t.Helper()
	client := env.backend.Client()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	nonce, err := client.PendingNonceAt(ctx, env.alice)
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("latest header: %v", err)
	}
	tip := big.NewInt(1_000_000_000)
	tx, err := coretypes.SignTx(coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip),
		Gas:       1_000_000,
		Data:      code,
	}), coretypes.LatestSignerForChainID(chainID), env.aliceK)
	if err != nil {
		t.Fatalf("sign deploy: %v", err)
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send deploy: %v", err)
	}
	env.backend.Commit()
	receipt, err := client.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("deploy receipt: %v", err)
	}
	// the adapter's nonce tracker synced before this deployment
	env.client.nonces.reset(env.alice)
	return receipt.ContractAddress
}
