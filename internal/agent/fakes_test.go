package agent

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/pricefeed"
	"ChainPilot/internal/websearch"
)

var (
	aliceAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bobAddr   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// scriptedReasoner 依次返回预设的推理结果，超出脚本时回显最后一条工具结果。
type scriptedReasoner struct {
	mu       sync.Mutex
	steps    []func(llm.Request) (llm.Result, error)
	requests []llm.Request
}

func (s *scriptedReasoner) Complete(_ context.Context, req llm.Request) (llm.Result, error) {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if idx < len(s.steps) {
		return s.steps[idx](req)
	}
	return echoLastTool(req)
}

func (s *scriptedReasoner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedReasoner) request(i int) llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func toolCall(name, args string) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) {
		return llm.ToolCallRequest{ID: "call-" + name, Name: name, RawArgs: json.RawMessage(args)}, nil
	}
}

func text(s string) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) { return llm.TextResult{Text: s}, nil }
}

func fail(err error) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) { return nil, err }
}

func echoLastTool(req llm.Request) (llm.Result, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleTool {
			return llm.TextResult{Text: "Result: " + req.Messages[i].Content}, nil
		}
	}
	return llm.TextResult{Text: "nothing to report"}, nil
}

// fakeAdapter 记录每个方法的调用次数，行为由可选的钩子函数决定。
type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int
	keys  []string

	balance  func(n int, addr common.Address, tok web3.Token) (web3.Balance, error)
	transfer func(n int, ctx context.Context, req web3.TransferRequest) (web3.Receipt, error)
	swap     func(n int, req web3.SwapRequest) (web3.SwapReceipt, error)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{calls: make(map[string]int)}
}

func (f *fakeAdapter) hit(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.calls[method]
}

func (f *fakeAdapter) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAdapter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAdapter) GetBalance(_ context.Context, addr common.Address, tok web3.Token) (web3.Balance, error) {
	n := f.hit("GetBalance")
	if f.balance != nil {
		return f.balance(n, addr, tok)
	}
	return web3.Balance{Address: addr, Token: tok, Raw: big.NewInt(0)}, nil
}

func (f *fakeAdapter) Transfer(ctx context.Context, req web3.TransferRequest) (web3.Receipt, error) {
	n := f.hit("Transfer")
	f.mu.Lock()
	f.keys = append(f.keys, req.Key)
	f.mu.Unlock()
	if f.transfer != nil {
		return f.transfer(n, ctx, req)
	}
	return web3.Receipt{From: req.From, To: req.To, Token: req.Token, Amount: req.Amount,
		FromBalance: big.NewInt(0), ToBalance: req.Amount}, nil
}

func (f *fakeAdapter) Swap(_ context.Context, req web3.SwapRequest) (web3.SwapReceipt, error) {
	n := f.hit("Swap")
	if f.swap != nil {
		return f.swap(n, req)
	}
	return web3.SwapReceipt{Account: req.Account, TokenIn: req.TokenIn, TokenOut: req.TokenOut, AmountIn: req.AmountIn}, nil
}

func (f *fakeAdapter) QueryContract(_ context.Context, addr common.Address, method string, _ []string) (web3.ContractResult, error) {
	f.hit("QueryContract")
	return web3.ContractResult{Address: addr, Method: method, Outputs: []string{"USDC"}}, nil
}

func (f *fakeAdapter) IsContract(context.Context, common.Address) (bool, error) {
	f.hit("IsContract")
	return true, nil
}

func (f *fakeAdapter) Close() {}

type stubRetriever struct {
	passages []knowledge.Passage
	err      error
}

func (s stubRetriever) Retrieve(context.Context, string, int) ([]knowledge.Passage, error) {
	return s.passages, s.err
}

type stubPrices struct{ usd float64 }

func (s stubPrices) Price(_ context.Context, tok web3.Token) (pricefeed.Quote, error) {
	return pricefeed.Quote{Symbol: tok.Symbol, USD: s.usd}, nil
}

// stubSearch 记录最后一次查询并返回固定结果。
type stubSearch struct {
	query   string
	count   int
	results []websearch.Result
}

func (s *stubSearch) Search(_ context.Context, query string, count int) ([]websearch.Result, error) {
	s.query, s.count = query, count
	return s.results, nil
}
