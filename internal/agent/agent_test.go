package agent

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/session"
	"ChainPilot/internal/tools"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/websearch"
)

func TestMain(m *testing.M) {
	// genai 依赖的 opencensus 在 init 中启动常驻 worker。
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestAgent(r llm.Reasoner, chain web3.Adapter, opts ...Option) *Agent {
	sessions := session.NewManager(session.WithDefaultAliases(map[string]common.Address{
		"alice": aliceAddr,
		"bob":   bobAddr,
	}))
	opts = append([]Option{WithRetryBackoff(time.Millisecond)}, opts...)
	return New(r, tools.NewDefaultRegistry(nil, tools.DefaultSlippageBps), chain, sessions, opts...)
}

func TestInformationalUtteranceNeverDispatches(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){text("Uniswap is an AMM.")}}
	chain := newFakeAdapter()
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "What is Uniswap?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := []State{StateAwaitingInput, StateGrounding, StateReasoning, StateResponding, StateAwaitingInput}
	if diff := cmp.Diff(want, reply.States); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}
	if reply.Classification != Informational || reply.Text != "Uniswap is an AMM." {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if chain.total() != 0 || len(reply.Invocations) != 0 {
		t.Fatalf("informational utterance must not dispatch tools")
	}

	tr, _ := ag.Transcript("s")
	var kinds []session.Kind
	for _, turn := range tr.Turns {
		kinds = append(kinds, turn.Kind)
	}
	if diff := cmp.Diff([]session.Kind{session.KindUtterance, session.KindGrounding, session.KindReply, session.KindTurnEnd}, kinds); diff != "" {
		t.Fatalf("turn kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestReasonerReceivesPromptAndCatalog(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){text("ok"), text("ok")}}
	ag := newTestAgent(reasoner, newFakeAdapter())
	if _, err := ag.Handle(context.Background(), "s", "hi"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	req := reasoner.request(0)
	if req.System != llm.DefaultSystemPrompt {
		t.Fatalf("system prompt = %q", req.System)
	}
	var names []string
	for _, spec := range req.Tools {
		names = append(names, spec.Name)
	}
	if !slices.Contains(names, "get_balance") || !slices.Contains(names, "transfer") {
		t.Fatalf("tool catalog missing core tools: %v", names)
	}

	custom := newTestAgent(reasoner, newFakeAdapter(), WithSystemPrompt("be brief"))
	if _, err := custom.Handle(context.Background(), "s", "hi"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := reasoner.request(1).System; got != "be brief" {
		t.Fatalf("system prompt override = %q", got)
	}
}

func TestNilRegistryUsesDefaultSlippage(t *testing.T) {
	ag := New(&scriptedReasoner{}, nil, newFakeAdapter(), nil)
	if got := ag.tools.DefaultSlippageBps(); got != tools.DefaultSlippageBps {
		t.Fatalf("default registry slippage = %d, want %d", got, tools.DefaultSlippageBps)
	}
}

func TestBalanceRoundTripRendersTokenUnits(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.GetBalance, `{"account":"alice","token":"USDC"}`),
	}}
	chain := newFakeAdapter()
	chain.balance = func(_ int, addr common.Address, tok web3.Token) (web3.Balance, error) {
		return web3.Balance{Address: addr, Token: tok, Raw: big.NewInt(1_000_000_000)}, nil
	}
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "How much USDC does alice have?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply.Text, "1000.0 USDC") {
		t.Fatalf("expected formatted balance in reply, got %q", reply.Text)
	}
	if reply.Classification != ToolAssisted {
		t.Fatalf("expected tool_assisted, got %s", reply.Classification)
	}
	want := []State{
		StateAwaitingInput, StateGrounding, StateReasoning, StateToolDispatch,
		StateAwaitingToolResult, StateReasoning, StateResponding, StateAwaitingInput,
	}
	if diff := cmp.Diff(want, reply.States); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}

	tr, _ := ag.Transcript("s")
	if len(tr.Turns) != len(reply.States)-1 {
		t.Fatalf("expected one turn per transition, got %d turns for %d states", len(tr.Turns), len(reply.States))
	}
	if len(tr.Invocations) != 1 || tr.Invocations[0].Status != session.StatusSucceeded {
		t.Fatalf("unexpected invocations %+v", tr.Invocations)
	}
	if got := tr.Invocations[0].Summary; got != "alice holds 1000.0 USDC" {
		t.Fatalf("unexpected summary %q", got)
	}

	second := reasoner.request(1)
	if len(second.Messages) != 3 || second.Messages[1].ToolCall == nil || second.Messages[2].ToolCallID != "call-get_balance" {
		t.Fatalf("tool round-trip not reflected in reasoning input: %+v", second.Messages)
	}
}

func TestInvalidArgumentsNeverReachAdapter(t *testing.T) {
	cases := []struct {
		name string
		tool string
		args string
		code xerrors.Code
	}{
		{"negative amount", tools.Transfer, `{"from":"alice","to":"bob","amount":"-1"}`, tools.CodeInvalidAmount},
		{"unknown alias", tools.Transfer, `{"from":"alice","to":"zed","amount":"1"}`, tools.CodeUnknownAlias},
		{"unknown tool", "mint", `{}`, tools.CodeUnknownTool},
		{"missing argument", tools.GetBalance, `{}`, tools.CodeMissingArgument},
		{"unknown token", tools.Swap, `{"account":"alice","amount_in":"1","token_out":"DOGE"}`, tools.CodeUnknownToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){toolCall(tc.tool, tc.args)}}
			chain := newFakeAdapter()
			ag := newTestAgent(reasoner, chain)

			reply, err := ag.Handle(context.Background(), "s", "do it")
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if chain.total() != 0 {
				t.Fatalf("adapter called %d times", chain.total())
			}
			if reply.Code != string(tc.code) {
				t.Fatalf("expected code %s, got %q (%s)", tc.code, reply.Code, reply.Text)
			}
			if len(reply.Invocations) != 0 {
				t.Fatalf("validation failure must not create an invocation")
			}
			if tr, _ := ag.Transcript("s"); len(tr.Invocations) != 0 {
				t.Fatalf("transcript holds %d invocations", len(tr.Invocations))
			}
			tail := reply.States[len(reply.States)-3:]
			if diff := cmp.Diff([]State{StateToolDispatch, StateResponding, StateAwaitingInput}, tail); diff != "" {
				t.Fatalf("expected clarification straight after dispatch (-want +got):\n%s", diff)
			}
			if reasoner.calls() != 1 {
				t.Fatalf("expected a single reasoning call, got %d", reasoner.calls())
			}
		})
	}
}

func TestTurnBudgetIsNeverExceeded(t *testing.T) {
	call := toolCall(tools.GetBalance, `{"account":"alice"}`)
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){call, call, call, call}}
	chain := newFakeAdapter()
	ag := newTestAgent(reasoner, chain, WithTurnBudget(2))

	reply, err := ag.Handle(context.Background(), "s", "loop forever")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Code != string(CodeBudgetExceeded) {
		t.Fatalf("expected budget code, got %q", reply.Code)
	}
	if chain.count("GetBalance") != 2 || len(reply.Invocations) != 2 {
		t.Fatalf("expected exactly 2 round-trips, adapter=%d invocations=%d", chain.count("GetBalance"), len(reply.Invocations))
	}
	for i, inv := range reply.Invocations {
		if inv.Seq != i+1 {
			t.Fatalf("invocation %d has seq %d", i, inv.Seq)
		}
	}
	if reasoner.calls() != 3 {
		t.Fatalf("expected 3 reasoning calls, got %d", reasoner.calls())
	}
}

func TestInsufficientFundsIsSurfacedWithoutRetry(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.Transfer, `{"from":"alice","to":"bob","amount":"5000"}`),
	}}
	chain := newFakeAdapter()
	chain.transfer = func(int, context.Context, web3.TransferRequest) (web3.Receipt, error) {
		return web3.Receipt{}, xerrors.New(web3.CodeInsufficientFunds, "")
	}
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "send 5000 ETH to bob")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chain.count("Transfer") != 1 {
		t.Fatalf("insufficient funds must not be retried, got %d calls", chain.count("Transfer"))
	}
	if !strings.Contains(strings.ToLower(reply.Text), "insufficient funds") {
		t.Fatalf("reply should mention insufficient funds: %q", reply.Text)
	}
	inv := reply.Invocations[0]
	if inv.Status != session.StatusFailed || inv.Error == nil || inv.Error.Code != string(web3.CodeInsufficientFunds) {
		t.Fatalf("unexpected invocation %+v", inv)
	}
}

func TestNetworkErrorIsRetriedOnceWithSameKey(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.Transfer, `{"from":"alice","to":"bob","amount":"1.5"}`),
	}}
	chain := newFakeAdapter()
	chain.transfer = func(n int, _ context.Context, req web3.TransferRequest) (web3.Receipt, error) {
		if n == 1 {
			return web3.Receipt{}, xerrors.New(web3.CodeNetworkError, "")
		}
		return web3.Receipt{From: req.From, To: req.To, Token: req.Token, Amount: req.Amount,
			FromBalance: big.NewInt(0), ToBalance: req.Amount}, nil
	}
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "send 1.5 ETH to bob")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if diff := cmp.Diff([]string{"s:1", "s:1"}, chain.keys); diff != "" {
		t.Fatalf("retry must reuse the idempotency key (-want +got):\n%s", diff)
	}
	if reply.Invocations[0].Status != session.StatusSucceeded {
		t.Fatalf("expected success after retry, got %+v", reply.Invocations[0])
	}
}

func TestNetworkErrorFailsAfterSingleRetry(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.GetBalance, `{"account":"bob"}`),
	}}
	chain := newFakeAdapter()
	chain.balance = func(int, common.Address, web3.Token) (web3.Balance, error) {
		return web3.Balance{}, xerrors.New(web3.CodeNetworkError, "")
	}
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "bob balance")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chain.count("GetBalance") != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", chain.count("GetBalance"))
	}
	if got := reply.Invocations[0].Error; got == nil || got.Code != string(web3.CodeNetworkError) {
		t.Fatalf("unexpected error descriptor %+v", got)
	}
}

func TestSlippageExceededIsNeverResubmitted(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.Swap, `{"account":"alice","amount_in":"1","token_out":"USDC"}`),
	}}
	chain := newFakeAdapter()
	var bps uint32
	chain.swap = func(_ int, req web3.SwapRequest) (web3.SwapReceipt, error) {
		bps = req.MaxSlippageBps
		return web3.SwapReceipt{}, xerrors.New(web3.CodeSlippageExceeded, "")
	}
	ag := newTestAgent(reasoner, chain)

	reply, err := ag.Handle(context.Background(), "s", "swap 1 ETH to USDC")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chain.count("Swap") != 1 {
		t.Fatalf("slippage failure must not be resubmitted, got %d swaps", chain.count("Swap"))
	}
	if bps != 50 {
		t.Fatalf("expected default slippage 50 bps, got %d", bps)
	}
	if got := reply.Invocations[0].Error; got == nil || got.Code != string(web3.CodeSlippageExceeded) {
		t.Fatalf("unexpected error descriptor %+v", got)
	}
	if !strings.Contains(reply.Text, string(web3.CodeSlippageExceeded)) {
		t.Fatalf("failure should be surfaced to reasoning: %q", reply.Text)
	}
}

func TestEmbeddingUnavailableAnswersUngrounded(t *testing.T) {
	index := knowledge.NewIndex(knowledge.Passage{ID: "uniswap-v2/router.md#0", Text: "swapExactETHForTokens", Embedding: []float32{1, 0}})
	retriever := knowledge.NewRetriever(index, nil)
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){text("From general knowledge: it swaps ETH.")}}
	chain := newFakeAdapter()
	ag := newTestAgent(reasoner, chain, WithRetriever(retriever, 3))

	reply, err := ag.Handle(context.Background(), "s", "What does swapExactETHForTokens do?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !reply.Ungrounded || !reasoner.request(0).Ungrounded {
		t.Fatalf("expected the answer to be marked ungrounded")
	}
	if len(reasoner.request(0).Knowledge) != 0 {
		t.Fatalf("ungrounded request must not carry knowledge")
	}
	if reply.Classification != Informational || len(reply.Invocations) != 0 || chain.total() != 0 {
		t.Fatalf("expected a plain answer without tool calls, got %+v", reply)
	}
	tr, _ := ag.Transcript("s")
	if !strings.Contains(string(tr.Turns[1].Payload), string(knowledge.CodeEmbeddingUnavailable)) {
		t.Fatalf("grounding turn should record the retrieval failure: %s", tr.Turns[1].Payload)
	}
}

func TestGroundingPassesKnowledgeCards(t *testing.T) {
	retriever := stubRetriever{passages: []knowledge.Passage{{ID: "contracts/erc20.md#0", Title: "ERC20", Text: "transfer moves tokens"}}}
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){text("ok")}}
	ag := newTestAgent(reasoner, newFakeAdapter(), WithRetriever(retriever, 1))

	reply, err := ag.Handle(context.Background(), "s", "what is ERC20 transfer")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	req := reasoner.request(0)
	if reply.Ungrounded || req.Ungrounded || len(req.Knowledge) != 1 || req.Knowledge[0].ID != "contracts/erc20.md#0" {
		t.Fatalf("unexpected grounding %+v", req)
	}
	if len(req.Tools) != len(tools.Builtin()) {
		t.Fatalf("expected every builtin tool to be offered, got %d", len(req.Tools))
	}
}

func TestReasoningFailureRetriesThenApologises(t *testing.T) {
	outage := llm.Unavailable(errors.New("503"), "upstream unavailable")
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){fail(outage), fail(outage)}}
	ag := newTestAgent(reasoner, newFakeAdapter())

	reply, err := ag.Handle(context.Background(), "s", "hello")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reasoner.calls() != 2 {
		t.Fatalf("expected one retry, got %d calls", reasoner.calls())
	}
	if reply.Text != apologyText || reply.Code != string(llm.CodeReasoningUnavailable) {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestReasoningRecoversOnRetry(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		fail(llm.Unavailable(errors.New("timeout"), "upstream timeout")),
		text("hi there"),
	}}
	ag := newTestAgent(reasoner, newFakeAdapter())

	got, err := ag.Submit(context.Background(), "s", "hello")
	if err != nil || got != "hi there" {
		t.Fatalf("Submit = %q, %v", got, err)
	}
}

func TestClassificationIsDeterministic(t *testing.T) {
	script := func() *scriptedReasoner {
		return &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
			toolCall(tools.GetBalance, `{"account":"alice"}`),
		}}
	}
	ag := newTestAgent(script(), newFakeAdapter())
	first, err := ag.Handle(context.Background(), "a", "alice balance?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ag2 := newTestAgent(script(), newFakeAdapter())
	second, err := ag2.Handle(context.Background(), "b", "alice balance?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if first.Classification != second.Classification {
		t.Fatalf("classification differs: %s vs %s", first.Classification, second.Classification)
	}
	if diff := cmp.Diff(first.States, second.States); diff != "" {
		t.Fatalf("state paths differ (-first +second):\n%s", diff)
	}
}

func TestCancellationSettlesDetachedTransfer(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.Transfer, `{"from":"alice","to":"bob","amount":"1"}`),
	}}
	started := make(chan struct{})
	gate := make(chan struct{})
	chain := newFakeAdapter()
	chain.transfer = func(_ int, ctx context.Context, req web3.TransferRequest) (web3.Receipt, error) {
		close(started)
		<-gate
		if ctx.Err() != nil {
			return web3.Receipt{}, ctx.Err()
		}
		return web3.Receipt{From: req.From, To: req.To, Token: req.Token, Amount: req.Amount,
			FromBalance: big.NewInt(0), ToBalance: req.Amount}, nil
	}
	ag := newTestAgent(reasoner, chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	reply, err := ag.Handle(ctx, "s", "send 1 ETH to bob")
	if !xerrors.HasCode(err, xerrors.CodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if len(reply.Invocations) != 1 || reply.Invocations[0].Error == nil ||
		reply.Invocations[0].Error.Code != string(xerrors.CodeCancelled) {
		t.Fatalf("in-flight invocation should fail with CANCELLED: %+v", reply.Invocations)
	}
	if reasoner.calls() != 1 {
		t.Fatalf("loop should stop after cancellation, got %d reasoning calls", reasoner.calls())
	}
	tail := reply.States[len(reply.States)-2:]
	if diff := cmp.Diff([]State{StateResponding, StateAwaitingInput}, tail); diff != "" {
		t.Fatalf("cancelled run should still respond and return to input (-want +got):\n%s", diff)
	}
	tr, _ := ag.Transcript("s")
	if len(tr.Turns) != len(reply.States)-1 {
		t.Fatalf("expected one turn per transition, got %d turns for %d states", len(tr.Turns), len(reply.States))
	}
	closing := tr.Turns[len(tr.Turns)-2]
	if closing.Kind != session.KindReply || !strings.Contains(string(closing.Payload), string(xerrors.CodeCancelled)) {
		t.Fatalf("expected a CANCELLED reply turn, got %+v", closing)
	}
	if end := tr.Turns[len(tr.Turns)-1]; end.Kind != session.KindTurnEnd {
		t.Fatalf("expected a turn_end record, got %+v", end)
	}

	close(gate)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := ag.Close(waitCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, _ = ag.Transcript("s")
	settled := tr.Invocations[0].Settlement
	if settled == nil || settled.Status != session.StatusSucceeded {
		t.Fatalf("expected a successful settlement, got %+v", settled)
	}
	last := tr.Turns[len(tr.Turns)-1]
	if last.Kind != session.KindSettlement || last.InvocationSeq != 1 {
		t.Fatalf("expected trailing settlement turn, got %+v", last)
	}
	if chain.count("Transfer") != 1 {
		t.Fatalf("transfer submitted %d times", chain.count("Transfer"))
	}
}

func TestLocalTools(t *testing.T) {
	carol := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.BindAlias, `{"alias":"Carol","address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`),
		toolCall(tools.GetBalance, `{"account":"carol"}`),
		toolCall(tools.ListSupportedTokens, `{}`),
		toolCall(tools.GetTokenPrice, `{"token":"ETH"}`),
		text("done"),
	}}
	chain := newFakeAdapter()
	var queried common.Address
	chain.balance = func(_ int, addr common.Address, tok web3.Token) (web3.Balance, error) {
		queried = addr
		return web3.Balance{Address: addr, Token: tok, Raw: big.NewInt(0)}, nil
	}
	ag := newTestAgent(reasoner, chain, WithPriceSource(stubPrices{usd: 2500.5}))

	reply, err := ag.Handle(context.Background(), "s", "carol is 0x5aAe..., what does she hold?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(reply.Invocations) != 4 {
		t.Fatalf("expected 4 invocations, got %d (%s)", len(reply.Invocations), reply.Text)
	}
	for _, inv := range reply.Invocations {
		if inv.Status != session.StatusSucceeded {
			t.Fatalf("invocation %s failed: %+v", inv.Tool, inv.Error)
		}
	}
	if queried != carol {
		t.Fatalf("alias bound in the same session should resolve, queried %s", queried.Hex())
	}
	if got := reply.Invocations[1].Summary; got != "carol holds 0.0 ETH" {
		t.Fatalf("unexpected balance summary %q", got)
	}
	if !strings.Contains(reply.Invocations[2].Summary, "USDC") {
		t.Fatalf("token list missing USDC: %q", reply.Invocations[2].Summary)
	}
	if got := reply.Invocations[3].Summary; got != "1 ETH = 2500.50 USD" {
		t.Fatalf("unexpected price summary %q", got)
	}
}

func TestGetDocumentReadsWholeFile(t *testing.T) {
	index := knowledge.NewIndex(
		knowledge.Passage{ID: "uniswap-v2/router.md#0", Source: "uniswap-v2", Path: "uniswap-v2/router.md", Title: "router", Text: "Routers swap.", Offset: 0},
		knowledge.Passage{ID: "uniswap-v2/router.md#1", Source: "uniswap-v2", Path: "uniswap-v2/router.md", Title: "router", Text: "Deadlines expire.", Offset: 20},
	)
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.GetDocument, `{"id":"uniswap-v2/router.md#1"}`),
		toolCall(tools.GetDocument, `{"id":"uniswap-v3/pool.md"}`),
		text("done"),
	}}
	chain := newFakeAdapter()
	ag := newTestAgent(reasoner, chain, WithRetriever(knowledge.NewRetriever(index, knowledge.NewHashEmbedder(16)), 2))

	reply, err := ag.Handle(context.Background(), "s", "show me the router doc")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(reply.Invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %+v", reply.Invocations)
	}
	found, missing := reply.Invocations[0], reply.Invocations[1]
	if found.Status != session.StatusSucceeded || !strings.Contains(found.Summary, "Routers swap.\n\nDeadlines expire.") {
		t.Fatalf("unexpected document result %+v", found)
	}
	if missing.Status != session.StatusFailed || missing.Error == nil || missing.Error.Code != string(xerrors.CodeNotFound) {
		t.Fatalf("unknown document should fail with NOT_FOUND, got %+v", missing)
	}
	if chain.total() != 0 {
		t.Fatalf("document lookup must not touch the chain")
	}
}

func TestSearchWebUsesConfiguredSearcher(t *testing.T) {
	registry := tools.NewDefaultRegistry(nil, tools.DefaultSlippageBps)
	registry.MustRegister(tools.WebSearch())
	search := &stubSearch{results: []websearch.Result{{Title: "Hooks", URL: "https://docs.uniswap.org/hooks", Description: "v4 hooks"}}}
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.SearchWeb, `{"query":"uniswap v4 hooks"}`),
		text("done"),
	}}
	ag := New(reasoner, registry, newFakeAdapter(), nil, WithWebSearch(search))

	reply, err := ag.Handle(context.Background(), "s", "what are v4 hooks?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(reply.Invocations) != 1 || reply.Invocations[0].Status != session.StatusSucceeded {
		t.Fatalf("unexpected invocations %+v", reply.Invocations)
	}
	if got := reply.Invocations[0].Summary; got != "[1] Hooks (https://docs.uniswap.org/hooks): v4 hooks" {
		t.Fatalf("unexpected summary %q", got)
	}
	if search.query != "uniswap v4 hooks" || search.count != 5 {
		t.Fatalf("searcher called with %q/%d", search.query, search.count)
	}

	plain := newTestAgent(&scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){
		toolCall(tools.SearchWeb, `{"query":"x"}`),
	}}, newFakeAdapter())
	reply, err = plain.Handle(context.Background(), "s", "search")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Code != string(tools.CodeUnknownTool) {
		t.Fatalf("search_web must be unknown without a searcher, got %q", reply.Code)
	}
}

func TestHandleRejectsEmptyUtterance(t *testing.T) {
	ag := newTestAgent(&scriptedReasoner{}, newFakeAdapter())
	if _, err := ag.Handle(context.Background(), "s", "   "); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestHistoryCarriesEarlierExchanges(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []func(llm.Request) (llm.Result, error){text("first answer"), text("second answer")}}
	ag := newTestAgent(reasoner, newFakeAdapter())
	if _, err := ag.Handle(context.Background(), "s", "first"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := ag.Handle(context.Background(), "s", "second"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := reasoner.request(1).Messages
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "first answer"},
		{Role: llm.RoleUser, Content: "second"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}
