package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
	"ChainPilot/internal/tools"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/pricefeed"
	"ChainPilot/internal/websearch"
)

// outcome 是工具成功执行后的摘要与结构化结果。
type outcome struct {
	summary string
	result  any
}

type attempt func(ctx context.Context) (outcome, error)

// execute 执行已校验的调用。脱离请求生命周期的工具在后台运行，请求被取消时
// 调用立即以 CANCELLED 结束，真实结果在 finished 关闭后以结算记录补充。
func (a *Agent) execute(ctx context.Context, sess *session.Session, seq int, call tools.Call, finished <-chan struct{}) (outcome, error) {
	key := sess.ID() + ":" + strconv.Itoa(seq)
	once := func(ctx context.Context) (outcome, error) {
		return a.withRetry(ctx, func(ctx context.Context) (outcome, error) {
			return a.invoke(ctx, sess, key, call)
		})
	}
	if call.Tool.Detached {
		return a.detached(ctx, sess, seq, call.Tool.Name, once, finished)
	}
	out, err := once(ctx)
	if err != nil && ctx.Err() != nil {
		return outcome{}, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "请求已取消")
	}
	return out, err
}

// withRetry 对 NETWORK_ERROR 等待退避时间后重试一次，其余错误直接返回。
func (a *Agent) withRetry(ctx context.Context, fn attempt) (outcome, error) {
	out, err := fn(ctx)
	if err == nil || !xerrors.HasCode(err, web3.CodeNetworkError) || ctx.Err() != nil {
		return out, err
	}
	metrics.ObserveRetry("adapter")
	a.log.Warn("网络错误，准备重试", slog.Any("error", err))
	if serr := sleep(ctx, a.retryBackoff); serr != nil {
		return outcome{}, err
	}
	return fn(ctx)
}

func (a *Agent) detached(ctx context.Context, sess *session.Session, seq int, tool string, fn attempt, finished <-chan struct{}) (outcome, error) {
	type result struct {
		out outcome
		err error
	}
	done := make(chan result, 1)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.detachedTimeout)
	a.tracker.Go(func() {
		defer cancel()
		out, err := fn(dctx)
		done <- result{out: out, err: err}
	})

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		a.log.Warn("请求已取消，后台操作继续执行",
			slog.String("session_id", sess.ID()), slog.Int("seq", seq), slog.String("tool", tool))
		a.tracker.Go(func() {
			<-finished
			res := <-done
			a.settle(sess, seq, tool, res.out, res.err)
		})
		return outcome{}, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "请求已取消，操作将在后台完成")
	}
}

func (a *Agent) settle(sess *session.Session, seq int, tool string, out outcome, err error) {
	ctx := context.Background()
	var (
		st      session.Settlement
		content string
	)
	if err == nil {
		raw, _ := json.Marshal(out.result)
		st = session.Settlement{Status: session.StatusSucceeded, Summary: out.summary, Result: raw}
		content = fmt.Sprintf("%s #%d completed after the request was cancelled: %s", tool, seq, out.summary)
	} else {
		code := xerrors.CodeOf(err)
		st = session.Settlement{
			Status: session.StatusFailed,
			Error:  &session.ErrorDescriptor{Code: string(code), Message: xerrors.MessageOf(err)},
		}
		content = fmt.Sprintf("%s #%d failed after the request was cancelled: %s: %s", tool, seq, code, xerrors.MessageOf(err))
	}
	metrics.ObserveSettlement(string(st.Status))
	if _, serr := sess.Settle(ctx, seq, st, content); serr != nil {
		a.log.Error("记录结算结果失败",
			slog.String("session_id", sess.ID()), slog.Int("seq", seq), slog.Any("error", serr))
	}
}

func (a *Agent) adapter() (web3.Adapter, error) {
	if a.chain == nil {
		return nil, xerrors.New(web3.CodeAdapterFailure, "no blockchain adapter configured")
	}
	return a.chain, nil
}

// invoke 执行单次工具调用。
func (a *Agent) invoke(ctx context.Context, sess *session.Session, key string, call tools.Call) (outcome, error) {
	args := call.Args
	switch call.Tool.Name {
	case tools.GetBalance:
		chain, err := a.adapter()
		if err != nil {
			return outcome{}, err
		}
		bal, err := chain.GetBalance(ctx, args.Address("account"), args.Token("token"))
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("%s holds %s", describe(sess, bal.Address), bal.Formatted()),
			result: map[string]string{
				"address":   bal.Address.Hex(),
				"token":     bal.Token.Symbol,
				"raw":       bal.Raw.String(),
				"formatted": bal.Formatted(),
			},
		}, nil

	case tools.Transfer:
		chain, err := a.adapter()
		if err != nil {
			return outcome{}, err
		}
		tok := args.Token("token")
		receipt, err := chain.Transfer(ctx, web3.TransferRequest{
			Key:    key,
			From:   args.Address("from"),
			To:     args.Address("to"),
			Amount: args.Amount("amount"),
			Token:  tok,
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("Sent %s from %s to %s in tx %s. Balances now: %s %s, %s %s.",
				web3.FormatAmount(receipt.Amount, tok), describe(sess, receipt.From), describe(sess, receipt.To),
				receipt.TxHash.Hex(),
				describe(sess, receipt.From), web3.FormatAmount(receipt.FromBalance, tok),
				describe(sess, receipt.To), web3.FormatAmount(receipt.ToBalance, tok)),
			result: receipt,
		}, nil

	case tools.Swap:
		chain, err := a.adapter()
		if err != nil {
			return outcome{}, err
		}
		in, out := args.Token("token_in"), args.Token("token_out")
		receipt, err := chain.Swap(ctx, web3.SwapRequest{
			Key:            key,
			Account:        args.Address("account"),
			AmountIn:       args.Amount("amount_in"),
			TokenIn:        in,
			TokenOut:       out,
			MaxSlippageBps: args.Bps("max_slippage_bps"),
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("Swapped %s for %s (quoted %s, minimum %s) in tx %s. Balances now: %s, %s.",
				web3.FormatAmount(receipt.AmountIn, in), out.Symbol,
				web3.FormatAmount(receipt.QuotedOut, out), web3.FormatAmount(receipt.MinAmountOut, out),
				receipt.TxHash.Hex(),
				web3.FormatAmount(receipt.BalanceIn, in), web3.FormatAmount(receipt.BalanceOut, out)),
			result: receipt,
		}, nil

	case tools.QueryContract:
		chain, err := a.adapter()
		if err != nil {
			return outcome{}, err
		}
		res, err := chain.QueryContract(ctx, args.Address("address"), args.String("method"), args.Strings("args"))
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("%s on %s returned [%s]", res.Method, res.Address.Hex(), strings.Join(res.Outputs, ", ")),
			result:  res,
		}, nil

	case tools.CheckContract:
		chain, err := a.adapter()
		if err != nil {
			return outcome{}, err
		}
		addr := args.Address("address")
		deployed, err := chain.IsContract(ctx, addr)
		if err != nil {
			return outcome{}, err
		}
		summary := fmt.Sprintf("%s is a deployed contract", addr.Hex())
		if !deployed {
			summary = fmt.Sprintf("%s has no contract code (externally owned account)", addr.Hex())
		}
		return outcome{summary: summary, result: map[string]any{"address": addr.Hex(), "is_contract": deployed}}, nil

	case tools.SearchDocs:
		return a.searchDocs(ctx, args.String("query"), int(args.Int("limit")))

	case tools.GetDocument:
		return a.getDocument(args.String("id"))

	case tools.SearchWeb:
		return a.searchWeb(ctx, args.String("query"), int(args.Int("count")))

	case tools.ListSupportedTokens:
		return a.listTokens(), nil

	case tools.GetTokenPrice:
		if a.prices == nil {
			return outcome{}, xerrors.New(pricefeed.CodePriceUnavailable, "no price source configured")
		}
		tok := args.Token("token")
		quote, err := a.prices.Price(ctx, tok)
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("1 %s = %s USD", tok.Symbol, formatUSD(quote.USD)),
			result:  quote,
		}, nil

	case tools.BindAlias:
		alias, addr := strings.ToLower(strings.TrimSpace(args.String("alias"))), args.Address("address")
		if err := sess.Bind(alias, addr); err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("%s now refers to %s", alias, addr.Hex()),
			result:  map[string]string{"alias": alias, "address": addr.Hex()},
		}, nil

	default:
		return outcome{}, xerrors.New(tools.CodeUnknownTool, fmt.Sprintf("tool %q has no executor", call.Tool.Name))
	}
}

func (a *Agent) searchDocs(ctx context.Context, query string, limit int) (outcome, error) {
	if a.retriever == nil {
		return outcome{}, xerrors.New(knowledge.CodeEmbeddingUnavailable, "no knowledge base configured")
	}
	passages, err := a.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return outcome{}, err
	}
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.ID)
	}
	if len(passages) == 0 {
		return outcome{summary: "No matching documentation found.", result: ids}, nil
	}
	return outcome{summary: knowledge.Render(passages), result: ids}, nil
}

func (a *Agent) getDocument(id string) (outcome, error) {
	docs, ok := a.retriever.(DocumentReader)
	if !ok {
		return outcome{}, xerrors.New(xerrors.CodeNotFound, "no knowledge base configured")
	}
	doc, err := docs.Document(id)
	if err != nil {
		return outcome{}, err
	}
	return outcome{summary: fmt.Sprintf("%s (%s)\n%s", doc.Title, doc.ID, doc.Text), result: doc}, nil
}

func (a *Agent) searchWeb(ctx context.Context, query string, count int) (outcome, error) {
	if a.search == nil {
		return outcome{}, xerrors.New(websearch.CodeSearchUnavailable, "no web search configured")
	}
	results, err := a.search.Search(ctx, query, count)
	if err != nil {
		return outcome{}, err
	}
	if len(results) == 0 {
		return outcome{summary: "No web results found.", result: results}, nil
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s): %s", i+1, r.Title, r.URL, r.Description)
	}
	return outcome{summary: b.String(), result: results}, nil
}

func (a *Agent) listTokens() outcome {
	all := a.tools.Tokens().All()
	lines := make([]string, 0, len(all))
	symbols := make([]string, 0, len(all))
	for _, tok := range all {
		symbols = append(symbols, tok.Symbol)
		if tok.Native {
			lines = append(lines, fmt.Sprintf("%s (native, %d decimals)", tok.Symbol, tok.Decimals))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s (%d decimals)", tok.Symbol, tok.Address.Hex(), tok.Decimals))
	}
	return outcome{summary: "Supported tokens: " + strings.Join(lines, "; "), result: symbols}
}

// describe 优先用别名描述地址。
func describe(sess *session.Session, addr common.Address) string {
	if aliases := sess.AliasesOf(addr); len(aliases) > 0 {
		return aliases[0]
	}
	return addr.Hex()
}

func formatUSD(v float64) string {
	if v >= 1 {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
