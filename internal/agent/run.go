package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
)

const (
	apologyText   = "Sorry, I'm having trouble working that out right now. Please try again in a moment."
	cancelledText = "The request was cancelled before it finished."
)

// run 保存一条消息在编排过程中的状态。每次状态迁移都会先追加一条 Turn。
type run struct {
	agent      *Agent
	sess       *session.Session
	reply      Reply
	messages   []llm.Message
	knowledge  []llm.KnowledgeCard
	ungrounded bool
	roundTrips int
	// done 在本条消息的全部 Turn 写完后关闭，迟到的结算记录排在其后。
	done       chan struct{}
}

type groundingPayload struct {
	Passages   []string `json:"passages"`
	Ungrounded bool     `json:"ungrounded"`
	Error      string   `json:"error,omitempty"`
}

type dispatchPayload struct {
	Seq  int               `json:"seq"`
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

type turnEndPayload struct {
	Classification Classification `json:"classification"`
	RoundTrips     int            `json:"round_trips"`
	Code           string         `json:"code,omitempty"`
}

func newRun(a *Agent, sess *session.Session) *run {
	return &run{
		agent: a,
		sess:  sess,
		done:  make(chan struct{}),
		reply: Reply{
			SessionID:      sess.ID(),
			Classification: Informational,
			States:         []State{StateAwaitingInput},
		},
	}
}

func (r *run) transition(ctx context.Context, next State, turn session.Turn, payload any) error {
	if _, err := r.sess.AppendJSON(ctx, turn, payload); err != nil {
		return err
	}
	r.reply.States = append(r.reply.States, next)
	metrics.ObserveTransition(string(next))
	return nil
}

func (r *run) execute(ctx context.Context, utterance string) (Reply, error) {
	defer close(r.done)
	prior := history(r.sess.Turns(), r.agent.historyLimit)

	if err := r.transition(ctx, StateGrounding, session.Turn{
		Role:    session.RoleUser,
		Kind:    session.KindUtterance,
		Content: utterance,
	}, nil); err != nil {
		return r.reply, err
	}
	if err := r.ground(ctx, utterance); err != nil {
		return r.reply, err
	}
	r.messages = append(prior, llm.Message{Role: llm.RoleUser, Content: utterance})

	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(ctx, err)
		}
		result, err := r.agent.reason(ctx, r.request())
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return r.cancelled(ctx, cerr)
			}
			r.agent.log.Error("推理失败", slog.String("session_id", r.sess.ID()), slog.Any("error", err))
			r.agent.alert(ctx, err, r.sess.ID(), "")
			return r.respond(ctx, apologyText, xerrors.CodeOf(err))
		}

		switch res := result.(type) {
		case llm.TextResult:
			return r.respond(ctx, res.Text, "")
		case llm.ToolCallRequest:
			r.reply.Classification = ToolAssisted
			if r.roundTrips >= r.agent.budget {
				text := fmt.Sprintf("I stopped after %d tool calls without finishing this request. Please narrow it down or ask me to continue.", r.agent.budget)
				return r.respond(ctx, text, CodeBudgetExceeded)
			}
			done, err := r.dispatch(ctx, res)
			if err != nil || done {
				return r.reply, err
			}
		default:
			err := xerrors.New(xerrors.CodeInvariantViolation, fmt.Sprintf("未知的推理结果类型 %T", result))
			r.agent.alert(ctx, err, r.sess.ID(), "")
			return r.reply, err
		}
	}
}

// ground 检索文档。检索失败只会把本次推理标记为无依据，不会中断流程。
func (r *run) ground(ctx context.Context, utterance string) error {
	a := r.agent
	payload := groundingPayload{Passages: []string{}}
	content := "no documentation configured"
	if a.retriever == nil {
		r.ungrounded = true
	} else if passages, err := a.retriever.Retrieve(ctx, utterance, a.topK); err != nil {
		r.ungrounded = true
		payload.Error = string(xerrors.CodeOf(err))
		content = "documentation unavailable, answering without it"
		metrics.ObserveRetrievalFailure()
		a.log.Warn("文档检索失败，降级为无依据回答",
			slog.String("session_id", r.sess.ID()), slog.Any("error", err))
	} else {
		for _, p := range passages {
			r.knowledge = append(r.knowledge, llm.KnowledgeCard{ID: p.ID, Title: p.Title, Content: p.Text})
			payload.Passages = append(payload.Passages, p.ID)
		}
		content = fmt.Sprintf("%d passages retrieved", len(passages))
	}
	payload.Ungrounded = r.ungrounded
	r.reply.Ungrounded = r.ungrounded

	return r.transition(ctx, StateReasoning, session.Turn{
		Role:    session.RoleAssistant,
		Kind:    session.KindGrounding,
		Content: content,
	}, payload)
}

func (r *run) request() llm.Request {
	return llm.Request{
		System:     r.agent.systemPrompt,
		Messages:   slices.Clone(r.messages),
		Tools:      r.agent.toolSpecs(),
		Knowledge:  r.knowledge,
		Ungrounded: r.ungrounded,
	}
}

// dispatch 校验并执行一次工具调用。返回 true 表示本条消息已经结束。
func (r *run) dispatch(ctx context.Context, call llm.ToolCallRequest) (bool, error) {
	a := r.agent
	if call.ID == "" {
		call.ID = fmt.Sprintf("call_%d", r.roundTrips+1)
	}
	if len(call.RawArgs) == 0 {
		call.RawArgs = json.RawMessage("{}")
	}
	if err := r.transition(ctx, StateToolDispatch, session.Turn{
		Role:    session.RoleAssistant,
		Kind:    session.KindToolCall,
		Content: call.Name,
	}, call); err != nil {
		return true, err
	}

	validated, err := a.tools.Validate(call.Name, call.RawArgs, r.sess)
	if err != nil {
		text := fmt.Sprintf("I couldn't run %s: %s. Could you clarify?", call.Name, xerrors.MessageOf(err))
		_, rerr := r.respond(ctx, text, xerrors.CodeOf(err))
		return true, rerr
	}

	inv, err := r.sess.BeginInvocation(ctx, call.Name, validated.Args.Display())
	if err != nil {
		return true, err
	}
	r.roundTrips++
	if err := r.transition(ctx, StateAwaitingToolResult, session.Turn{
		Role:    session.RoleAssistant,
		Kind:    session.KindDispatch,
		Content: fmt.Sprintf("#%d %s", inv.Seq, call.Name),
	}, dispatchPayload{Seq: inv.Seq, Tool: call.Name, Args: inv.Args}); err != nil {
		return true, err
	}

	started := time.Now()
	out, execErr := a.execute(ctx, r.sess, inv.Seq, validated, r.done)
	final, content, err := r.finish(ctx, inv.Seq, call.Name, out, execErr)
	if err != nil {
		return true, err
	}
	r.reply.Invocations = append(r.reply.Invocations, final)
	code := ""
	if final.Error != nil {
		code = final.Error.Code
	}
	metrics.ObserveTool(call.Name, string(final.Status), code, time.Since(started))

	if err := r.transition(ctx, StateReasoning, session.Turn{
		Role:          session.RoleToolResult,
		Kind:          session.KindToolResult,
		Content:       content,
		InvocationSeq: inv.Seq,
	}, nil); err != nil {
		return true, err
	}
	r.messages = append(r.messages,
		llm.Message{Role: llm.RoleAssistant, ToolCall: &call},
		llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID},
	)
	return false, nil
}

// finish 把执行结果写入调用记录，返回终态记录和给推理服务看的结果文本。
func (r *run) finish(ctx context.Context, seq int, tool string, out outcome, execErr error) (session.ToolInvocation, string, error) {
	if execErr == nil {
		raw, err := json.Marshal(out.result)
		if err != nil {
			raw = nil
		}
		inv, err := r.sess.Complete(ctx, seq, out.summary, raw)
		return inv, out.summary, err
	}
	code := xerrors.CodeOf(execErr)
	if ctx.Err() != nil {
		code = xerrors.CodeCancelled
	}
	message := xerrors.MessageOf(execErr)
	r.agent.alert(ctx, execErr, r.sess.ID(), tool)
	inv, err := r.sess.Fail(ctx, seq, code, message)
	return inv, fmt.Sprintf("%s failed: %s: %s", tool, code, message), err
}

func (r *run) respond(ctx context.Context, text string, code xerrors.Code) (Reply, error) {
	err := r.conclude(ctx, text, code)
	return r.reply, err
}

// conclude 写入回复与结束两条 Turn：Responding 与回到 AwaitingInput 各占一条。
func (r *run) conclude(ctx context.Context, text string, code xerrors.Code) error {
	r.reply.Text = text
	r.reply.Code = string(code)
	var payload any
	if code != "" {
		payload = map[string]string{"code": string(code)}
	}
	if err := r.transition(ctx, StateResponding, session.Turn{
		Role:    session.RoleAssistant,
		Kind:    session.KindReply,
		Content: text,
	}, payload); err != nil {
		return err
	}
	return r.transition(ctx, StateAwaitingInput, session.Turn{
		Role:    session.RoleAssistant,
		Kind:    session.KindTurnEnd,
		Content: string(r.reply.Classification),
	}, turnEndPayload{Classification: r.reply.Classification, RoundTrips: r.roundTrips, Code: string(code)})
}

// cancelled 在请求取消后补写终止记录，写入不受已取消的 ctx 影响。
func (r *run) cancelled(ctx context.Context, cause error) (Reply, error) {
	if err := r.conclude(context.WithoutCancel(ctx), cancelledText, xerrors.CodeCancelled); err != nil {
		return r.reply, err
	}
	return r.reply, xerrors.Wrap(xerrors.CodeCancelled, cause, "请求已取消")
}
