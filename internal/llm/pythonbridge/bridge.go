package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
)

// Client 通过调用外部脚本实现推理：请求以 JSON 写入 stdin，
// 脚本在 stdout 输出 {"text": ...} 或 {"tool_call": {...}}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	System   string         `json:"system"`
	Messages []llm.Message  `json:"messages"`
	Tools    []llm.ToolSpec `json:"tools"`
}

type bridgeResponse struct {
	Text     string `json:"text"`
	ToolCall *struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_call"`
	Error string `json:"error"`
}

// Complete 调用外部脚本，并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	encoded, err := json.Marshal(bridgeRequest{
		System:   llm.SystemMessage(req),
		Messages: req.Messages,
		Tools:    req.Tools,
	})
	if err != nil {
		return nil, llm.Failure(err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "推理请求被取消")
		}
		return nil, llm.Unavailable(err, fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, llm.Failure(err, "解析 Python 输出失败")
	}
	switch {
	case resp.Error != "":
		return nil, llm.Failure(nil, "Python 脚本返回错误: "+resp.Error)
	case resp.ToolCall != nil:
		args := resp.ToolCall.Arguments
		if len(bytes.TrimSpace(args)) == 0 {
			args = json.RawMessage("{}")
		}
		// 兼容把参数编码成字符串的脚本。
		var asString string
		if json.Unmarshal(args, &asString) == nil {
			args = json.RawMessage(asString)
		}
		return llm.ToolCallRequest{ID: resp.ToolCall.ID, Name: resp.ToolCall.Name, RawArgs: args}, nil
	case strings.TrimSpace(resp.Text) != "":
		return llm.TextResult{Text: strings.TrimSpace(resp.Text)}, nil
	default:
		return nil, llm.Failure(nil, "Python 脚本输出为空")
	}
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
