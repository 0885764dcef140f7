// Package session 维护每个会话的对话状态：有序的 Turn、工具调用记录以及
// 别名表。Manager 负责按会话串行化请求，并在会话创建时注入默认账户别名。
package session
