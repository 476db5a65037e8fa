package llm

import (
	"context"
	"encoding/json"
)

// Role 标识消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 表示模型请求执行的一次工具调用，Arguments 为 JSON 文本。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 是对话中的一条消息，同时用于请求与会话记忆的持久化。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolSpec 描述暴露给模型的工具，Parameters 为 JSON Schema。
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request 描述发送给大模型的一轮对话。
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response 是大模型返回的助手消息。
type Response struct {
	Message      Message
	FinishReason string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
