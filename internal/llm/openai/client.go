package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/upstream"
)

const (
	// DefaultBaseURL 为 GaiaNet 托管的 Llama 工具调用节点。
	DefaultBaseURL   = "https://llamatool.us.gaianet.network/v1"
	defaultModelName = "llama"
	defaultAPIKey    = "GAIA"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	HTTPClient  *http.Client
}

// Client 通过 upstream.Doer 调用 OpenAI 兼容的大模型接口，与其他外部服务共用超时、指标和错误分类。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	doer        *upstream.Doer
}

// NewClient 根据配置创建客户端。GaiaNet 节点不校验密钥，未配置时使用占位值。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = defaultAPIKey
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("无效的模型地址: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	doer, err := upstream.New(upstream.Config{
		Service:    "llm",
		BaseURL:    baseURL,
		Timeout:    timeout,
		HTTPClient: cfg.HTTPClient,
		Header:     http.Header{"Authorization": []string{"Bearer " + apiKey}},
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		doer:        doer,
	}, nil
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string        `json:"type"`
	Function llm.ToolSpec `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Chat 发送一轮对话，返回的助手消息可能包含工具调用。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "对话消息不能为空")
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "chat",
		Method:    http.MethodPost,
		Path:      "/chat/completions",
		Body:      c.buildRequest(req),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.doer.Err(resp, "")
	}

	var decoded chatResponse
	if err := resp.Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "模型响应中没有有效的 choices")
	}

	choice := decoded.Choices[0]
	msg := llm.Message{Role: llm.RoleAssistant}
	if choice.Message.Content != nil {
		msg.Content = strings.TrimSpace(*choice.Message.Content)
	}
	for _, call := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "模型响应内容为空")
	}

	return &llm.Response{Message: msg, FinishReason: choice.FinishReason}, nil
}

func (c *Client) buildRequest(req llm.Request) chatRequest {
	out := chatRequest{
		Model:       c.model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: c.temperature,
	}
	for _, m := range req.Messages {
		content := m.Content
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    &content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, call := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: wireFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, wireTool{Type: "function", Function: spec})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}
