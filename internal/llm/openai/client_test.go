package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/upstream"
)

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.baseURL != DefaultBaseURL || client.model != "llama" || client.apiKey != "GAIA" {
		t.Fatalf("defaults not applied: %+v", client)
	}
	if _, err := NewClient(Config{BaseURL: "ftp://nope"}); err == nil {
		t.Fatalf("expected error for non-http base url")
	}
}

func TestChatSendsToolsAndParsesToolCalls(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Errorf("authorization header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"retrieve_event","arguments":"{\"event_id\":\"123\"}"}}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: time.Second, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Chat(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "event 123?"},
		},
		Tools: []llm.ToolSpec{{Name: "retrieve_event", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "tool_calls" || len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "retrieve_event" || call.Arguments != `{"event_id":"123"}` {
		t.Fatalf("unexpected tool call: %+v", call)
	}

	if captured["model"] != "llama" || captured["tool_choice"] != "auto" {
		t.Fatalf("unexpected request body: %+v", captured)
	}
	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool in request, got %v", captured["tools"])
	}
}

func TestChatReplaysToolMessages(t *testing.T) {
	var captured struct {
		Messages []map[string]any `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":" done "}}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	resp, err := client.Chat(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "get_balance", Arguments: "{}"}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Name: "get_balance", Content: "0 ETH"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "done" {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	if len(captured.Messages) != 3 || captured.Messages[2]["tool_call_id"] != "c1" {
		t.Fatalf("tool message not replayed: %+v", captured.Messages)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("5xx from model should be retryable: %v", err)
	}
}

func TestChatErrorsCarryUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer wrong" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "wrong", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	status, ok := upstream.AsStatusError(err)
	if !ok || status.Service != "llm" || status.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected llm status error, got %+v", status)
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("bad credentials should not be retried")
	}
}

func TestChatTimeoutIsCoded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := NewClient(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Chat(ctx, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}
