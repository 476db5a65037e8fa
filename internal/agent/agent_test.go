package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/memory"
	"EventSync-Agent/internal/storage/mysql"
)

type stubLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
	err       error
	wait      time.Duration
}

func (s *stubLLM) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type stubTools struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
	args    []string
}

func (s *stubTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "retrieve_event", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func (s *stubTools) Invoke(_ context.Context, name string, args json.RawMessage) (string, error) {
	s.calls = append(s.calls, name)
	s.args = append(s.args, string(args))
	return s.outputs[name], s.errs[name]
}

func toolCall(id, name, args string) *llm.Response {
	return &llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}},
	}}
}

func reply(text string) *llm.Response {
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}
}

func TestAgentExecutesToolCallsUntilReply(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{
		toolCall("c1", "retrieve_event", `{"event_id":"42"}`),
		reply("The event is called Demo."),
	}}
	tools := &stubTools{outputs: map[string]string{"retrieve_event": "Here are the details of the event:\nName: Demo"}}
	ag := New(llmClient, tools, WithSystemPrompt("be helpful"))

	var chunks []Chunk
	result, err := ag.Stream(context.Background(), TaskRequest{Message: "what is event 42?"}, func(c Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "The event is called Demo." || result.Steps != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(tools.calls) != 1 || tools.args[0] != `{"event_id":"42"}` {
		t.Fatalf("unexpected tool calls: %v %v", tools.calls, tools.args)
	}
	if len(chunks) != 2 || chunks[0].Kind != ChunkTools || chunks[1].Kind != ChunkAgent {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if result.ThreadID != DefaultThreadID {
		t.Fatalf("expected default thread, got %s", result.ThreadID)
	}

	second := llmClient.requests[1].Messages
	if second[0].Role != llm.RoleSystem || second[0].Content != "be helpful" {
		t.Fatalf("system prompt not prepended: %+v", second[0])
	}
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" || !strings.HasPrefix(last.Content, "Here are the details") {
		t.Fatalf("tool observation not fed back: %+v", last)
	}
}

func TestAgentToolErrorBecomesObservation(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{
		toolCall("c1", "mint_poap", `{}`),
		reply("Minting failed."),
	}}
	tools := &stubTools{errs: map[string]error{"mint_poap": errors.New("tool mint_poap is not available")}}
	ag := New(llmClient, tools)

	result, err := ag.Execute(context.Background(), TaskRequest{Message: "mint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Output != "Error: tool mint_poap is not available" {
		t.Fatalf("unexpected invocation: %+v", result.ToolCalls)
	}
	if result.ToolCalls[0].Error == "" {
		t.Fatalf("expected error to be recorded")
	}
}

func TestAgentStopsAtMaxSteps(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{
		toolCall("c1", "retrieve_event", `{}`),
		toolCall("c2", "retrieve_event", `{}`),
		toolCall("c3", "retrieve_event", `{}`),
	}}
	tools := &stubTools{outputs: map[string]string{"retrieve_event": "ok"}}
	ag := New(llmClient, tools, WithMaxSteps(2))

	result, err := ag.Execute(context.Background(), TaskRequest{Message: "loop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Steps != 2 || len(tools.calls) != 2 {
		t.Fatalf("expected two steps, got %+v calls=%v", result, tools.calls)
	}
	if !strings.Contains(result.Reply, "2 steps") {
		t.Fatalf("unexpected reply: %s", result.Reply)
	}
}

func TestAgentScriptedRequestBypassesLLM(t *testing.T) {
	llmClient := &stubLLM{}
	tools := &stubTools{outputs: map[string]string{"get_claim_codes": "Claim codes retrieved successfully: []"}}
	ag := New(llmClient, tools)

	result, err := ag.Execute(context.Background(), TaskRequest{
		Tool:      "get_claim_codes",
		Arguments: json.RawMessage(`{"event_id":"1","secret_code":"s"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llmClient.requests) != 0 {
		t.Fatalf("llm should not be called")
	}
	if result.Reply != "Claim codes retrieved successfully: []" || result.ToolCalls[0].Name != "get_claim_codes" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAgentScriptedRequestPropagatesError(t *testing.T) {
	cause := xerrors.New(xerrors.CodeUpstreamFailure, "503")
	tools := &stubTools{
		outputs: map[string]string{"mint_poap": "Failed to mint POAP. Status Code: 503. Error: down"},
		errs:    map[string]error{"mint_poap": cause},
	}
	ag := New(nil, tools)

	_, err := ag.Execute(context.Background(), TaskRequest{Tool: "mint_poap", Arguments: json.RawMessage(`{}`)})
	if !errors.Is(err, cause) || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
}

func TestAgentExecuteTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond}
	ag := New(llmClient, &stubTools{}, WithLLMTimeout(10*time.Millisecond))

	_, err := ag.Execute(context.Background(), TaskRequest{Message: "hi"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) || xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected coded deadline exceeded, got %v", err)
	}
}

func TestAgentRejectsEmptyRequest(t *testing.T) {
	ag := New(&stubLLM{}, &stubTools{})
	_, err := ag.Execute(context.Background(), TaskRequest{Message: "  "})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestAgentPersistsThreadAndRuns(t *testing.T) {
	cp := memory.NewInMemory(0)
	repo, err := mysql.NewFileRunRepository(filepath.Join(t.TempDir(), "runs.jsonl"))
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	llmClient := &stubLLM{responses: []*llm.Response{reply("first"), reply("second")}}
	ag := New(llmClient, &stubTools{}, WithCheckpointer(cp), WithRunRepository(repo))

	ctx := context.Background()
	if _, err := ag.Execute(ctx, TaskRequest{ThreadID: "t1", Message: "one"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := ag.Execute(ctx, TaskRequest{ThreadID: "t1", Message: "two"}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	seen := llmClient.requests[1].Messages
	if len(seen) != 3 || seen[0].Content != "one" || seen[1].Content != "first" || seen[2].Content != "two" {
		t.Fatalf("history not replayed: %+v", seen)
	}

	history, err := ag.ListHistory(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 || history[0].Reply != "second" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestListHistoryRequiresRepository(t *testing.T) {
	ag := New(&stubLLM{}, &stubTools{})
	if _, err := ag.ListHistory(context.Background(), "", 5); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

type blockingTools struct {
	stubTools
	started chan struct{}
	release chan struct{}
}

func (b *blockingTools) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "done", nil
}

func TestScriptedRunDoesNotBlockConversation(t *testing.T) {
	tools := &blockingTools{started: make(chan struct{}), release: make(chan struct{})}
	ag := New(&stubLLM{responses: []*llm.Response{reply("hi there")}}, tools)

	scriptedDone := make(chan error, 1)
	go func() {
		_, err := ag.Execute(context.Background(), TaskRequest{Tool: "distribute_poaps", Arguments: json.RawMessage(`{}`)})
		scriptedDone <- err
	}()
	<-tools.started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result, err := ag.Execute(ctx, TaskRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("conversation should not wait for a scripted run: %v", err)
	}
	if result.Reply != "hi there" {
		t.Fatalf("unexpected reply: %+v", result)
	}

	close(tools.release)
	if err := <-scriptedDone; err != nil {
		t.Fatalf("scripted run: %v", err)
	}
}

func TestConversationLockHonorsContext(t *testing.T) {
	started := make(chan struct{})
	llmClient := &blockingLLM{started: started, release: make(chan struct{})}
	ag := New(llmClient, &stubTools{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := ag.Execute(context.Background(), TaskRequest{ThreadID: "t", Message: "first"})
		firstDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := ag.Execute(ctx, TaskRequest{ThreadID: "t", Message: "second"})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout while waiting for the thread, got %v", err)
	}
	if waited := time.Since(begin); waited > time.Second {
		t.Fatalf("waited %s past the context deadline", waited)
	}

	// 其他会话不受影响。
	if _, err := ag.Execute(context.Background(), TaskRequest{ThreadID: "other", Message: "hi"}); err != nil {
		t.Fatalf("other thread: %v", err)
	}

	close(llmClient.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

type blockingLLM struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingLLM) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	first := false
	b.once.Do(func() { first = true; close(b.started) })
	if first {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return reply("ok"), nil
}
