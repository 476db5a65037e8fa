package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EventSync-Agent/internal/agent"
	"EventSync-Agent/internal/auth"
	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/task"
)

type stubChatter struct {
	requests []agent.TaskRequest
	chunks   []agent.Chunk
	err      error
	history  []agent.TaskResult
}

func (s *stubChatter) Stream(_ context.Context, req agent.TaskRequest, emit func(agent.Chunk)) (*agent.TaskResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.chunks {
		emit(c)
	}
	return &agent.TaskResult{Input: req.Message}, nil
}

func (s *stubChatter) ListHistory(_ context.Context, threadID string, limit int) ([]agent.TaskResult, error) {
	out := make([]agent.TaskResult, 0)
	for _, r := range s.history {
		if threadID == "" || r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubCatalog struct{}

func (stubCatalog) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "retrieve_event", Description: "Retrieve event", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func newTestServer(t *testing.T, chatter Chatter) (*Server, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	return NewServer(":0", svc, WithAgent(chatter), WithTools(stubCatalog{}), WithRedirectURL("https://eventsync.example")), store
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatReturnsOnlyAgentChunks(t *testing.T) {
	chatter := &stubChatter{chunks: []agent.Chunk{
		{Kind: agent.ChunkTools, Content: "Here are the details of the event:"},
		{Kind: agent.ChunkAgent, Content: "Your event is Demo Day."},
	}}
	server, _ := newTestServer(t, chatter)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/chat", chatRequest{Message: "tell me about event 1", ThreadID: "web"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Your event is Demo Day.", resp.Response)
	require.Len(t, chatter.requests, 1)
	assert.Equal(t, "web", chatter.requests[0].ThreadID)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	server, _ := newTestServer(t, &stubChatter{})

	rec := doJSON(t, server.Handler(), http.MethodPost, "/chat", chatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, server.Handler(), http.MethodPost, "/chat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMapsAgentErrors(t *testing.T) {
	server, _ := newTestServer(t, &stubChatter{err: xerrors.New(xerrors.CodeTimeout, "llm timed out")})

	rec := doJSON(t, server.Handler(), http.MethodPost, "/chat", chatRequest{Message: "hi"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(xerrors.CodeTimeout), resp.Code)
	assert.Equal(t, "llm timed out", resp.Error)
}

func TestCreateAndFetchTask(t *testing.T) {
	server, _ := newTestServer(t, &stubChatter{})
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", agent.TaskRequest{
		ID:        "task-1",
		Tool:      "get_claim_codes",
		Arguments: json.RawMessage(`{"event_id":"7","secret_code":"s"}`),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/task-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "task-1", got.ID)
	assert.Equal(t, "get_claim_codes", got.Tool)
	assert.Equal(t, task.StatusPending, got.Status)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks", agent.TaskRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasksAppliesFilters(t *testing.T) {
	server, store := newTestServer(t, &stubChatter{})
	ctx := context.Background()
	for _, sample := range []*task.Task{
		{ID: "a", Message: "mint badges", Status: task.StatusSucceeded, MaxRetries: 3, UpdatedAt: 1700000000, Result: &task.ExecutionResult{Reply: "ok"}},
		{ID: "b", Message: "list attendees", Status: task.StatusFailed, MaxRetries: 3, UpdatedAt: 1700000010},
		{ID: "c", Message: "mint more badges", Status: task.StatusPending, MaxRetries: 3, UpdatedAt: 1700000020},
	} {
		require.NoError(t, store.Create(ctx, sample))
	}
	h := server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/tasks?status=succeeded,pending&q=mint&order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats task.TaskStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Failed)
}

func TestHistoryToolsAndHealth(t *testing.T) {
	chatter := &stubChatter{history: []agent.TaskResult{
		{ThreadID: "t1", Input: "one", Reply: "first"},
		{ThreadID: "t2", Input: "two", Reply: "second"},
	}}
	server, _ := newTestServer(t, chatter)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/history?thread_id=t2&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []agent.TaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "second", history[0].Reply)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "retrieve_event")

	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIndexRedirectsAndCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, &stubChatter{})
	h := server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://eventsync.example", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "http://localhost:3000", pre.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPITokensGuardTaskRoutesOnly(t *testing.T) {
	chatter := &stubChatter{chunks: []agent.Chunk{{Kind: agent.ChunkAgent, Content: "hi"}}}
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 3)
	server := NewServer(":0", svc, WithAgent(chatter), WithAuth(auth.NewService(map[string]string{"ops": "s3cret"})))
	h := server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	authed := httptest.NewRecorder()
	h.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)

	rec = doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
