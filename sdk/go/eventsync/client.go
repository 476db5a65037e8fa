// Package eventsync is a small Go client for the eventsyncd HTTP API.
package eventsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Chat turns may run several tool calls, so it is longer than a plain API call.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the EventSync daemon.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskSubmission is either a chat message or a scripted tool invocation.
type TaskSubmission struct {
	ID        string          `json:"id,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// TaskResult is the outcome of a finished task.
type TaskResult struct {
	Reply        string   `json:"reply"`
	ToolCalls    []string `json:"tool_calls,omitempty"`
	Observations string   `json:"observations,omitempty"`
}

// Task is the server view of a submitted task.
type Task struct {
	ID         string          `json:"id"`
	ThreadID   string          `json:"thread_id,omitempty"`
	Message    string          `json:"message,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     *TaskResult     `json:"result,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool {
	return t.Status == "succeeded" || (t.Status == "failed" && t.Attempts >= t.MaxRetries)
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("eventsync api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("eventsync api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the EventSync API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends one message on a thread and returns the agent's reply. An empty
// threadID uses the server's default thread.
func (c *Client) Chat(ctx context.Context, threadID, message string) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	in := struct {
		Message  string `json:"message"`
		ThreadID string `json:"thread_id,omitempty"`
	}{Message: message, ThreadID: threadID}
	if err := c.post(ctx, "/chat", in, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// SubmitTask queues a task for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// WaitTask polls GetTask until the task is done or ctx ends.
func (c *Client) WaitTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		current, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if current.Done() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
