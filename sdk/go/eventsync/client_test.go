package eventsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestChatPostsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if in["message"] != "list attendees for 42" || in["thread_id"] != "ops" {
			t.Fatalf("unexpected body: %v", in)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "3 attendees"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	reply, err := client.Chat(context.Background(), "ops", "list attendees for 42")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "3 attendees" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestSubmitAndWaitTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks":
			var in TaskSubmission
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if in.Tool != "mint_poap" || string(in.Arguments) != `{"address":"a@b.c"}` {
				t.Fatalf("unexpected submission: %+v", in)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "pending", MaxRetries: 3})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/task-1":
			task := Task{ID: "task-1", Status: "running", MaxRetries: 3, Attempts: 1}
			if polls.Add(1) > 1 {
				task.Status = "succeeded"
				task.Result = &TaskResult{Reply: "Successfully minted POAP"}
			}
			_ = json.NewEncoder(w).Encode(task)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	created, err := client.SubmitTask(ctx, TaskSubmission{Tool: "mint_poap", Arguments: json.RawMessage(`{"address":"a@b.c"}`)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := client.WaitTask(ctx, created.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Result == nil || done.Result.Reply != "Successfully minted POAP" {
		t.Fatalf("unexpected task: %+v", done)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "task not found", "code": "TASK_NOT_FOUND"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" || apiErr.Message != "task not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
