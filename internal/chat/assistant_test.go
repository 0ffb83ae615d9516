package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func assistantSettings() EffectiveSettings {
	return EffectiveSettings{
		APIKey:      "sk-test",
		Mode:        ModeAssistant,
		AssistantID: "asst_123",
	}
}

// assistantStub fakes the provider's thread/run endpoints. Run status
// progresses through the supplied sequence, one entry per poll.
type assistantStub struct {
	mu       sync.Mutex
	statuses []map[string]any
	polls    int

	threadsCreated  int
	messagesAdded   []string
	failAddOnThread string
}

func (s *assistantStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		path := r.URL.Path
		switch {
		case r.Method == http.MethodPost && path == "/threads":
			s.threadsCreated++
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "thread_" + string(rune('0'+s.threadsCreated))})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
			threadID := strings.TrimSuffix(strings.TrimPrefix(path, "/threads/"), "/messages")
			if threadID == s.failAddOnThread {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "No thread found with id '" + threadID + "'."},
				})
				return
			}
			s.messagesAdded = append(s.messagesAdded, threadID)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg_1"})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/runs"):
			_ = json.NewEncoder(w).Encode(s.nextStatus())
		case r.Method == http.MethodGet && strings.Contains(path, "/runs/"):
			_ = json.NewEncoder(w).Encode(s.nextStatus())
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/messages"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{
						"id":   "msg_2",
						"role": "assistant",
						"content": []map[string]any{
							{"type": "text", "text": map[string]any{"value": "The answer is 42."}},
						},
					},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (s *assistantStub) nextStatus() map[string]any {
	status := s.statuses[len(s.statuses)-1]
	if s.polls < len(s.statuses) {
		status = s.statuses[s.polls]
	}
	s.polls++
	run := map[string]any{"id": "run_1"}
	for k, v := range status {
		run[k] = v
	}
	return run
}

func fastEngine(baseURL string) *Engine {
	engine := NewEngine(baseURL)
	engine.PollInterval = time.Millisecond
	return engine
}

func TestAssistantCompletionHappyPath(t *testing.T) {
	stub := &assistantStub{statuses: []map[string]any{
		{"status": "queued"},
		{"status": "in_progress"},
		{"status": "completed", "usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28}},
	}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	result, err := fastEngine(server.URL).CreateCompletion(context.Background(), Request{
		Message:  "What is the answer?",
		Settings: assistantSettings(),
	})
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if result.Message != "The answer is 42." {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if result.ThreadID == "" {
		t.Fatalf("result must carry the thread handle")
	}
	if result.Usage == nil || result.Usage.Total != 28 {
		t.Fatalf("unexpected usage: %+v", result.Usage)
	}
	if stub.threadsCreated != 1 {
		t.Fatalf("expected one thread, got %d", stub.threadsCreated)
	}
}

func TestAssistantCompletionReusesThread(t *testing.T) {
	stub := &assistantStub{statuses: []map[string]any{
		{"status": "completed", "usage": map[string]any{"input_tokens": 5, "output_tokens": 2, "total_tokens": 7}},
	}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	result, err := fastEngine(server.URL).CreateCompletion(context.Background(), Request{
		Message:  "And why?",
		Settings: assistantSettings(),
		ThreadID: "thread_existing",
	})
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if result.ThreadID != "thread_existing" {
		t.Fatalf("expected the supplied thread to be reused, got %q", result.ThreadID)
	}
	if stub.threadsCreated != 0 {
		t.Fatalf("no thread should be created, got %d", stub.threadsCreated)
	}
	if result.Usage == nil || result.Usage.Prompt != 5 || result.Usage.Total != 7 {
		t.Fatalf("input/output naming must normalize: %+v", result.Usage)
	}
}

func TestAssistantCompletionRetriesStaleThread(t *testing.T) {
	stub := &assistantStub{
		statuses:        []map[string]any{{"status": "completed"}},
		failAddOnThread: "thread_stale",
	}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	result, err := fastEngine(server.URL).CreateCompletion(context.Background(), Request{
		Message:  "Hello again",
		Settings: assistantSettings(),
		ThreadID: "thread_stale",
	})
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if result.ThreadID == "thread_stale" {
		t.Fatalf("stale handle must be replaced")
	}
	if stub.threadsCreated != 1 {
		t.Fatalf("expected one fresh thread, got %d", stub.threadsCreated)
	}
}

func TestAssistantCompletionTimeoutIsSoftSuccess(t *testing.T) {
	stub := &assistantStub{statuses: []map[string]any{
		{"status": "in_progress", "usage": map[string]any{"prompt_tokens": 9, "completion_tokens": 0, "total_tokens": 9}},
	}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	engine := fastEngine(server.URL)
	engine.MaxPolls = 3

	result, err := engine.CreateCompletion(context.Background(), Request{
		Message:  "Take your time",
		Settings: assistantSettings(),
	})
	if err != nil {
		t.Fatalf("poll budget expiry must not be an error, got %v", err)
	}
	if result.Message != defaultTimeoutMessage {
		t.Fatalf("expected the timeout message, got %q", result.Message)
	}
	if result.ThreadID == "" {
		t.Fatalf("the thread handle must survive a timeout")
	}
	if result.Usage == nil || result.Usage.Total != 9 {
		t.Fatalf("usage captured before the timeout must be kept: %+v", result.Usage)
	}
}

func TestAssistantCompletionRunFailed(t *testing.T) {
	stub := &assistantStub{statuses: []map[string]any{
		{"status": "queued"},
		{"status": "failed", "last_error": map[string]any{"code": "rate_limit_exceeded", "message": "Rate limit reached"}},
	}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	_, err := fastEngine(server.URL).CreateCompletion(context.Background(), Request{
		Message:  "hi",
		Settings: assistantSettings(),
	})
	kind, ok := KindOf(err)
	if !ok || kind != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("run failure detail must be surfaced: %v", err)
	}
}

func TestAssistantCompletionContextCancelled(t *testing.T) {
	stub := &assistantStub{statuses: []map[string]any{{"status": "in_progress"}}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(server.URL)
	engine.PollInterval = time.Hour

	_, err := engine.CreateCompletion(ctx, Request{Message: "hi", Settings: assistantSettings()})
	kind, ok := KindOf(err)
	if !ok || kind != KindTransport {
		t.Fatalf("expected transport error on cancellation, got %v", err)
	}
}
