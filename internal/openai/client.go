// Package openai is a thin client for the provider's HTTP API. The
// completion engine needs the raw wire: error envelopes that can arrive on
// any status code, usage payloads in more than one naming convention, and
// the assistants beta endpoints, so requests are issued directly rather
// than through an SDK.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.openai.com/v1"

const assistantsVersion = "assistants=v2"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// APIError is an application-level error the provider reported in its
// response body.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
}

// TransportError is a network-level failure: the provider never produced a
// readable response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "provider unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	Stop             string    `json:"stop,omitempty"`
}

type ChatChoice struct {
	Message Message `json:"message"`
}

// ChatResponse keeps Usage as the raw decoded map so the caller can run it
// through the usage normalizer untouched.
type ChatResponse struct {
	ID      string         `json:"id"`
	Choices []ChatChoice   `json:"choices"`
	Usage   map[string]any `json:"usage"`
}

type RunRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
}

type Run struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Usage     map[string]any `json:"usage"`
	LastError *RunError      `json:"last_error"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ThreadMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"`
	Content  []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

func (m ThreadMessage) Text() string {
	for _, block := range m.Content {
		if block.Text.Value != "" {
			return block.Text.Value
		}
	}
	return ""
}

type Assistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", true, nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) AddThreadMessage(ctx context.Context, threadID, content string) (string, error) {
	body := map[string]string{"role": "user", "content": content}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", true, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", true, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, true, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListThreadMessages returns the thread's messages, most recent first.
func (c *Client) ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var resp struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListAssistants(ctx context.Context) ([]Assistant, error) {
	var resp struct {
		Data []Assistant `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/assistants?order=desc&limit=100", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, beta bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if beta {
		req.Header.Set("OpenAI-Beta", assistantsVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	// The provider reports application errors in a body envelope; it can
	// appear with a 200 status, so check it before the status code.
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		return &APIError{Message: envelope.Error.Message, Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Message: strings.TrimSpace(string(data)), Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed provider response: %w", err)
	}
	return nil
}
