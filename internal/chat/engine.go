package chat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"coursechat/backend/internal/openai"
	"coursechat/backend/internal/tokens"
)

const (
	defaultPollInterval   = time.Second
	defaultMaxPolls       = 60
	defaultTimeoutMessage = "The assistant took too long to respond. Please send your message again."
)

type Request struct {
	// Message is the new user message; History holds the prior exchange
	// texts in order, alternating user/assistant by position parity.
	Message  string
	History  []string
	Settings EffectiveSettings
	// ThreadID is the provider-side conversation handle, empty for a new
	// conversation. Only the assistant mode uses it.
	ThreadID string
}

type Result struct {
	Message  string        `json:"message"`
	Usage    *tokens.Usage `json:"usage,omitempty"`
	ThreadID string        `json:"thread_id,omitempty"`
}

// Engine dispatches a completion request to the strategy selected by the
// resolved mode. The mode set is closed: anything but chat or assistant is
// an invalid configuration, not a fallback.
type Engine struct {
	BaseURL    string
	HTTPClient *http.Client

	// Assistant-run polling knobs; zero values take the defaults of
	// 1 second and 60 polls. Tests shrink the interval.
	PollInterval   time.Duration
	MaxPolls       int
	TimeoutMessage string
}

func NewEngine(baseURL string) *Engine {
	return &Engine{BaseURL: baseURL}
}

func (e *Engine) CreateCompletion(ctx context.Context, req Request) (*Result, error) {
	client := openai.NewClient(req.Settings.APIKey, e.BaseURL, e.HTTPClient)
	switch req.Settings.Mode {
	case ModeChat:
		return e.chatCompletion(ctx, client, req)
	case ModeAssistant:
		return e.assistantCompletion(ctx, client, req)
	default:
		return nil, &Error{Kind: KindConfig, Detail: fmt.Sprintf("unknown completion mode %q", req.Settings.Mode)}
	}
}

func (e *Engine) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return defaultPollInterval
}

func (e *Engine) maxPolls() int {
	if e.MaxPolls > 0 {
		return e.MaxPolls
	}
	return defaultMaxPolls
}

func (e *Engine) timeoutMessage() string {
	if e.TimeoutMessage != "" {
		return e.TimeoutMessage
	}
	return defaultTimeoutMessage
}
