package chat

import (
	"errors"
	"fmt"

	"coursechat/backend/internal/openai"
	"coursechat/backend/internal/tokens"
)

// ErrGuestNotAllowed is returned when the site restricts chat usage to
// enrolled users and the session carries no user id.
var ErrGuestNotAllowed = errors.New("guests may not use this chat")

type ErrorKind int

const (
	// KindConfig: the request can never succeed as configured. Surfaced
	// immediately, never logged as a conversation turn.
	KindConfig ErrorKind = iota
	// KindTransport: the provider was unreachable. Callers show a generic
	// retry message; the wrapped error stays server-side.
	KindTransport
	// KindProvider: the provider answered with an application-level error.
	// Its message is usually actionable and is relayed verbatim.
	KindProvider
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	default:
		return "provider"
	}
}

type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the completion error kind, reporting ok=false for errors
// outside the taxonomy.
func KindOf(err error) (ErrorKind, bool) {
	var completionErr *Error
	if errors.As(err, &completionErr) {
		return completionErr.Kind, true
	}
	return 0, false
}

// LimitError is returned before any provider call when the user's token
// budget is exhausted. It carries enough state for the caller to render a
// countdown.
type LimitError struct {
	Status tokens.LimitStatus
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("token limit exceeded: %d of %d used", e.Status.Used, e.Status.Limit)
}

// wrapProviderErr classifies a gateway failure into the completion error
// taxonomy.
func wrapProviderErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindProvider, Detail: apiErr.Message, Err: err}
	}
	return &Error{Kind: KindTransport, Detail: "provider request failed", Err: err}
}
