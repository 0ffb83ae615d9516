package chat

import (
	"context"
	"time"

	"coursechat/backend/internal/openai"
	"coursechat/backend/internal/tokens"
)

// Terminal run statuses reported by the provider.
const (
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
	runStatusCancelled = "cancelled"
	runStatusExpired   = "expired"
)

// assistantCompletion is the stateful strategy: reuse or create a remote
// thread, append the user message, start an asynchronous run and poll it
// until it completes, fails, or exhausts the poll budget. The poll budget
// expiring is reported as a successful result carrying a human-readable
// timeout message, not as an error, so the conversation log stays coherent.
func (e *Engine) assistantCompletion(ctx context.Context, client *openai.Client, req Request) (*Result, error) {
	s := req.Settings

	threadID := req.ThreadID
	if threadID == "" {
		created, err := client.CreateThread(ctx)
		if err != nil {
			return nil, wrapProviderErr(err)
		}
		threadID = created
	}

	if _, err := client.AddThreadMessage(ctx, threadID, req.Message); err != nil {
		// A cached handle can go stale (thread expired or deleted
		// provider-side). Discard it and retry once on a fresh thread.
		if req.ThreadID == "" {
			return nil, wrapProviderErr(err)
		}
		created, createErr := client.CreateThread(ctx)
		if createErr != nil {
			return nil, wrapProviderErr(createErr)
		}
		threadID = created
		if _, err := client.AddThreadMessage(ctx, threadID, req.Message); err != nil {
			return nil, wrapProviderErr(err)
		}
	}

	run, err := client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:  s.AssistantID,
		Instructions: s.Instructions,
	})
	if err != nil {
		return nil, wrapProviderErr(err)
	}

	// Usage can show up on any poll response, and later polls may carry
	// more complete numbers than earlier ones: the last capture wins.
	var usage *tokens.Usage
	polls := 0
	for {
		if captured := tokens.Normalize(run.Usage); captured != nil {
			usage = captured
		}

		switch run.Status {
		case runStatusCompleted:
			return e.fetchLatestMessage(ctx, client, threadID, usage)
		case runStatusFailed, runStatusCancelled, runStatusExpired:
			detail := "run " + run.Status
			if run.LastError != nil && run.LastError.Message != "" {
				detail = run.LastError.Message
			}
			return nil, &Error{Kind: KindProvider, Detail: detail}
		}

		polls++
		if polls >= e.maxPolls() {
			return &Result{Message: e.timeoutMessage(), ThreadID: threadID, Usage: usage}, nil
		}

		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindTransport, Detail: "request cancelled", Err: ctx.Err()}
		case <-time.After(e.pollInterval()):
		}

		run, err = client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, wrapProviderErr(err)
		}
	}
}

func (e *Engine) fetchLatestMessage(ctx context.Context, client *openai.Client, threadID string, usage *tokens.Usage) (*Result, error) {
	messages, err := client.ListThreadMessages(ctx, threadID)
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	if len(messages) == 0 {
		return nil, &Error{Kind: KindProvider, Detail: "thread has no messages"}
	}
	return &Result{
		Message:  messages[0].Text(),
		ThreadID: threadID,
		Usage:    usage,
	}, nil
}
