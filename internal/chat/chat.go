package chat

import (
	"context"

	"coursechat/backend/internal/openai"
	"coursechat/backend/internal/tokens"
)

const sourceOfTruthReinforcement = " The assistant answers using the reference text above whenever it covers the question; otherwise it may answer from general knowledge."

// chatCompletion is the single-shot strategy: one synchronous call against
// the chat completions endpoint with the whole conversation replayed in the
// message list.
func (e *Engine) chatCompletion(ctx context.Context, client *openai.Client, req Request) (*Result, error) {
	s := req.Settings

	prompt := s.Prompt
	if s.SourceOfTruth != "" {
		prompt += sourceOfTruthReinforcement
	}
	prompt += "\n\n"

	messages := make([]openai.Message, 0, len(req.History)+3)
	if s.SourceOfTruth != "" {
		messages = append(messages, openai.Message{Role: "system", Content: s.SourceOfTruth})
	}
	messages = append(messages, openai.Message{Role: "system", Content: prompt})
	// Roles are inferred from position parity: even entries are the user's,
	// odd ones the assistant's. The widget has always sent history this way;
	// a skipped turn would silently mis-tag everything after it.
	for i, text := range req.History {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, openai.Message{Role: role, Content: text})
	}
	messages = append(messages, openai.Message{Role: "user", Content: req.Message})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatRequest{
		Model:            s.Model,
		Messages:         messages,
		Temperature:      s.Temperature,
		MaxTokens:        s.MaxTokens,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		// Stop at a fabricated next speaker label so the model cannot echo
		// a fake multi-turn continuation.
		Stop: s.UserDisplayName + ":",
	})
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindProvider, Detail: "empty completion response"}
	}

	return &Result{
		Message: resp.Choices[0].Message.Content,
		Usage:   tokens.Normalize(resp.Usage),
	}, nil
}
