package tokens

import "strconv"

// Usage is the canonical token accounting triple. Providers have shipped at
// least two field-naming conventions for this data; Normalize maps both
// into this one shape.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Normalize converts a raw provider usage payload into a Usage. It returns
// nil when the payload carries none of the known token fields: an absent
// report and a zero report are observably different downstream, so zeros
// are never fabricated.
func Normalize(raw map[string]any) *Usage {
	if raw == nil {
		return nil
	}

	prompt, hasPrompt := intField(raw, "prompt_tokens")
	if !hasPrompt {
		prompt, hasPrompt = intField(raw, "input_tokens")
	}
	completion, hasCompletion := intField(raw, "completion_tokens")
	if !hasCompletion {
		completion, hasCompletion = intField(raw, "output_tokens")
	}
	total, hasTotal := intField(raw, "total_tokens")

	if !hasPrompt && !hasCompletion && !hasTotal {
		return nil
	}
	if !hasTotal {
		total = prompt + completion
	}
	return &Usage{Prompt: prompt, Completion: completion, Total: total}
}

// Raw renders the usage in the prompt/completion wire convention, the form
// the provider's synchronous endpoint reports.
func (u Usage) Raw() map[string]any {
	return map[string]any{
		"prompt_tokens":     u.Prompt,
		"completion_tokens": u.Completion,
		"total_tokens":      u.Total,
	}
}

// intField reads a numeric field, tolerating the numeric types a JSON
// decoder or a provider SDK may hand us. A present but non-numeric value
// counts as 0 for that sub-field only.
func intField(raw map[string]any, key string) (int, bool) {
	value, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return clamp(v), true
	case int64:
		return clamp(int(v)), true
	case float64:
		return clamp(int(v)), true
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return clamp(parsed), true
		}
		return 0, true
	default:
		return 0, true
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
