package tokens

import (
	"math"
	"strings"
)

type rate struct {
	prefix     string
	prompt     float64
	completion float64
}

// Per-1K-token rates by model family, most specific prefix first. Rates are
// estimates for reporting only and carry no billing authority.
var rates = []rate{
	{"gpt-4o-mini", 0.00015, 0.0006},
	{"gpt-4o", 0.005, 0.015},
	{"gpt-4-turbo", 0.01, 0.03},
	{"gpt-4", 0.03, 0.06},
	{"gpt-3.5-turbo", 0.0005, 0.0015},
}

const defaultPromptRate, defaultCompletionRate = 0.002, 0.002

// EstimateCost returns the estimated USD cost of a usage record for the
// given model, rounded to four decimal places.
func EstimateCost(usage Usage, model string) float64 {
	promptRate, completionRate := defaultPromptRate, defaultCompletionRate
	for _, r := range rates {
		if strings.HasPrefix(model, r.prefix) {
			promptRate, completionRate = r.prompt, r.completion
			break
		}
	}
	cost := (float64(usage.Prompt)/1000.0)*promptRate + (float64(usage.Completion)/1000.0)*completionRate
	return math.Round(cost*10000) / 10000
}
