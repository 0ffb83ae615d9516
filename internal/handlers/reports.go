package handlers

import (
	"log"
	"net/http"
	"time"

	"coursechat/backend/internal/tokens"
)

// Usage reports aggregate the chat_agent_usage telemetry. All four
// endpoints accept ?days=N (default 30); the agent and user breakdowns
// also accept ?instance=ID to scope to one activity.

func reportSince(r *http.Request) time.Time {
	days := queryInt(r, "days", 30)
	if days == 0 || days > 365 {
		days = 30
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}

func (a *API) GetAgentUsageReport(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.Store.UsageByAgent(r.Context(), reportSince(r), queryInstance(r))
	if err != nil {
		log.Printf("handlers: agent usage report failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": summaries})
}

func (a *API) GetUserUsageReport(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.Store.UsageByUser(r.Context(), reportSince(r), queryInstance(r))
	if err != nil {
		log.Printf("handlers: user usage report failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": summaries})
}

func (a *API) GetDailyUsageReport(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	usage, err := a.Store.DailyUsage(r.Context(), days, queryInstance(r))
	if err != nil {
		log.Printf("handlers: daily usage report failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": usage})
}

// GetModelUsageReport breaks usage down per model and attaches a cost
// estimate from the static rate table.
func (a *API) GetModelUsageReport(w http.ResponseWriter, r *http.Request) {
	usage, err := a.Store.TopModels(r.Context(), queryInt(r, "limit", 10), reportSince(r))
	if err != nil {
		log.Printf("handlers: model usage report failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for i := range usage {
		usage[i].EstimatedCost = tokens.EstimateCost(tokens.Usage{
			Prompt:     int(usage[i].PromptTokens),
			Completion: int(usage[i].CompletionTokens),
			Total:      int(usage[i].TotalTokens),
		}, usage[i].Model)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": usage})
}
