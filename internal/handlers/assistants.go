package handlers

import (
	"errors"
	"log"
	"net/http"

	"coursechat/backend/internal/openai"
)

// ListAssistants fetches the assistants available under the site API key
// so the activity settings form can offer a picker instead of a raw ID
// field.
func (a *API) ListAssistants(w http.ResponseWriter, r *http.Request) {
	site, err := a.Store.GetSiteConfig(r.Context())
	if err != nil {
		log.Printf("handlers: failed to load site config: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if site.APIKey == "" {
		writeError(w, http.StatusUnprocessableEntity, "API key is not configured")
		return
	}

	client := openai.NewClient(site.APIKey, a.OpenAIBaseURL, nil)
	assistants, err := client.ListAssistants(r.Context())
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, apiErr.Message)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "the provider is temporarily unavailable, please try again")
		return
	}
	if assistants == nil {
		assistants = []openai.Assistant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assistants": assistants})
}
