package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chat"
)

type API struct {
	Service *chat.Service
	Store   *chat.Store
	Auth    *auth.Service

	// OpenAIBaseURL is used for admin-facing provider lookups (assistant
	// listing); completions go through the engine.
	OpenAIBaseURL string
}

func NewAPI(service *chat.Service, store *chat.Store, authService *auth.Service, openAIBaseURL string) *API {
	return &API{Service: service, Store: store, Auth: authService, OpenAIBaseURL: openAIBaseURL}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func ParseID(pathPart string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(pathPart), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func queryInstance(r *http.Request) int64 {
	value := r.URL.Query().Get("instance")
	if value == "" {
		return 0
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
