package handlers

import (
	"errors"
	"log"
	"net/http"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chat"
)

// CreateCompletion runs one conversation turn. The error mapping keeps
// provider detail and transport detail apart: a provider-level message is
// usually actionable and is relayed verbatim, while transport failures
// collapse to a generic retry message so internal endpoints and timeouts
// never leak to the widget.
func (a *API) CreateCompletion(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chat.CompletionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstanceID <= 0 {
		writeError(w, http.StatusBadRequest, "instance_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := a.Service.Complete(r.Context(), user, req)
	if err != nil {
		a.writeCompletionError(w, user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) writeCompletionError(w http.ResponseWriter, userID int64, err error) {
	var limitErr *chat.LimitError
	if errors.As(err, &limitErr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    "token limit exceeded",
			"used":     limitErr.Status.Used,
			"limit":    limitErr.Status.Limit,
			"reset_at": limitErr.Status.ResetAt,
		})
		return
	}
	if errors.Is(err, chat.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if errors.Is(err, chat.ErrGuestNotAllowed) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	if kind, ok := chat.KindOf(err); ok {
		switch kind {
		case chat.KindConfig:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case chat.KindProvider:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			log.Printf("handlers: completion transport failure for user %d: %v", userID, err)
			writeError(w, http.StatusServiceUnavailable, "the assistant is temporarily unavailable, please try again")
		}
		return
	}

	log.Printf("handlers: completion failed for user %d: %v", userID, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// GetLimit reports the caller's token budget so the widget can render a
// usage bar before the student types anything.
func (a *API) GetLimit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := a.Service.Limit(r.Context(), user)
	if err != nil {
		log.Printf("handlers: limit check failed for user %d: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
