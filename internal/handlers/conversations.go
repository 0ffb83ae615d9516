package handlers

import (
	"errors"
	"log"
	"net/http"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chat"
	"coursechat/backend/internal/models"
)

// GetConversation replays the caller's logged turns for one activity so
// the widget can restore the transcript on page load.
func (a *API) GetConversation(w http.ResponseWriter, r *http.Request, instanceID int64) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := queryInt(r, "limit", 50)
	turns, err := a.Service.Conversation(r.Context(), user, instanceID, limit)
	if err != nil {
		if errors.Is(err, chat.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		log.Printf("handlers: failed to load conversation %d for user %d: %v", instanceID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}
