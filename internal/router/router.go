package router

import (
	"net/http"
	"strconv"
	"strings"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/handlers"
	"coursechat/backend/internal/middleware"
	"coursechat/backend/internal/realtime"
)

type Router struct {
	api     *handlers.API
	auth    *auth.Service
	limiter *middleware.RateLimiter
	origin  string
	hub     *realtime.Hub
}

func New(api *handlers.API, authService *auth.Service, limiter *middleware.RateLimiter, origin string, hub *realtime.Hub) *Router {
	return &Router{api: api, auth: authService, limiter: limiter, origin: origin, hub: hub}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if middleware.HandleCORS(w, r, rt.origin) {
		return
	}
	middleware.SecurityHeaders(w)

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	if path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
		return
	}

	if strings.HasPrefix(path, "/api/v1/") {
		user, err := middleware.Authenticate(r, rt.auth)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("{\"error\":\"unauthorized\"}"))
			return
		}
		if rt.limiter != nil {
			key := "user:" + strconv.FormatInt(user.ID, 10)
			if !rt.limiter.Allow(key) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("{\"error\":\"rate limit exceeded\"}"))
				return
			}
		}
		if err := middleware.ValidateCSRF(r, user); err != nil {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("{\"error\":\"invalid csrf token\"}"))
			return
		}
		r = r.WithContext(auth.WithUser(r.Context(), user))
	} else if rt.limiter != nil {
		key := middleware.ClientKey(r)
		if !rt.limiter.Allow(key) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("{\"error\":\"rate limit exceeded\"}"))
			return
		}
	}

	switch {
	case path == "/api/v1/completions":
		if r.Method == http.MethodPost {
			rt.api.CreateCompletion(w, r)
			return
		}
	case path == "/api/v1/limit":
		if r.Method == http.MethodGet {
			rt.api.GetLimit(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/conversations/"):
		idPart := strings.TrimPrefix(path, "/api/v1/conversations/")
		if r.Method == http.MethodGet {
			if id, ok := handlers.ParseID(idPart); ok {
				rt.api.GetConversation(w, r, id)
				return
			}
		}
	case path == "/api/v1/assistants":
		if r.Method == http.MethodGet {
			rt.api.ListAssistants(w, r)
			return
		}
	case path == "/api/v1/reports/agents":
		if r.Method == http.MethodGet {
			rt.api.GetAgentUsageReport(w, r)
			return
		}
	case path == "/api/v1/reports/users":
		if r.Method == http.MethodGet {
			rt.api.GetUserUsageReport(w, r)
			return
		}
	case path == "/api/v1/reports/daily":
		if r.Method == http.MethodGet {
			rt.api.GetDailyUsageReport(w, r)
			return
		}
	case path == "/api/v1/reports/models":
		if r.Method == http.MethodGet {
			rt.api.GetModelUsageReport(w, r)
			return
		}
	case path == "/api/v1/ws":
		if r.Method == http.MethodGet && rt.hub != nil {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("{\"error\":\"unauthorized\"}"))
				return
			}
			instanceID, valid := handlers.ParseID(r.URL.Query().Get("instance"))
			if !valid {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("{\"error\":\"instance is required\"}"))
				return
			}
			realtime.ServeWS(w, r, rt.hub, instanceID, user.ID)
			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("{\"error\":\"not found\"}"))
}
