package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Handler serves the JSON auth endpoints.
type Handler struct {
	userService    *UserService
	sessionService *SessionService
}

// NewHandler creates a new auth handler.
func NewHandler(userService *UserService, sessionService *SessionService) *Handler {
	return &Handler{
		userService:    userService,
		sessionService: sessionService,
	}
}

// RegisterRoutes registers the auth routes on the given mux. The routes
// expect Middleware.Authenticate to have run.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/whoami", h.HandleWhoami)
}

// WhoamiResponse is the response for the whoami endpoint.
type WhoamiResponse struct {
	UserID        string `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// HandleWhoami returns information about the current user.
func (h *Handler) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(WhoamiResponse{
		UserID:        p.UserID,
		Username:      p.Username,
		Authenticated: p.IsAuthenticated(),
	})
}

// Login creates a session for user and sets the session cookie.
func (s *SessionService) Login(ctx context.Context, w http.ResponseWriter, userID string) error {
	sessionID, err := s.Create(ctx, userID)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.SetCookie(w, sessionID)
	return nil
}

// Logout deletes the request's session, if any, and clears the cookie.
func (s *SessionService) Logout(w http.ResponseWriter, r *http.Request) error {
	defer s.ClearCookie(w)
	sessionID, err := GetFromRequest(r)
	if err != nil {
		return nil
	}
	return s.Delete(r.Context(), sessionID)
}
