package auth

import (
	"errors"
	"net/http"

	"github.com/kuitang/yanote/internal/obs"
	"github.com/kuitang/yanote/internal/urlutil"
)

// Middleware resolves the request principal from the session cookie.
type Middleware struct {
	sessions  *SessionService
	users     *UserService
	loginPath string
}

// NewMiddleware creates a new auth middleware. loginPath is where RequireLogin
// sends anonymous requests.
func NewMiddleware(sessions *SessionService, users *UserService, loginPath string) *Middleware {
	return &Middleware{
		sessions:  sessions,
		users:     users,
		loginPath: loginPath,
	}
}

// Authenticate stores the request principal in the context. Requests without
// a valid session continue as Anonymous.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := m.resolve(r)
		ctx := WithPrincipal(r.Context(), p)
		if p.IsAuthenticated() {
			ctx = obs.WithUserID(ctx, p.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireLogin redirects anonymous requests to the login page with next set
// to the requested path. Must run inside Authenticate.
func (m *Middleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthenticated(r.Context()) {
			http.Redirect(w, r, urlutil.LoginURL(m.loginPath, r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) resolve(r *http.Request) Principal {
	sessionID, err := GetFromRequest(r)
	if err != nil {
		return Anonymous
	}
	userID, err := m.sessions.Validate(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			obs.From(r.Context()).Warn("session_validate_failed", "pkg", "auth", "error", err)
		}
		return Anonymous
	}
	user, err := m.users.GetByID(r.Context(), userID)
	if err != nil {
		obs.From(r.Context()).Warn("session_user_lookup_failed", "pkg", "auth", "error", err)
		return Anonymous
	}
	return user.Principal()
}
