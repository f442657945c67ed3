package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/errs"
	"github.com/kuitang/yanote/internal/logutil"
	"github.com/kuitang/yanote/internal/notes"
	"github.com/kuitang/yanote/internal/obs"
	"github.com/kuitang/yanote/internal/ratelimit"
	"github.com/kuitang/yanote/internal/urlutil"
)

// WebHandler provides HTTP handlers for web UI pages.
type WebHandler struct {
	renderer       *Renderer
	notesService   *notes.Service
	userService    *auth.UserService
	sessionService *auth.SessionService
	authMiddleware *auth.Middleware
	authLimiter    *ratelimit.RateLimiter
	baseURL        string
}

// NewWebHandler creates a new web handler. authLimiter throttles login and
// signup submissions per client; nil disables throttling.
func NewWebHandler(
	renderer *Renderer,
	notesService *notes.Service,
	userService *auth.UserService,
	sessionService *auth.SessionService,
	authMiddleware *auth.Middleware,
	authLimiter *ratelimit.RateLimiter,
	baseURL string,
) *WebHandler {
	return &WebHandler{
		renderer:       renderer,
		notesService:   notesService,
		userService:    userService,
		sessionService: sessionService,
		authMiddleware: authMiddleware,
		authLimiter:    authLimiter,
		baseURL:        baseURL,
	}
}

// RouteRegistrar adds routes to a mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Routes returns the complete site handler: every web route plus extra,
// behind panic recovery, request ids, access logs, authentication and the
// same-origin check for form posts.
func (h *WebHandler) Routes(extra ...RouteRegistrar) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	for _, r := range extra {
		r.RegisterRoutes(mux)
	}

	var handler http.Handler = mux
	handler = h.requireSameOrigin(handler)
	handler = h.authMiddleware.Authenticate(handler)
	handler = obs.AccessLogMiddleware("http", handler)
	handler = obs.RequestContextMiddleware(handler)
	return obs.RecoverMiddleware(handler)
}

// RegisterRoutes registers all web UI routes on the given mux.
func (h *WebHandler) RegisterRoutes(mux *http.ServeMux) {
	login := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.RequireLogin(fn)
	}
	throttled := func(fn http.HandlerFunc) http.Handler {
		if h.authLimiter == nil {
			return fn
		}
		return ratelimit.Middleware(h.authLimiter, h.authLimiter.ClientKey, http.MethodPost)(fn)
	}

	// Public pages
	mux.HandleFunc(muxPattern("GET", RouteHome), h.HandleHome)
	mux.HandleFunc(muxPattern("GET", RouteHealthz), h.HandleHealthz)
	mux.Handle("GET /static/", StaticHandler())

	// Accounts
	mux.HandleFunc(muxPattern("GET", RouteLogin), h.HandleLoginPage)
	mux.Handle(muxPattern("POST", RouteLogin), throttled(h.HandleLogin))
	mux.HandleFunc(muxPattern("GET", RouteSignup), h.HandleSignupPage)
	mux.Handle(muxPattern("POST", RouteSignup), throttled(h.HandleSignup))
	mux.HandleFunc(muxPattern("POST", RouteLogout), h.HandleLogout)
	mux.HandleFunc(muxPattern("GET", RouteLogout), h.HandleLogout)

	// Notes (login required, author only for a single note)
	mux.Handle(muxPattern("GET", RouteList), login(h.HandleNotesList))
	mux.Handle(muxPattern("GET", RouteAdd), login(h.HandleNewNotePage))
	mux.Handle(muxPattern("POST", RouteAdd), login(h.HandleCreateNote))
	mux.Handle(muxPattern("GET", RouteSuccess), login(h.HandleSuccess))
	mux.Handle(muxPattern("GET", RouteDetail), login(h.HandleViewNote))
	mux.Handle(muxPattern("GET", RouteEdit), login(h.HandleEditNotePage))
	mux.Handle(muxPattern("POST", RouteEdit), login(h.HandleUpdateNote))
	mux.Handle(muxPattern("GET", RouteDelete), login(h.HandleDeleteNotePage))
	mux.Handle(muxPattern("POST", RouteDelete), login(h.HandleDeleteNote))
}

// PageData contains common data passed to all templates.
type PageData struct {
	Title string
	User  auth.Principal
}

// NotesListData contains data for the notes list page.
type NotesListData struct {
	PageData
	Notes []notes.Note
}

// NoteViewData contains data for the note detail and delete pages.
type NoteViewData struct {
	PageData
	Note *notes.Note
}

// NoteFormData contains data for the add and edit pages.
type NoteFormData struct {
	PageData
	Form NoteForm
}

// LoginPageData contains data for the login page.
type LoginPageData struct {
	PageData
	Form LoginForm
	Next string
}

// SignupPageData contains data for the signup page.
type SignupPageData struct {
	PageData
	Form SignupForm
}

func (h *WebHandler) page(r *http.Request, title string) PageData {
	return PageData{Title: title, User: auth.PrincipalFrom(r.Context())}
}

func (h *WebHandler) render(w http.ResponseWriter, r *http.Request, code int, name string, data any) {
	if err := h.renderer.RenderStatus(w, code, name, data); err != nil {
		obs.From(r.Context()).Error("render_failed", "pkg", "web", "template", name, "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// fail maps a service error to a response: login redirect, the shared
// not-found page, or a generic 500.
func (h *WebHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notes.ErrLoginRequired):
		http.Redirect(w, r, urlutil.LoginURL(MustReverse(RouteLogin), r.URL.RequestURI()), http.StatusFound)
	case errs.CodeOf(err) == errs.NotFound:
		h.renderer.RenderError(w, h.page(r, "Not found"), http.StatusNotFound, errs.MessageOf(err))
	default:
		obs.From(r.Context()).Error("request_failed", "pkg", "web", "path", r.URL.Path, "error", err)
		h.renderer.RenderError(w, h.page(r, "Error"), http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func (h *WebHandler) redirect(w http.ResponseWriter, r *http.Request, route string, args ...string) {
	http.Redirect(w, r, MustReverse(route, args...), http.StatusFound)
}

// requireSameOrigin rejects state-changing requests whose Origin header
// names another site. Requests without an Origin header pass.
func (h *WebHandler) requireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !urlutil.SameOrigin(r, h.baseURL) {
				obs.From(r.Context()).Warn("cross_origin_rejected", "pkg", "web",
					"origin", r.Header.Get("Origin"), "path", r.URL.Path)
				h.renderer.RenderError(w, h.page(r, "Forbidden"), http.StatusForbidden, "Cross-origin form submission rejected.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handler implementations

// HandleHome handles GET / - the public landing page.
func (h *WebHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "notes/home.html", h.page(r, "Home"))
}

// HandleHealthz handles GET /healthz - reports whether the database answers.
func (h *WebHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := h.notesService.Count(r.Context()); err != nil {
		obs.From(r.Context()).Error("healthz_failed", "pkg", "web", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleNotesList handles GET /notes/ - the caller's notes.
func (h *WebHandler) HandleNotesList(w http.ResponseWriter, r *http.Request) {
	list, err := h.notesService.ListByOwner(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "notes/list.html", NotesListData{
		PageData: h.page(r, "Your notes"),
		Notes:    list,
	})
}

// HandleNewNotePage handles GET /add/ - an empty note form.
func (h *WebHandler) HandleNewNotePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "notes/form.html", NoteFormData{PageData: h.page(r, "Add note")})
}

// HandleCreateNote handles POST /add/.
func (h *WebHandler) HandleCreateNote(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		h.renderer.RenderError(w, h.page(r, "Bad request"), http.StatusBadRequest, "Invalid form data")
		return
	}
	form := bindNoteForm(r)

	_, err := h.notesService.Create(r.Context(), auth.PrincipalFrom(r.Context()), form.Input())
	if errs.CodeOf(err) == errs.InvalidArgument {
		form.Errors = fieldErrors(err)
		h.render(w, r, http.StatusOK, "notes/form.html", NoteFormData{PageData: h.page(r, "Add note"), Form: form})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, RouteSuccess)
}

// HandleSuccess handles GET /done/.
func (h *WebHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "notes/success.html", h.page(r, "Done"))
}

// HandleViewNote handles GET /note/{slug}/.
func (h *WebHandler) HandleViewNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.GetBySlug(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "notes/detail.html", NoteViewData{PageData: h.page(r, note.Title), Note: note})
}

// HandleEditNotePage handles GET /edit/{slug}/ - the form pre-filled.
func (h *WebHandler) HandleEditNotePage(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.GetBySlug(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "notes/form.html", NoteFormData{
		PageData: h.page(r, "Edit note"),
		Form:     NoteFormFrom(note),
	})
}

// HandleUpdateNote handles POST /edit/{slug}/.
func (h *WebHandler) HandleUpdateNote(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		h.renderer.RenderError(w, h.page(r, "Bad request"), http.StatusBadRequest, "Invalid form data")
		return
	}
	form := bindNoteForm(r)

	_, err := h.notesService.Update(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"), form.Input())
	if errs.CodeOf(err) == errs.InvalidArgument {
		form.Errors = fieldErrors(err)
		h.render(w, r, http.StatusOK, "notes/form.html", NoteFormData{PageData: h.page(r, "Edit note"), Form: form})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, RouteSuccess)
}

// HandleDeleteNotePage handles GET /delete/{slug}/ - the confirmation page.
func (h *WebHandler) HandleDeleteNotePage(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.GetBySlug(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "notes/delete.html", NoteViewData{PageData: h.page(r, "Delete note"), Note: note})
}

// HandleDeleteNote handles POST /delete/{slug}/.
func (h *WebHandler) HandleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notesService.Delete(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, RouteSuccess)
}

// HandleLoginPage handles GET /auth/login/.
func (h *WebHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "users/login.html", LoginPageData{
		PageData: h.page(r, "Log in"),
		Next:     r.URL.Query().Get("next"),
	})
}

// HandleLogin handles POST /auth/login/ - checks credentials, starts a
// session and follows next when it is a local path.
func (h *WebHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		h.renderer.RenderError(w, h.page(r, "Bad request"), http.StatusBadRequest, "Invalid form data")
		return
	}
	form := bindLoginForm(r)
	next := r.PostForm.Get("next")
	if next == "" {
		next = r.URL.Query().Get("next")
	}

	form.Errors = FormErrors{}
	if form.Username == "" {
		form.Errors["username"] = "This field is required."
	}
	if form.Password == "" {
		form.Errors["password"] = "This field is required."
	}

	if len(form.Errors) == 0 {
		user, err := h.userService.VerifyLogin(r.Context(), form.Username, form.Password)
		switch {
		case err == nil:
			if err := h.sessionService.Login(r.Context(), w, user.ID); err != nil {
				h.fail(w, r, err)
				return
			}
			obs.From(r.Context()).Info("login_succeeded", "pkg", "web", "user_id", user.ID)
			http.Redirect(w, r, urlutil.SafeNext(next, MustReverse(RouteList)), http.StatusFound)
			return
		case errors.Is(err, auth.ErrInvalidCredentials):
			form.Errors[NonFieldErrors] = errs.MessageOf(err)
		default:
			h.fail(w, r, err)
			return
		}
	}

	obs.From(r.Context()).Info("login_failed", "pkg", "web", "form", logutil.FormatFormForLog(r.PostForm))
	form.Password = ""
	h.render(w, r, http.StatusOK, "users/login.html", LoginPageData{
		PageData: h.page(r, "Log in"),
		Form:     form,
		Next:     next,
	})
}

// HandleSignupPage handles GET /auth/signup/.
func (h *WebHandler) HandleSignupPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "users/signup.html", SignupPageData{PageData: h.page(r, "Sign up")})
}

// HandleSignup handles POST /auth/signup/ - creates the account and sends
// the user to the login page.
func (h *WebHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		h.renderer.RenderError(w, h.page(r, "Bad request"), http.StatusBadRequest, "Invalid form data")
		return
	}
	form := bindSignupForm(r)

	if form.Password1 != form.Password2 {
		form.Errors = FormErrors{"password2": "The two password fields didn’t match."}
	} else {
		_, err := h.userService.Register(r.Context(), form.Username, form.Password1)
		switch {
		case err == nil:
			h.redirect(w, r, RouteLogin)
			return
		case errors.Is(err, auth.ErrAccountExists):
			form.Errors = FormErrors{"username": errs.MessageOf(err)}
		case errs.CodeOf(err) == errs.InvalidArgument:
			form.Errors = fieldErrors(err)
			if msg, ok := form.Errors["password"]; ok {
				delete(form.Errors, "password")
				form.Errors["password2"] = msg
			}
		default:
			h.fail(w, r, err)
			return
		}
	}

	obs.From(r.Context()).Info("signup_failed", "pkg", "web", "form", logutil.FormatFormForLog(r.PostForm))
	form.Password1, form.Password2 = "", ""
	h.render(w, r, http.StatusOK, "users/signup.html", SignupPageData{PageData: h.page(r, "Sign up"), Form: form})
}

// HandleLogout handles /auth/logout/ - ends the session and goes home.
func (h *WebHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionService.Logout(w, r); err != nil {
		obs.From(r.Context()).Warn("logout_failed", "pkg", "web", "error", err)
	}
	h.redirect(w, r, RouteHome)
}
