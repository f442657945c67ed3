package web_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/notes"
	"github.com/kuitang/yanote/internal/ratelimit"
	"github.com/kuitang/yanote/internal/testdb"
	"github.com/kuitang/yanote/internal/web"
)

const testPassword = "s3cret-pass"

// webTestEnv is a running site backed by an in-memory database.
type webTestEnv struct {
	server   *httptest.Server
	notes    *notes.Service
	users    *auth.UserService
	sessions *auth.SessionService
}

func setupWebTestEnv(t *testing.T) *webTestEnv {
	t.Helper()
	return setupWebTestEnvWithLimiter(t, nil)
}

func setupWebTestEnvWithLimiter(t *testing.T, limiter *ratelimit.RateLimiter) *webTestEnv {
	t.Helper()

	d := testdb.New(t)
	users := auth.NewUserService(d, auth.FakeInsecureHasher{})
	sessions := auth.NewSessionService(d, time.Hour, false)
	notesService := notes.NewService(d)
	authMiddleware := auth.NewMiddleware(sessions, users, web.MustReverse(web.RouteLogin))

	renderer, err := web.NewRenderer(web.Templates())
	require.NoError(t, err)

	h := web.NewWebHandler(renderer, notesService, users, sessions, authMiddleware, limiter, "")
	server := httptest.NewServer(h.Routes(auth.NewHandler(users, sessions)))
	t.Cleanup(server.Close)

	return &webTestEnv{server: server, notes: notesService, users: users, sessions: sessions}
}

// client returns an HTTP client that keeps cookies and does not follow redirects.
func (env *webTestEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// loggedIn registers username and returns a client holding its session,
// the same as a completed login.
func (env *webTestEnv) loggedIn(t *testing.T, username string) (*http.Client, auth.Principal) {
	t.Helper()
	ctx := context.Background()
	user, err := env.users.Register(ctx, username, testPassword)
	require.NoError(t, err)
	sessionID, err := env.sessions.Create(ctx, user.ID)
	require.NoError(t, err)

	c := env.client(t)
	serverURL, err := url.Parse(env.server.URL)
	require.NoError(t, err)
	c.Jar.SetCookies(serverURL, []*http.Cookie{{Name: auth.SessionCookieName, Value: sessionID, Path: "/"}})
	return c, user.Principal()
}

func (env *webTestEnv) url(t *testing.T, route string, args ...string) string {
	t.Helper()
	p, err := web.Reverse(route, args...)
	require.NoError(t, err)
	return env.server.URL + p
}

func (env *webTestEnv) count(t *testing.T) int64 {
	t.Helper()
	n, err := env.notes.Count(context.Background())
	require.NoError(t, err)
	return n
}

func (env *webTestEnv) createNote(t *testing.T, p auth.Principal, in notes.NoteInput) *notes.Note {
	t.Helper()
	n, err := env.notes.Create(context.Background(), p, in)
	require.NoError(t, err)
	return n
}

func get(t *testing.T, c *http.Client, u string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func post(t *testing.T, c *http.Client, u string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := c.PostForm(u, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func noteForm(title, text, slug string) url.Values {
	return url.Values{"title": {title}, "text": {text}, "slug": {slug}}
}

func requireRedirect(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, want, resp.Header.Get("Location"))
}

// =============================================================================
// Route availability
// =============================================================================

func TestPublicPages_AvailableToEveryone(t *testing.T) {
	env := setupWebTestEnv(t)
	anon := env.client(t)
	user, _ := env.loggedIn(t, "reader")

	for _, route := range []string{web.RouteHome, web.RouteLogin, web.RouteSignup} {
		for name, c := range map[string]*http.Client{"anonymous": anon, "user": user} {
			resp, _ := get(t, c, env.url(t, route))
			require.Equalf(t, http.StatusOK, resp.StatusCode, "%s GET %s", name, route)
		}
	}
}

func TestProtectedPages_AnonymousRedirectsToLogin(t *testing.T) {
	env := setupWebTestEnv(t)
	_, p := env.loggedIn(t, "owner")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	anon := env.client(t)
	loginPath := web.MustReverse(web.RouteLogin)
	cases := []struct {
		route string
		args  []string
	}{
		{web.RouteList, nil},
		{web.RouteAdd, nil},
		{web.RouteSuccess, nil},
		{web.RouteDetail, []string{note.Slug}},
		{web.RouteEdit, []string{note.Slug}},
		{web.RouteDelete, []string{note.Slug}},
	}
	for _, tc := range cases {
		path := web.MustReverse(tc.route, tc.args...)
		resp, _ := get(t, anon, env.server.URL+path)
		requireRedirect(t, resp, loginPath+"?next="+path)
	}
}

func TestNotePages_AuthorSeesNonAuthorGets404(t *testing.T) {
	env := setupWebTestEnv(t)
	author, p := env.loggedIn(t, "author")
	reader, _ := env.loggedIn(t, "reader")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	for _, route := range []string{web.RouteDetail, web.RouteEdit, web.RouteDelete} {
		resp, _ := get(t, author, env.url(t, route, note.Slug))
		require.Equalf(t, http.StatusOK, resp.StatusCode, "author GET %s", route)

		resp, hidden := get(t, reader, env.url(t, route, note.Slug))
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "reader GET %s", route)

		resp, missing := get(t, reader, env.url(t, route, "no-such-slug"))
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, missing, hidden, "a foreign note must look exactly like a missing one")
		require.Contains(t, hidden, "Note not found")
	}

	for _, route := range []string{web.RouteList, web.RouteAdd, web.RouteSuccess} {
		resp, _ := get(t, reader, env.url(t, route))
		require.Equalf(t, http.StatusOK, resp.StatusCode, "reader GET %s", route)
	}
}

// =============================================================================
// Note logic
// =============================================================================

func TestCreateNote_UserCanCreate(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")

	resp, _ := post(t, c, env.url(t, web.RouteAdd), noteForm("Новый заголовок", "Новый текст", "new-slug"))
	requireRedirect(t, resp, web.MustReverse(web.RouteSuccess))
	require.EqualValues(t, 1, env.count(t))

	got, err := env.notes.GetBySlug(context.Background(), p, "new-slug")
	require.NoError(t, err)
	require.Equal(t, "Новый заголовок", got.Title)
	require.Equal(t, "Новый текст", got.Text)
	require.Equal(t, p.UserID, got.AuthorID)
}

func TestCreateNote_AnonymousCannotCreate(t *testing.T) {
	env := setupWebTestEnv(t)
	anon := env.client(t)

	addPath := web.MustReverse(web.RouteAdd)
	resp, _ := post(t, anon, env.server.URL+addPath, noteForm("Title", "Body", "slug"))
	requireRedirect(t, resp, web.MustReverse(web.RouteLogin)+"?next="+addPath)
	require.EqualValues(t, 0, env.count(t))
}

func TestCreateNote_DuplicateSlugRejected(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	resp, body := post(t, c, env.url(t, web.RouteAdd), noteForm("Other", "Other body", "note-slug"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `data-field="slug"`)
	require.Contains(t, body, "note-slug"+htmlEscape(notes.SlugWarning))
	require.EqualValues(t, 1, env.count(t))
}

func TestCreateNote_EmptySlugIsDerived(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")

	resp, _ := post(t, c, env.url(t, web.RouteAdd), noteForm("Заметка без слага", "Body", ""))
	requireRedirect(t, resp, web.MustReverse(web.RouteSuccess))

	list, err := env.notes.ListByOwner(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, notes.Slugify("Заметка без слага"), list[0].Slug)
	require.Equal(t, "zametka-bez-slaga", list[0].Slug)

	// The derived slug is taken now.
	resp, body := post(t, c, env.url(t, web.RouteAdd), noteForm("Заметка без слага", "Again", ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "zametka-bez-slaga"+htmlEscape(notes.SlugWarning))
	require.EqualValues(t, 1, env.count(t))
}

func TestCreateNote_MissingTitleShowsFieldError(t *testing.T) {
	env := setupWebTestEnv(t)
	c, _ := env.loggedIn(t, "author")

	resp, body := post(t, c, env.url(t, web.RouteAdd), noteForm("", "Body", "slug"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `data-field="title"`)
	require.Contains(t, body, "Body", "the form keeps what was typed")
	require.EqualValues(t, 0, env.count(t))
}

func TestEditNote_AuthorCanEdit(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	resp, body := get(t, c, env.url(t, web.RouteEdit, note.Slug))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `value="Title"`)

	resp, _ = post(t, c, env.url(t, web.RouteEdit, note.Slug), noteForm("New title", "New body", "new-slug"))
	requireRedirect(t, resp, web.MustReverse(web.RouteSuccess))

	got, err := env.notes.GetBySlug(context.Background(), p, "new-slug")
	require.NoError(t, err)
	require.Equal(t, "New title", got.Title)
	require.Equal(t, "New body", got.Text)
	require.Equal(t, note.ID, got.ID)
}

func TestEditNote_OtherUserCannotEdit(t *testing.T) {
	env := setupWebTestEnv(t)
	_, p := env.loggedIn(t, "author")
	reader, _ := env.loggedIn(t, "reader")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	resp, _ := post(t, reader, env.url(t, web.RouteEdit, note.Slug), noteForm("Hacked", "Hacked", "hacked"))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	got, err := env.notes.GetBySlug(context.Background(), p, note.Slug)
	require.NoError(t, err)
	if diff := cmp.Diff(note, got); diff != "" {
		t.Fatalf("note changed by a non-author (-want +got):\n%s", diff)
	}
}

func TestDeleteNote_AuthorCanDelete(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	resp, _ := post(t, c, env.url(t, web.RouteDelete, note.Slug), url.Values{})
	requireRedirect(t, resp, web.MustReverse(web.RouteSuccess))
	require.EqualValues(t, 0, env.count(t))
}

func TestDeleteNote_OtherUserCannotDelete(t *testing.T) {
	env := setupWebTestEnv(t)
	_, p := env.loggedIn(t, "author")
	reader, _ := env.loggedIn(t, "reader")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Text: "Body", Slug: "note-slug"})

	resp, _ := post(t, reader, env.url(t, web.RouteDelete, note.Slug), url.Values{})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.EqualValues(t, 1, env.count(t))
}

// =============================================================================
// Content
// =============================================================================

func TestNotesList_OnlyOwnNotes(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	_, other := env.loggedIn(t, "other")
	mine := env.createNote(t, p, notes.NoteInput{Title: "Mine", Text: "first line\nsecond", Slug: "mine"})
	theirs := env.createNote(t, other, notes.NoteInput{Title: "Theirs", Text: "Secret", Slug: "theirs"})

	resp, body := get(t, c, env.url(t, web.RouteList))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, web.MustReverse(web.RouteDetail, mine.Slug))
	require.NotContains(t, body, web.MustReverse(web.RouteDetail, theirs.Slug))
	require.NotContains(t, body, "Theirs")
}

func TestNoteForms_AddAndEditHaveFields(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	note := env.createNote(t, p, notes.NoteInput{Title: "Title", Slug: "note-slug"})

	for _, u := range []string{env.url(t, web.RouteAdd), env.url(t, web.RouteEdit, note.Slug)} {
		resp, body := get(t, c, u)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, field := range []string{`name="title"`, `name="text"`, `name="slug"`} {
			require.Contains(t, body, field)
		}
	}
}

func TestNoteDetail_RendersSanitizedMarkdown(t *testing.T) {
	env := setupWebTestEnv(t)
	c, p := env.loggedIn(t, "author")
	note := env.createNote(t, p, notes.NoteInput{
		Title: "Markdown",
		Text:  "# Heading\n\n**bold** <script>alert(1)</script>",
		Slug:  "md",
	})

	resp, body := get(t, c, env.url(t, web.RouteDetail, note.Slug))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<strong>bold</strong>")
	require.NotContains(t, body, "<script>alert(1)</script>")
}

// =============================================================================
// Accounts
// =============================================================================

func TestSignupLoginLogout_Flow(t *testing.T) {
	env := setupWebTestEnv(t)
	c := env.client(t)

	resp, _ := post(t, c, env.url(t, web.RouteSignup), url.Values{
		"username": {"newbie"}, "password1": {testPassword}, "password2": {testPassword},
	})
	requireRedirect(t, resp, web.MustReverse(web.RouteLogin))

	// A login with next goes back to the originally requested page.
	addPath := web.MustReverse(web.RouteAdd)
	resp, _ = post(t, c, env.url(t, web.RouteLogin), url.Values{
		"username": {"newbie"}, "password": {testPassword}, "next": {addPath},
	})
	requireRedirect(t, resp, addPath)

	resp, _ = get(t, c, env.server.URL+addPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, c, env.server.URL+"/auth/whoami")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"username":"newbie"`)

	resp, _ = post(t, c, env.url(t, web.RouteLogout), url.Values{})
	requireRedirect(t, resp, web.MustReverse(web.RouteHome))

	resp, _ = get(t, c, env.server.URL+addPath)
	require.Equal(t, http.StatusFound, resp.StatusCode, "logged out client must be sent to login")
}

func TestLogin_RejectsBadCredentialsAndUnsafeNext(t *testing.T) {
	env := setupWebTestEnv(t)
	_, err := env.users.Register(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	c := env.client(t)

	resp, body := post(t, c, env.url(t, web.RouteLogin), url.Values{"username": {"alice"}, "password": {"wrong-password"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Please enter a correct username and password.")

	resp, _ = post(t, c, env.url(t, web.RouteLogin), url.Values{
		"username": {"alice"}, "password": {testPassword}, "next": {"//evil.example/steal"},
	})
	requireRedirect(t, resp, web.MustReverse(web.RouteList))
}

func TestSignup_Errors(t *testing.T) {
	env := setupWebTestEnv(t)
	_, err := env.users.Register(context.Background(), "taken", testPassword)
	require.NoError(t, err)
	c := env.client(t)

	cases := []struct {
		name  string
		form  url.Values
		field string
	}{
		{"mismatch", url.Values{"username": {"bob"}, "password1": {testPassword}, "password2": {"different-pass"}}, "password2"},
		{"short password", url.Values{"username": {"bob"}, "password1": {"short"}, "password2": {"short"}}, "password2"},
		{"taken username", url.Values{"username": {"taken"}, "password1": {testPassword}, "password2": {testPassword}}, "username"},
		{"bad username", url.Values{"username": {"has space"}, "password1": {testPassword}, "password2": {testPassword}}, "username"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := post(t, c, env.url(t, web.RouteSignup), tc.form)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Contains(t, body, `data-field="`+tc.field+`"`)
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	env := setupWebTestEnvWithLimiter(t, limiter)
	c := env.client(t)

	form := url.Values{"username": {"nobody"}, "password": {"whatever-pass"}}
	for i := 0; i < 2; i++ {
		resp, _ := post(t, c, env.url(t, web.RouteLogin), form)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := post(t, c, env.url(t, web.RouteLogin), form)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Viewing the page is never limited.
	resp, _ = get(t, c, env.url(t, web.RouteLogin))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	env := setupWebTestEnvWithLimiter(t, limiter)
	c := env.client(t)

	form := url.Values{"username": {"nobody"}, "password": {"whatever-pass"}}
	limited := 0
	for i := 0; i < 10; i++ {
		req, err := http.NewRequest(http.MethodPost, env.url(t, web.RouteLogin), strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("Fly-Client-IP", fmt.Sprintf("10.1.0.%d", i))
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	require.Equal(t, 8, limited, "rotating forwarding headers must not reset the bucket")
}

func TestCrossOriginPostRejected(t *testing.T) {
	env := setupWebTestEnv(t)
	c, _ := env.loggedIn(t, "author")

	req, err := http.NewRequest(http.MethodPost, env.url(t, web.RouteAdd), strings.NewReader(noteForm("T", "B", "s").Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example")
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.EqualValues(t, 0, env.count(t))

	req, err = http.NewRequest(http.MethodPost, env.url(t, web.RouteAdd), strings.NewReader(noteForm("T", "B", "s").Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", env.server.URL)
	resp, err = c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHealthzAndStatic(t *testing.T) {
	env := setupWebTestEnv(t)
	c := env.client(t)

	resp, body := get(t, c, env.url(t, web.RouteHealthz))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)

	resp, body = get(t, c, env.server.URL+"/static/style.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "font-family")
	require.NotEmpty(t, resp.Header.Get("Cache-Control"))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

// =============================================================================
// Reverse
// =============================================================================

func TestReverse(t *testing.T) {
	cases := map[string]struct {
		name string
		args []string
		want string
	}{
		"home":   {web.RouteHome, nil, "/"},
		"list":   {web.RouteList, nil, "/notes/"},
		"detail": {web.RouteDetail, []string{"abc"}, "/note/abc/"},
		"escape": {web.RouteEdit, []string{"a b"}, "/edit/a%20b/"},
	}
	for name, tc := range cases {
		got, err := web.Reverse(tc.name, tc.args...)
		require.NoError(t, err, name)
		require.Equal(t, tc.want, got, name)
	}

	_, err := web.Reverse("nope")
	require.Error(t, err)
	_, err = web.Reverse(web.RouteDetail)
	require.Error(t, err, "missing slug")
	_, err = web.Reverse(web.RouteList, "extra")
	require.Error(t, err, "extra argument")
}

func testReverse_SlugRoundTrip(t *rapid.T) {
	slug := rapid.StringMatching(`[-a-zA-Z0-9_]{1,100}`).Draw(t, "slug")
	for _, route := range []string{web.RouteDetail, web.RouteEdit, web.RouteDelete} {
		got, err := web.Reverse(route, slug)
		if err != nil {
			t.Fatalf("Reverse(%s, %q): %v", route, slug, err)
		}
		parts := strings.Split(strings.Trim(got, "/"), "/")
		if len(parts) != 2 || parts[1] != slug {
			t.Fatalf("Reverse(%s, %q) = %q", route, slug, got)
		}
	}
}

func TestReverse_SlugRoundTrip(t *testing.T) {
	rapid.Check(t, testReverse_SlugRoundTrip)
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;", "'", "&#39;")
	return r.Replace(s)
}
