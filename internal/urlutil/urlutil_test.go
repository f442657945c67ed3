package urlutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestOriginFromRequest(t *testing.T) {
	cases := []struct {
		name, target, host, proto, fallback, want string
	}{
		{"plain http", "http://notes.example.test/", "", "", "", "http://notes.example.test"},
		{"forwarded https", "http://notes.example.test/", "", "https", "", "https://notes.example.test"},
		{"forwarded list uses first", "http://a.test/", "", "https, http", "", "https://a.test"},
		{"unknown proto ignored", "http://a.test/", "", "ftp", "", "http://a.test"},
		{"port kept", "http://a.test:8080/x", "", "", "", "http://a.test:8080"},
		{"no host uses fallback", "http://a.test/", "-", "", "https://fallback.test/", "https://fallback.test"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.host == "-" {
				req.Host = ""
			}
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			if got := OriginFromRequest(req, tc.fallback); got != tc.want {
				t.Fatalf("OriginFromRequest = %q, want %q", got, tc.want)
			}
		})
	}
	if got := OriginFromRequest(nil, "https://fallback.test"); got != "https://fallback.test" {
		t.Fatalf("OriginFromRequest(nil) = %q", got)
	}
}

func testBuildAbsolute_JoinsNotePaths(t *rapid.T) {
	host := rapid.StringMatching(`[a-z]{3,12}\.[a-z]{2,6}`).Draw(t, "host")
	base := "https://" + host + rapid.SampledFrom([]string{"", "/", "//"}).Draw(t, "trailing")
	slug := rapid.StringMatching(`[a-z0-9_-]{1,40}`).Draw(t, "slug")
	path := "/note/" + slug + "/"

	got := BuildAbsolute(base, path)
	if want := "https://" + host + path; got != want {
		t.Fatalf("BuildAbsolute(%q, %q) = %q, want %q", base, path, got, want)
	}
	u, err := url.Parse(got)
	if err != nil || u.Host != host || u.Path != path {
		t.Fatalf("BuildAbsolute result %q does not parse back: %+v %v", got, u, err)
	}
	if got := BuildAbsolute(base, strings.TrimPrefix(path, "/")); got != "https://"+host+path {
		t.Fatalf("relative path join = %q", got)
	}
}

func TestBuildAbsolute_JoinsNotePaths(t *testing.T) {
	rapid.Check(t, testBuildAbsolute_JoinsNotePaths)
}

func TestBuildAbsolute_EdgeCases(t *testing.T) {
	if got := BuildAbsolute("https://a.test/", ""); got != "https://a.test" {
		t.Fatalf("empty path = %q", got)
	}
	if got := BuildAbsolute("https://a.test", "http://b.test/x"); got != "http://b.test/x" {
		t.Fatalf("absolute path = %q", got)
	}
}

func TestLoginURL_EscapesNext(t *testing.T) {
	cases := map[string]string{
		"/add/":          "/auth/login/?next=/add/",
		"/note/my-slug/": "/auth/login/?next=/note/my-slug/",
		"/a b/":          "/auth/login/?next=/a%20b/",
		"/x?y=1&z=2":     "/auth/login/?next=/x%3Fy%3D1%26z%3D2",
		"/plus+sign/":    "/auth/login/?next=/plus%2Bsign/",
		"/note/заметка/": "/auth/login/?next=/note/%D0%B7%D0%B0%D0%BC%D0%B5%D1%82%D0%BA%D0%B0/",
		"":               "/auth/login/",
	}
	for next, want := range cases {
		if got := LoginURL("/auth/login/", next); got != want {
			t.Errorf("LoginURL(%q) = %q, want %q", next, got, want)
		}
	}
}

func TestLoginURL_NextRoundtrips(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		next := "/" + rapid.StringMatching(`[a-zA-Z0-9/_ +?&=%.~-]{0,40}`).Draw(rt, "path")
		u, err := url.Parse(LoginURL("/auth/login/", next))
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}
		if got := u.Query().Get("next"); got != next {
			rt.Fatalf("next roundtrip: got=%q want=%q", got, next)
		}
	})
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"/notes/":              "/notes/",
		"/edit/my-slug/":       "/edit/my-slug/",
		"":                     "/fallback/",
		"notes/":               "/fallback/",
		"//evil.example/":      "/fallback/",
		"/\\evil.example/":     "/fallback/",
		"https://evil.example": "/fallback/",
		"/ok\r\nSet-Cookie: x": "/fallback/",
	}
	for next, want := range cases {
		if got := SafeNext(next, "/fallback/"); got != want {
			t.Errorf("SafeNext(%q) = %q, want %q", next, got, want)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://notes.example.test/add/", nil)
	if !SameOrigin(req, "") {
		t.Fatal("missing Origin should be accepted")
	}
	req.Header.Set("Origin", "http://notes.example.test")
	if !SameOrigin(req, "") {
		t.Fatal("matching Origin should be accepted")
	}
	req.Header.Set("Origin", "https://evil.example")
	if SameOrigin(req, "") {
		t.Fatal("foreign Origin should be rejected")
	}
	req.Header.Set("Origin", "null")
	if SameOrigin(req, "") {
		t.Fatal("opaque Origin should be rejected")
	}
}
