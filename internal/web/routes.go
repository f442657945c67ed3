package web

import (
	"fmt"
	"net/url"
	"strings"
)

// Route names, as used by Reverse and the templates.
const (
	RouteHome    = "notes:home"
	RouteList    = "notes:list"
	RouteAdd     = "notes:add"
	RouteSuccess = "notes:success"
	RouteDetail  = "notes:detail"
	RouteEdit    = "notes:edit"
	RouteDelete  = "notes:delete"
	RouteLogin   = "users:login"
	RouteLogout  = "users:logout"
	RouteSignup  = "users:signup"
	RouteHealthz = "healthz"
)

// routes maps a route name to its path. A {slug} segment is filled in from
// the Reverse arguments, in order.
var routes = map[string]string{
	RouteHome:    "/",
	RouteList:    "/notes/",
	RouteAdd:     "/add/",
	RouteSuccess: "/done/",
	RouteDetail:  "/note/{slug}/",
	RouteEdit:    "/edit/{slug}/",
	RouteDelete:  "/delete/{slug}/",
	RouteLogin:   "/auth/login/",
	RouteLogout:  "/auth/logout/",
	RouteSignup:  "/auth/signup/",
	RouteHealthz: "/healthz",
}

// Reverse returns the path for the named route with args substituted for
// its wildcards. Args are path-escaped.
func Reverse(name string, args ...string) (string, error) {
	pattern, ok := routes[name]
	if !ok {
		return "", fmt.Errorf("unknown route %q", name)
	}

	segments := strings.Split(pattern, "/")
	used := 0
	for i, seg := range segments {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		if used >= len(args) {
			return "", fmt.Errorf("route %q: missing value for %s", name, seg)
		}
		segments[i] = url.PathEscape(args[used])
		used++
	}
	if used != len(args) {
		return "", fmt.Errorf("route %q takes %d arguments, got %d", name, used, len(args))
	}
	return strings.Join(segments, "/"), nil
}

// MustReverse is Reverse for route names and arities fixed at compile time.
func MustReverse(name string, args ...string) string {
	u, err := Reverse(name, args...)
	if err != nil {
		panic(err)
	}
	return u
}

// muxPattern returns the ServeMux pattern for a route. Paths ending in a
// slash match exactly rather than as a subtree.
func muxPattern(method, name string) string {
	p := routes[name]
	if strings.HasSuffix(p, "/") {
		p += "{$}"
	}
	return method + " " + p
}
