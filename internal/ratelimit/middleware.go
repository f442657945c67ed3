package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// Middleware returns 429 Too Many Requests with a Retry-After header once the
// key's bucket is empty. Only methods listed in methods are limited; an empty
// list limits every request.
func Middleware(limiter *RateLimiter, keyFn KeyFunc, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(methods) > 0 && !containsMethod(methods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimiter := limiter.GetLimiter(key)
			if !rateLimiter.AllowN(limiter.now(), 1) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("Too Many Requests"))
				return
			}

			remaining := int(rateLimiter.TokensAt(limiter.now()))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// Header names a trusted proxy may use to report the client address.
const (
	HeaderFlyClientIP   = "Fly-Client-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
)

// ClientIP keys requests by the host part of RemoteAddr. Forwarding headers
// are ignored; see RateLimiter.ClientKey.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey keys requests by client address. When the limiter is configured
// with a TrustedProxyHeader, the address reported in that header wins over
// RemoteAddr. For X-Forwarded-For only the last hop is used, since that is
// the one the trusted proxy appended.
func (rl *RateLimiter) ClientKey(r *http.Request) string {
	switch rl.config.TrustedProxyHeader {
	case HeaderFlyClientIP:
		if ip := strings.TrimSpace(r.Header.Get(HeaderFlyClientIP)); ip != "" {
			return ip
		}
	case HeaderXForwardedFor:
		if hops := r.Header.Values(HeaderXForwardedFor); len(hops) > 0 {
			last := hops[len(hops)-1]
			if i := strings.LastIndex(last, ","); i >= 0 {
				last = last[i+1:]
			}
			if ip := strings.TrimSpace(last); ip != "" {
				return ip
			}
		}
	}
	return ClientIP(r)
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
