package auth

import (
	"strings"
	"sync"
	stdtime "time"
)

// Test doubles shared by the auth, notes and web tests.

// FakeClock is a Clock that only moves when told to. Safe for concurrent use
// by a test and the server it drives.
type FakeClock struct {
	mu  sync.Mutex
	now stdtime.Time
}

// NewFakeClock returns a FakeClock stopped at start.
func NewFakeClock(start stdtime.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() stdtime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d stdtime.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const fakeHashPrefix = "$fake$"

// FakeInsecureHasher stores passwords as "$fake$<plaintext>" so account
// tests skip argon2. Never use it outside tests.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return fakeHashPrefix + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	plain, ok := strings.CutPrefix(encodedHash, fakeHashPrefix)
	return ok && plain == password
}
