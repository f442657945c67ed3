package notes

import "github.com/kuitang/yanote/internal/auth"

// Decision is the outcome of an ownership check.
type Decision int

const (
	// Allowed means the principal owns the note.
	Allowed Decision = iota
	// NotFound means the note is missing or owned by someone else.
	NotFound
	// RedirectLogin means the principal is anonymous.
	RedirectLogin
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case NotFound:
		return "not_found"
	case RedirectLogin:
		return "redirect_login"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for d, or nil when d is Allowed.
func (d Decision) Err() error {
	switch d {
	case Allowed:
		return nil
	case RedirectLogin:
		return ErrLoginRequired
	default:
		return ErrNotFound
	}
}

// Authorize decides whether p may read or change note. A nil note is a
// missing note. Anonymous principals are sent to login before the note is
// considered, so redirects never reveal whether a slug exists.
func Authorize(p auth.Principal, note *Note) Decision {
	if !p.IsAuthenticated() {
		return RedirectLogin
	}
	if note == nil || note.AuthorID != p.UserID {
		return NotFound
	}
	return Allowed
}
