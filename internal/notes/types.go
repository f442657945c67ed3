package notes

import (
	"time"

	"github.com/kuitang/yanote/internal/errs"
)

// Field limits
const (
	MaxTitleLength = 100
	MaxSlugLength  = 100
)

// SlugWarning is appended to a slug that is already in use to form the
// field error shown on the slug input.
const SlugWarning = " - this slug already exists, please choose a unique value!"

// Error sentinels
var (
	// ErrNotFound is returned for missing notes and for notes owned by
	// someone else. The two cases are indistinguishable to callers.
	ErrNotFound = errs.New(errs.NotFound, "Note not found")

	// ErrLoginRequired is returned when an anonymous principal asks for a
	// note operation.
	ErrLoginRequired = errs.New(errs.Unauthenticated, "login required")
)

// Note is a note owned by one user.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Slug      string    `json:"slug"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteInput is the editable part of a note, as submitted by the note form.
// An empty Slug asks for one derived from Title.
type NoteInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Slug  string `json:"slug"`
}

// SlugTakenError returns the field error for a slug that collides with
// another note.
func SlugTakenError(slug string) error {
	return errs.Field("slug", slug+SlugWarning)
}
