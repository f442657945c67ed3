package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/db"
	"github.com/kuitang/yanote/internal/errs"
	"github.com/kuitang/yanote/internal/obs"
)

// Service handles note CRUD on behalf of a principal. Every read and write
// goes through Authorize.
type Service struct {
	db    *db.DB
	clock auth.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewService creates a new notes service.
func NewService(database *db.DB) *Service {
	return &Service{db: database, clock: systemClock{}}
}

// SetClock replaces the clock used for timestamps. Intended for testing.
func (s *Service) SetClock(c auth.Clock) {
	s.clock = c
}

// normalized trims surrounding whitespace from every field, as form
// fields are cleaned.
func (in NoteInput) normalized() NoteInput {
	return NoteInput{
		Title: strings.TrimSpace(in.Title),
		Text:  strings.TrimSpace(in.Text),
		Slug:  strings.TrimSpace(in.Slug),
	}
}

// Validate checks in and returns the slug to persist. All field problems are
// reported together. Uniqueness is not checked here.
func Validate(in NoteInput) (string, error) {
	in = in.normalized()
	fields := map[string]string{}
	switch n := utf8.RuneCountInString(in.Title); {
	case n == 0:
		fields["title"] = "This field is required."
	case n > MaxTitleLength:
		fields["title"] = fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", MaxTitleLength, n)
	}

	var slug string
	if in.Title != "" || in.Slug != "" {
		var err error
		slug, err = ResolveSlug(in.Slug, in.Title)
		if err != nil {
			fields["slug"] = errs.FieldsOf(err)["slug"]
		}
	}
	if err := errs.Invalid(fields); err != nil {
		return "", err
	}
	return slug, nil
}

// Create stores a new note authored by p.
func (s *Service) Create(ctx context.Context, p auth.Principal, in NoteInput) (*Note, error) {
	if !p.IsAuthenticated() {
		return nil, ErrLoginRequired
	}
	in = in.normalized()
	slug, err := Validate(in)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate note id: %w", err)
	}
	now := s.clock.Now().UTC().Unix()
	row := db.Note{
		ID:        id.String(),
		Title:     in.Title,
		Text:      in.Text,
		Slug:      slug,
		AuthorID:  p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithWriteTx(ctx, func(q *db.Queries) error {
		if err := ensureSlugFree(ctx, q, slug, ""); err != nil {
			return err
		}
		return q.CreateNote(ctx, db.CreateNoteParams(row))
	})
	if err != nil {
		return nil, writeError("create note", slug, err)
	}

	obs.From(ctx).Info("note_created", "pkg", "notes", "note_id", row.ID, "slug", slug)
	return noteFromRow(row), nil
}

// Update replaces the title, text and slug of the note at slug. Author and
// creation time never change.
func (s *Service) Update(ctx context.Context, p auth.Principal, slug string, in NoteInput) (*Note, error) {
	if !p.IsAuthenticated() {
		return nil, ErrLoginRequired
	}

	in = in.normalized()
	var updated db.Note
	resolved := in.Slug
	err := s.db.WithWriteTx(ctx, func(q *db.Queries) error {
		existing, err := lookup(ctx, q, p, slug)
		if err != nil {
			return err
		}
		newSlug, err := Validate(in)
		if err != nil {
			return err
		}
		resolved = newSlug
		if err := ensureSlugFree(ctx, q, newSlug, existing.ID); err != nil {
			return err
		}

		updated = existing
		updated.Title = in.Title
		updated.Text = in.Text
		updated.Slug = newSlug
		updated.UpdatedAt = s.clock.Now().UTC().Unix()
		n, err := q.UpdateNote(ctx, db.UpdateNoteParams{
			ID:        updated.ID,
			Title:     updated.Title,
			Text:      updated.Text,
			Slug:      updated.Slug,
			UpdatedAt: updated.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, writeError("update note", resolved, err)
	}

	obs.From(ctx).Info("note_updated", "pkg", "notes", "note_id", updated.ID, "slug", updated.Slug)
	return noteFromRow(updated), nil
}

// Delete removes the note at slug.
func (s *Service) Delete(ctx context.Context, p auth.Principal, slug string) error {
	if !p.IsAuthenticated() {
		return ErrLoginRequired
	}

	var id string
	err := s.db.WithWriteTx(ctx, func(q *db.Queries) error {
		existing, err := lookup(ctx, q, p, slug)
		if err != nil {
			return err
		}
		id = existing.ID
		n, err := q.DeleteNote(ctx, existing.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return writeError("delete note", slug, err)
	}

	obs.From(ctx).Info("note_deleted", "pkg", "notes", "note_id", id, "slug", slug)
	return nil
}

// GetBySlug returns the note at slug if p owns it.
func (s *Service) GetBySlug(ctx context.Context, p auth.Principal, slug string) (*Note, error) {
	row, err := lookup(ctx, s.db.Queries(), p, slug)
	if err != nil {
		if errs.CodeOf(err) != errs.Internal {
			return nil, err
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return noteFromRow(row), nil
}

// ListByOwner returns the notes authored by p, oldest first.
func (s *Service) ListByOwner(ctx context.Context, p auth.Principal) ([]Note, error) {
	if !p.IsAuthenticated() {
		return nil, ErrLoginRequired
	}
	rows, err := s.db.Queries().ListNotesByAuthor(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]Note, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, *noteFromRow(row))
	}
	return notes, nil
}

// ListAll returns every note, oldest first. For administrative use only;
// it bypasses ownership.
func (s *Service) ListAll(ctx context.Context) ([]Note, error) {
	rows, err := s.db.Queries().ListAllNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all notes: %w", err)
	}
	notes := make([]Note, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, *noteFromRow(row))
	}
	return notes, nil
}

// Count returns the number of notes across all authors.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.db.Queries().CountNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// lookup loads the note at slug and applies the ownership guard.
func lookup(ctx context.Context, q *db.Queries, p auth.Principal, slug string) (db.Note, error) {
	if !p.IsAuthenticated() {
		return db.Note{}, ErrLoginRequired
	}
	row, err := q.GetNoteBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Note{}, ErrNotFound
		}
		return db.Note{}, err
	}
	if err := Authorize(p, noteFromRow(row)).Err(); err != nil {
		return db.Note{}, err
	}
	return row, nil
}

func ensureSlugFree(ctx context.Context, q *db.Queries, slug, excludeID string) error {
	taken, err := q.NoteSlugTaken(ctx, db.NoteSlugTakenParams{Slug: slug, ExcludeID: excludeID})
	if err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	if taken {
		return SlugTakenError(slug)
	}
	return nil
}

// writeError maps a failed write to what callers see. A unique index
// violation means a concurrent writer took the slug first.
func writeError(op, slug string, err error) error {
	var coded *errs.Error
	switch {
	case errors.As(err, &coded):
		return err
	case db.IsUniqueViolation(err):
		return SlugTakenError(slug)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func noteFromRow(row db.Note) *Note {
	return &Note{
		ID:        row.ID,
		Title:     row.Title,
		Text:      row.Text,
		Slug:      row.Slug,
		AuthorID:  row.AuthorID,
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC(),
	}
}
