package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the typed statements for the notes database.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Note is a row of the notes table.
type Note struct {
	ID        string
	Title     string
	Text      string
	Slug      string
	AuthorID  string
	CreatedAt int64
	UpdatedAt int64
}

// User is a row of the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    int64
}

// Session is a row of the sessions table.
type Session struct {
	SessionID string
	UserID    string
	ExpiresAt int64
	CreatedAt int64
}

const noteColumns = `id, title, text, slug, author_id, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.Title, &n.Text, &n.Slug, &n.AuthorID, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (q *Queries) listNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Notes

type CreateNoteParams struct {
	ID        string
	Title     string
	Text      string
	Slug      string
	AuthorID  string
	CreatedAt int64
	UpdatedAt int64
}

func (q *Queries) CreateNote(ctx context.Context, arg CreateNoteParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Title, arg.Text, arg.Slug, arg.AuthorID, arg.CreatedAt, arg.UpdatedAt,
	)
	return err
}

type UpdateNoteParams struct {
	ID        string
	Title     string
	Text      string
	Slug      string
	UpdatedAt int64
}

// UpdateNote returns the number of rows changed.
func (q *Queries) UpdateNote(ctx context.Context, arg UpdateNoteParams) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, text = ?, slug = ?, updated_at = ? WHERE id = ?`,
		arg.Title, arg.Text, arg.Slug, arg.UpdatedAt, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteNote returns the number of rows removed.
func (q *Queries) DeleteNote(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) GetNoteBySlug(ctx context.Context, slug string) (Note, error) {
	return scanNote(q.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE slug = ?`, slug))
}

type NoteSlugTakenParams struct {
	Slug      string
	ExcludeID string
}

// NoteSlugTaken reports whether a note other than ExcludeID already uses Slug.
func (q *Queries) NoteSlugTaken(ctx context.Context, arg NoteSlugTakenParams) (bool, error) {
	var taken bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notes WHERE slug = ? AND id != ?)`,
		arg.Slug, arg.ExcludeID,
	).Scan(&taken)
	return taken, err
}

func (q *Queries) ListNotesByAuthor(ctx context.Context, authorID string) ([]Note, error) {
	return q.listNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE author_id = ? ORDER BY created_at, id`,
		authorID,
	)
}

func (q *Queries) ListAllNotes(ctx context.Context) ([]Note, error) {
	return q.listNotes(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY created_at, id`)
}

func (q *Queries) CountNotes(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n)
	return n, err
}

// Users

type CreateUserParams struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    int64
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		arg.ID, arg.Username, arg.PasswordHash, arg.CreatedAt,
	)
	return err
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

type UpdateUserPasswordHashParams struct {
	ID           string
	PasswordHash string
}

func (q *Queries) UpdateUserPasswordHash(ctx context.Context, arg UpdateUserPasswordHashParams) error {
	_, err := q.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, arg.PasswordHash, arg.ID)
	return err
}

// Sessions

type UpsertSessionParams struct {
	SessionID string
	UserID    string
	ExpiresAt int64
	CreatedAt int64
}

func (q *Queries) UpsertSession(ctx context.Context, arg UpsertSessionParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`,
		arg.SessionID, arg.UserID, arg.ExpiresAt, arg.CreatedAt,
	)
	return err
}

type GetValidSessionParams struct {
	SessionID string
	Now       int64
}

func (q *Queries) GetValidSession(ctx context.Context, arg GetValidSessionParams) (Session, error) {
	var s Session
	err := q.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, expires_at, created_at FROM sessions WHERE session_id = ? AND expires_at > ?`,
		arg.SessionID, arg.Now,
	).Scan(&s.SessionID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (q *Queries) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func (q *Queries) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredSessions returns the number of sessions removed.
func (q *Queries) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
