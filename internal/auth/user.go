package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	stdtime "time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/kuitang/yanote/internal/db"
	"github.com/kuitang/yanote/internal/errs"
	"github.com/kuitang/yanote/internal/obs"
)

// Errors
var (
	ErrUserNotFound       = errs.New(errs.NotFound, "user not found")
	ErrInvalidCredentials = errs.New(errs.Unauthenticated, "Please enter a correct username and password.")
	ErrAccountExists      = errs.New(errs.AlreadyExists, "A user with that username already exists.")
)

// Account limits
const (
	MaxUsernameLength = 150
	MinPasswordLength = 8
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]+$`)

// Argon2id parameters (OWASP second recommendation: m=19456, t=2, p=1).
// Parameters are embedded in each hash string, so older hashes still verify.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024 // ~19 MiB
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

// realClock implements Clock using the real system time.
type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// PasswordHasher hashes and verifies passwords. Argon2Hasher is the
// production implementation; FakeInsecureHasher keeps tests fast.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Argon2Hasher implements PasswordHasher with Argon2id.
type Argon2Hasher struct{}

func (Argon2Hasher) HashPassword(password string) (string, error) { return HashPassword(password) }

func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	return VerifyPassword(password, encodedHash)
}

// User represents a user account.
type User struct {
	ID        string
	Username  string
	CreatedAt stdtime.Time
}

// Principal returns the request identity for u.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Username: u.Username}
}

// UserService handles account registration and credential checks.
type UserService struct {
	db     *db.DB
	hasher PasswordHasher
	clock  Clock
}

// NewUserService creates a new user service.
func NewUserService(database *db.DB, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = Argon2Hasher{}
	}
	return &UserService{
		db:     database,
		hasher: hasher,
		clock:  realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *UserService) SetClock(c Clock) {
	s.clock = c
}

// ValidateUsername checks the username rules: 1-150 characters of letters,
// digits and @.+-_
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return errs.Field("username", "This field is required.")
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return errs.Field("username", fmt.Sprintf("Ensure this value has at most %d characters.", MaxUsernameLength))
	case !usernamePattern.MatchString(username):
		return errs.Field("username", "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}
	return nil
}

// ValidatePasswordStrength checks if a password meets minimum requirements.
func ValidatePasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return errs.Field("password", fmt.Sprintf("This password is too short. It must contain at least %d characters.", MinPasswordLength))
	}
	return nil
}

// Register creates a new account. Returns ErrAccountExists when the username is taken.
func (s *UserService) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	fields := map[string]string{}
	if err := ValidateUsername(username); err != nil {
		fields["username"] = errs.FieldsOf(err)["username"]
	}
	if err := ValidatePasswordStrength(password); err != nil {
		fields["password"] = errs.FieldsOf(err)["password"]
	}
	if err := errs.Invalid(fields); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	now := s.clock.Now().UTC()
	err = s.db.Queries().CreateUser(ctx, db.CreateUserParams{
		ID:           id.String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now.Unix(),
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	obs.From(ctx).Info("user_registered", "pkg", "auth", "user_id", id.String())
	return &User{ID: id.String(), Username: username, CreatedAt: stdtime.Unix(now.Unix(), 0).UTC()}, nil
}

// VerifyLogin checks a username/password pair.
// Unknown usernames and wrong passwords both return ErrInvalidCredentials.
func (s *UserService) VerifyLogin(ctx context.Context, username, password string) (*User, error) {
	row, err := s.db.Queries().GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !s.hasher.VerifyPassword(password, row.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return userFromRow(row), nil
}

// GetByID returns the user with id, or ErrUserNotFound.
func (s *UserService) GetByID(ctx context.Context, id string) (*User, error) {
	row, err := s.db.Queries().GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return userFromRow(row), nil
}

// GetByUsername returns the user named username, or ErrUserNotFound.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*User, error) {
	row, err := s.db.Queries().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return userFromRow(row), nil
}

// SetPassword replaces the password of the user with id.
func (s *UserService) SetPassword(ctx context.Context, id, password string) error {
	if err := ValidatePasswordStrength(password); err != nil {
		return err
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.db.Queries().UpdateUserPasswordHash(ctx, db.UpdateUserPasswordHashParams{
		ID:           id,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func userFromRow(row db.User) *User {
	return &User{
		ID:        row.ID,
		Username:  row.Username,
		CreatedAt: stdtime.Unix(row.CreatedAt, 0).UTC(),
	}
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	start := stdtime.Now()
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	obs.Pkg("auth").Debug("argon2_hash", "m_kib", argon2Memory, "t", argon2Time, "p", argon2Threads, "dur", stdtime.Since(start).String())

	// Encode as: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads, encodedSalt, encodedHash), nil
}

// VerifyPassword checks if a password matches a hash.
func VerifyPassword(password, encodedHash string) bool {
	// Format: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	// Bound attacker-controlled parameters read back from storage.
	if memory == 0 || memory > 256*1024 || time == 0 || time > 10 || threads == 0 {
		return false
	}

	saltBytes, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hashBytes, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	hashLen := len(hashBytes)
	if hashLen <= 0 || hashLen > argon2KeyLen*2 {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), saltBytes, time, memory, threads, uint32(hashLen))
	return subtle.ConstantTimeCompare(hashBytes, computedHash) == 1
}
