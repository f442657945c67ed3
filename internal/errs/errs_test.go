package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	NotFound,
	AlreadyExists,
	Unauthenticated,
	PermissionDenied,
	ResourceExhausted,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error should unwrap to its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if FieldsOf(untyped) != nil {
		t.Fatal("FieldsOf(untyped) should be nil")
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func TestHTTPStatus_Mapping(t *testing.T) {
	t.Parallel()
	cases := map[Code]int{
		InvalidArgument:      http.StatusBadRequest,
		Unauthenticated:      http.StatusUnauthorized,
		PermissionDenied:     http.StatusForbidden,
		NotFound:             http.StatusNotFound,
		AlreadyExists:        http.StatusConflict,
		ResourceExhausted:    http.StatusTooManyRequests,
		Unavailable:          http.StatusServiceUnavailable,
		Internal:             http.StatusInternalServerError,
		Code("unknown_code"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Errorf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, want)
		}
	}
}

func TestInvalid_CarriesFields(t *testing.T) {
	t.Parallel()

	if Invalid(nil) != nil {
		t.Fatal("Invalid(nil) should return nil")
	}

	err := fmt.Errorf("create note: %w", Invalid(map[string]string{
		"slug":  "taken",
		"title": "required",
	}))
	if got := CodeOf(err); got != InvalidArgument {
		t.Fatalf("CodeOf = %q, want %q", got, InvalidArgument)
	}
	fields := FieldsOf(err)
	if fields["slug"] != "taken" || fields["title"] != "required" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	names := FieldNames(err)
	if len(names) != 2 || names[0] != "slug" || names[1] != "title" {
		t.Fatalf("FieldNames = %v, want [slug title]", names)
	}
}

func TestIs_MatchesSentinelByCodeAndMessage(t *testing.T) {
	t.Parallel()

	sentinel := New(NotFound, "note not found")
	err := fmt.Errorf("lookup: %w", New(NotFound, "note not found"))
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match sentinel with equal code and message")
	}
	if errors.Is(err, New(NotFound, "user not found")) {
		t.Fatal("different message must not match")
	}
	if errors.Is(err, New(Internal, "note not found")) {
		t.Fatal("different code must not match")
	}
}
