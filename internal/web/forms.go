package web

import (
	"net/http"
	"strings"

	"github.com/kuitang/yanote/internal/errs"
	"github.com/kuitang/yanote/internal/notes"
)

// NonFieldErrors is the Errors key for problems not tied to one input.
const NonFieldErrors = "__all__"

// maxFormBytes bounds request bodies for every form on the site.
const maxFormBytes = 1 << 20

// FormErrors maps a form field name to its error message.
type FormErrors map[string]string

// Has reports whether field has an error.
func (e FormErrors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// NoteForm is the add/edit note form.
type NoteForm struct {
	Title  string
	Text   string
	Slug   string
	Errors FormErrors
}

// Input returns the form as a note store input.
func (f *NoteForm) Input() notes.NoteInput {
	return notes.NoteInput{Title: f.Title, Text: f.Text, Slug: f.Slug}
}

// NoteFormFrom pre-fills the form from an existing note.
func NoteFormFrom(n *notes.Note) NoteForm {
	return NoteForm{Title: n.Title, Text: n.Text, Slug: n.Slug}
}

// LoginForm is the login form.
type LoginForm struct {
	Username string
	Password string
	Errors   FormErrors
}

// SignupForm is the signup form. Password2 must repeat Password1.
type SignupForm struct {
	Username  string
	Password1 string
	Password2 string
	Errors    FormErrors
}

// parseForm reads a urlencoded body of at most maxFormBytes.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseForm()
}

func bindNoteForm(r *http.Request) NoteForm {
	return NoteForm{
		Title: r.PostForm.Get("title"),
		Text:  r.PostForm.Get("text"),
		Slug:  r.PostForm.Get("slug"),
	}
}

func bindLoginForm(r *http.Request) LoginForm {
	return LoginForm{
		Username: strings.TrimSpace(r.PostForm.Get("username")),
		Password: r.PostForm.Get("password"),
	}
}

func bindSignupForm(r *http.Request) SignupForm {
	return SignupForm{
		Username:  strings.TrimSpace(r.PostForm.Get("username")),
		Password1: r.PostForm.Get("password1"),
		Password2: r.PostForm.Get("password2"),
	}
}

// fieldErrors converts a service error into form errors. Errors without
// field detail land under NonFieldErrors with their public message.
func fieldErrors(err error) FormErrors {
	if fields := errs.FieldsOf(err); len(fields) > 0 {
		out := make(FormErrors, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	return FormErrors{NonFieldErrors: errs.MessageOf(err)}
}
