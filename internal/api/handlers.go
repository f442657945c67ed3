// Package api serves the notes of the signed-in user as JSON. It applies the
// same ownership rules as the HTML pages: a foreign note is a 404.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/errs"
	"github.com/kuitang/yanote/internal/notes"
	"github.com/kuitang/yanote/internal/obs"
)

const maxBodyBytes = 1 << 20

// Handler wraps the notes service and provides HTTP handlers
type Handler struct {
	notesService *notes.Service
}

// NewHandler creates a new API handler with the given notes service
func NewHandler(notesService *notes.Service) *Handler {
	return &Handler{notesService: notesService}
}

// RegisterRoutes registers all notes API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notes", h.ListNotes)
	mux.HandleFunc("POST /api/notes", h.CreateNote)
	mux.HandleFunc("GET /api/notes/{slug}", h.GetNote)
	mux.HandleFunc("PUT /api/notes/{slug}", h.UpdateNote)
	mux.HandleFunc("DELETE /api/notes/{slug}", h.DeleteNote)
}

// ListResponse is the body of GET /api/notes.
type ListResponse struct {
	Notes      []notes.Note `json:"notes"`
	TotalCount int          `json:"total_count"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ListNotes handles GET /api/notes - the caller's notes, oldest first
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	list, err := h.notesService.ListByOwner(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Notes: list, TotalCount: len(list)})
}

// GetNote handles GET /api/notes/{slug}
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.GetBySlug(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes - an empty slug is derived from the title
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var in notes.NoteInput
	if !decode(w, r, &in) {
		return
	}
	note, err := h.notesService.Create(r.Context(), auth.PrincipalFrom(r.Context()), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{slug} - replaces title, text and slug
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var in notes.NoteInput
	if !decode(w, r, &in) {
		return
	}
	note, err := h.notesService.Update(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{slug}
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notesService.Delete(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("slug")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeServiceError(w, r, errs.Wrap(errs.InvalidArgument, "Invalid JSON: "+err.Error(), err))
		return false
	}
	return true
}

// writeServiceError maps a coded error to its status. Internal errors are
// logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	if errors.Is(err, notes.ErrLoginRequired) {
		code = errs.Unauthenticated
	}
	if code == errs.Internal {
		obs.From(r.Context()).Error("api_request_failed", "pkg", "api", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, errs.HTTPStatus(code), ErrorResponse{
		Error:  errs.MessageOf(err),
		Fields: errs.FieldsOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
