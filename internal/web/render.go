// Package web provides the HTML interface: routes, forms, handlers and
// template rendering.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates
var templatesFS embed.FS

// Templates returns the embedded page templates.
func Templates() fs.FS {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Renderer renders page templates inside the shared base layout.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer parses base.html and every other .html file in fsys. Page
// templates define a "content" block and are addressed by their path,
// e.g. "notes/list.html".
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   createFuncMap(),
	}
	if err := r.parseTemplates(fsys); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return r, nil
}

// Render executes the named template with status 200.
func (r *Renderer) Render(w http.ResponseWriter, templateName string, data any) error {
	return r.RenderStatus(w, http.StatusOK, templateName, data)
}

// RenderStatus executes the named template and writes it with code. The page
// is rendered to a buffer first so a template failure never produces a
// half-written response.
func (r *Renderer) RenderStatus(w http.ResponseWriter, code int, templateName string, data any) error {
	tmpl, ok := r.templates[templateName]
	if !ok {
		return fmt.Errorf("template %q not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, err := buf.WriteTo(w)
	return err
}

// ErrorPageData is the data for error.html.
type ErrorPageData struct {
	PageData
	Error     string
	ErrorCode string
}

// RenderError renders the error page with the given status code and message.
func (r *Renderer) RenderError(w http.ResponseWriter, page PageData, code int, message string) {
	if page.Title == "" {
		page.Title = http.StatusText(code)
	}
	data := ErrorPageData{
		PageData:  page,
		Error:     message,
		ErrorCode: http.StatusText(code),
	}
	if err := r.RenderStatus(w, code, "error.html", data); err == nil {
		return
	}
	http.Error(w, fmt.Sprintf("Error %d: %s", code, message), code)
}

func (r *Renderer) parseTemplates(fsys fs.FS) error {
	base, err := fs.ReadFile(fsys, "base.html")
	if err != nil {
		return fmt.Errorf("failed to read base template: %w", err)
	}

	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || p == "base.html" || path.Ext(p) != ".html" {
			return nil
		}

		page, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", p, err)
		}
		tmpl, err := template.New("base").Funcs(r.funcMap).Parse(string(base))
		if err != nil {
			return fmt.Errorf("failed to parse base template for %s: %w", p, err)
		}
		if _, err := tmpl.Parse(string(page)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", p, err)
		}
		r.templates[p] = tmpl
		return nil
	})
	if err != nil {
		return err
	}

	if len(r.templates) == 0 {
		return fmt.Errorf("no page templates found")
	}
	return nil
}

// createFuncMap creates the template function map with all custom functions.
func createFuncMap() template.FuncMap {
	return template.FuncMap{
		"formatTime": formatTime,
		"truncate":   truncate,
		"markdown":   renderMarkdown,
		"url":        Reverse,
	}
}

// formatTime formats a time.Time as a human-readable date string.
// Example: "Jan 2, 2006 15:04"
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04")
}

// truncate truncates a string to n characters, adding "..." if truncated.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// renderMarkdown converts note text to sanitized HTML.
func renderMarkdown(s string) template.HTML {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s))

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	htmlContent := markdown.Render(doc, renderer)

	sanitized := bluemonday.UGCPolicy().SanitizeBytes(htmlContent)
	return template.HTML(sanitized)
}
