// Package templates renders the static HTML pages shown in the browser
// during the upstream authorization legs
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
)

//go:embed html/*.html
var content embed.FS

// TemplateError wraps a failure to render a page
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Templates manages the HTML templates
type Templates struct {
	page *template.Template
}

// LoadTemplates loads and parses all HTML templates
func LoadTemplates() (*Templates, error) {
	page, err := template.ParseFS(content, "html/page.html", "html/layout.html")
	if err != nil {
		return nil, &TemplateError{Message: "failed to parse templates", Cause: err}
	}
	return &Templates{page: page}, nil
}

// PageData holds the heading and message of a page
type PageData struct {
	Title   string
	Message string
}

// Lines splits the message after each sentence so every sentence renders
// on its own line
func (d PageData) Lines() []string {
	parts := strings.Split(d.Message, ". ")
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += "."
	}
	return parts
}

// RenderPage renders a page with the given status. Nothing is written if
// rendering fails.
func (t *Templates) RenderPage(w http.ResponseWriter, status int, data PageData) error {
	var buf bytes.Buffer
	if err := t.page.ExecuteTemplate(&buf, "layout", data); err != nil {
		return &TemplateError{Message: "failed to render template", Cause: err}
	}

	sw := t.NewSafeWriter(w)
	sw.SetStatusCode(status)
	_, err := sw.Write(buf.Bytes())
	return err
}
