// Package templates resolves the page shells rendered bodies are wrapped in.
// A project may override any shell by placing a file of the same name under
// <root>/templates/; otherwise the embedded defaults apply.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	texttemplate "text/template"
)

//go:embed defaults
var defaults embed.FS

// Shell names the built-in templates.
const (
	PageHTML      = "page.html"
	PageTeX       = "page.tex"
	StyleCSS      = "style.css"
	EPUBContainer = "epub/container.xml"
	EPUBPackage   = "epub/content.opf"
	EPUBNav       = "epub/toc.xhtml"
	EPUBChapter   = "epub/chapter.xhtml"
)

// Loader resolves template sources, preferring project overrides.
type Loader struct {
	root string
}

// NewLoader returns a loader for the given project root. An empty root
// serves only the embedded defaults.
func NewLoader(projectRoot string) *Loader {
	return &Loader{root: projectRoot}
}

// Source returns the raw bytes of a template or asset.
func (l *Loader) Source(name string) ([]byte, error) {
	if l.root != "" {
		override := filepath.Join(l.root, "templates", filepath.FromSlash(name))
		if data, err := os.ReadFile(override); err == nil {
			return data, nil
		}
	}
	data, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return data, nil
}

// OverridePath returns the location of a project override for name, if one
// exists. Render nodes declare override files as build inputs; embedded
// defaults are versioned with the binary and need no declaration.
func (l *Loader) OverridePath(name string) (string, bool) {
	if l.root == "" {
		return "", false
	}
	override := filepath.Join(l.root, "templates", filepath.FromSlash(name))
	if _, err := os.Stat(override); err != nil {
		return "", false
	}
	return override, true
}

// ExecuteHTML renders an HTML shell with contextual escaping. Body fields
// must be typed template.HTML by the caller to pass through unescaped.
func (l *Loader) ExecuteHTML(name string, data any) ([]byte, error) {
	src, err := l.Source(name)
	if err != nil {
		return nil, err
	}
	tpl, err := htmltemplate.New(name).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// ExecuteText renders a text shell (TeX, OPF). Missing keys are errors so a
// broken override fails loudly instead of emitting an empty field.
func (l *Loader) ExecuteText(name string, data any) ([]byte, error) {
	src, err := l.Source(name)
	if err != nil {
		return nil, err
	}
	tpl, err := texttemplate.New(name).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
