// Package document loads source documents: Markdown bodies with optional
// YAML frontmatter carrying per-document build settings.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/docpress/internal/attributes"
)

// Extension is the recognized source document extension.
const Extension = ".md"

// Meta holds the frontmatter fields the build pipeline understands. Unknown
// fields are ignored.
type Meta struct {
	Title      string            `yaml:"title"`
	Targets    []string          `yaml:"targets"`
	Attributes map[string]string `yaml:"attributes"`
	Template   string            `yaml:"template"`
}

// AttributeSet converts the frontmatter attribute map to an ordered Set.
// Map order is unstable, so keys are sorted to keep cache identities stable.
func (m Meta) AttributeSet() attributes.Set {
	if len(m.Attributes) == 0 {
		return attributes.Set{}
	}
	keys := make([]string, 0, len(m.Attributes))
	for k := range m.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m.Attributes[k])
	}
	return attributes.FromPairs(pairs...)
}

// Document is one loaded source file.
type Document struct {
	// SourcePath is the absolute path of the source file.
	SourcePath string
	// Root is the absolute project source root; relative asset references
	// resolve against the document's directory first, then the root.
	Root string
	// Name is the source filename without extension, e.g. "guide".
	Name string

	Meta Meta
	// Body is the Markdown body with frontmatter stripped.
	Body []byte

	ast gmast.Node
}

// Load reads and parses the document at path. root is the project source
// root used for reference resolution.
func Load(path, root string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	return Parse(content, abs, absRoot)
}

// Parse builds a Document from raw content. path and root must be absolute.
func Parse(content []byte, path, root string) (*Document, error) {
	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := &Document{
		SourcePath: path,
		Root:       root,
		Name:       name,
		Meta:       meta,
		Body:       body,
	}
	doc.ast = goldmark.New().Parser().Parse(text.NewReader(body))
	return doc, nil
}

// AST returns the parsed Markdown tree. The tree's segments index into Body.
func (d *Document) AST() gmast.Node { return d.ast }

// Dir returns the directory containing the source file.
func (d *Document) Dir() string { return filepath.Dir(d.SourcePath) }

// Targets returns the document's target list, normalized to bare format
// names ("html", not ".html"). Falls back to defaults when the frontmatter
// names none.
func (d *Document) Targets(defaults []string) []string {
	src := d.Meta.Targets
	if len(src) == 0 {
		src = defaults
	}
	out := make([]string, 0, len(src))
	seen := make(map[string]bool, len(src))
	for _, t := range src {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ResolveReference resolves a relative asset reference against the document
// directory, then the project root. Absolute references resolve against the
// root only (a leading slash means project-root-relative, never filesystem
// root). The first candidate that exists wins; if none exists the
// document-relative candidate is returned so the failure surfaces at build
// time with a sensible path.
func (d *Document) ResolveReference(ref string) string {
	if strings.HasPrefix(ref, "/") {
		return filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(ref, "/")))
	}
	rel := filepath.FromSlash(ref)
	candidates := []string{
		filepath.Join(d.Dir(), rel),
		filepath.Join(d.Root, rel),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}
