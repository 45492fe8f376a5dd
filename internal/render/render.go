// Package render turns document ASTs into target bodies: HTML, XHTML for
// EPUB chapters, LaTeX, and plain text. Media references are rewritten to
// the built artifacts the target assembled; everything else renders the
// standard way.
package render

import (
	"bytes"

	gmast "github.com/yuin/goldmark/ast"

	"git.home.luguber.info/inful/docpress/internal/attributes"
)

// Artifact is one built media file a rendered body should reference.
type Artifact struct {
	// Path is the artifact's absolute location on disk.
	Path string
	// URL is the reference to emit, relative to the rendered document.
	URL string
	// Attributes are the reference's flattened attributes for this target
	// (width, class and the like surviving converter option extraction).
	Attributes attributes.Set
}

// RewriteMap maps scanner render keys to built artifacts.
type RewriteMap map[string]Artifact

// plainText flattens a node's text content, for alt text and headings.
func plainText(n gmast.Node, source []byte) []byte {
	var buf bytes.Buffer
	_ = gmast.Walk(n, func(c gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *gmast.Text:
			buf.Write(t.Segment.Value(source))
		case *gmast.String:
			buf.Write(t.Value)
		}
		return gmast.WalkContinue, nil
	})
	return buf.Bytes()
}
