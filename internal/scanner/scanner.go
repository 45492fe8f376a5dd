// Package scanner discovers the build dependencies of a document: referenced
// media assets and inline fragments that need rendering.
//
// Scanning is a pure function of document content. It never touches the
// filesystem and never filters out references to paths that do not exist;
// existence is a build-time concern.
package scanner

import (
	"strings"

	gmast "github.com/yuin/goldmark/ast"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// DependencySpec is one scanned reference requiring conversion or copying.
type DependencySpec struct {
	// Ref is the reference as written in the document ("" for inline
	// fragments). Kept for diagnostics.
	Ref string
	// Source is the resolved absolute path of the referenced asset. Empty
	// for inline fragments.
	Source string
	// Inline is the payload of an inline fragment (diagram or equation
	// source embedded in the document). Nil for asset references.
	Inline []byte
	// Format is the source format extension with leading dot (".asy").
	Format string
	// Attributes parameterize converter selection and invocation, including
	// target-specific overrides (width.tex=60%).
	Attributes attributes.Set
}

// IsInline reports whether the spec carries an inline payload.
func (s DependencySpec) IsInline() bool { return s.Source == "" }

// identity collapses duplicate references to the same asset with the same
// parameters.
func (s DependencySpec) identity() string {
	return string(hasher.Strings(s.Source, string(s.Inline), s.Format, s.Attributes.Canonical()))
}

// RenderKey identifies this dependency for render-time artifact rewriting.
// Rendering walks a fresh parse of the same content, so the key derives only
// from what both walks see: the reference (or payload) and its attributes.
func (s DependencySpec) RenderKey() string {
	if s.IsInline() {
		return "inline:" + s.Format + "|" + string(hasher.Bytes(s.Inline)) + "|" + s.Attributes.Canonical()
	}
	return "ref:" + s.Ref + "|" + s.Attributes.Canonical()
}

// fragmentLanguages maps fenced code block languages to the source format
// their payload is rendered from.
var fragmentLanguages = map[string]string{
	"asy":       ".asy",
	"asymptote": ".asy",
	"tex":       ".tex",
	"latex":     ".tex",
}

// Scan walks the document AST and returns its dependency specs in order of
// appearance. Duplicate references (same source, payload, format and
// attributes) collapse to the first occurrence.
func Scan(doc *document.Document) []DependencySpec {
	var specs []DependencySpec
	seen := make(map[string]bool)

	add := func(spec DependencySpec) {
		id := spec.identity()
		if seen[id] {
			return
		}
		seen[id] = true
		specs = append(specs, spec)
	}

	body := doc.Body
	_ = gmast.Walk(doc.AST(), func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gmast.Image:
			if spec, ok := ImageSpec(doc, node); ok {
				add(spec)
			}
		case *gmast.FencedCodeBlock:
			if spec, ok := FenceSpec(body, node); ok {
				add(spec)
			}
		}
		return gmast.WalkContinue, nil
	})
	return specs
}

// ImageSpec extracts the dependency spec of one image node, if the node
// references a convertible local asset.
func ImageSpec(doc *document.Document, node *gmast.Image) (DependencySpec, bool) {
	dest := string(node.Destination)
	if dest == "" || isExternalRef(dest) {
		return DependencySpec{}, false
	}
	dest = stripRefSuffix(dest)
	ext := strings.ToLower(pathExt(dest))
	if ext == "" {
		return DependencySpec{}, false
	}
	return DependencySpec{
		Ref:        dest,
		Source:     doc.ResolveReference(dest),
		Format:     ext,
		Attributes: attributes.Parse(string(node.Title)),
	}, true
}

// FenceSpec extracts the dependency spec of one fenced code block, if its
// language marks an inline fragment (asy, tex) rather than plain code.
func FenceSpec(body []byte, node *gmast.FencedCodeBlock) (DependencySpec, bool) {
	lang := string(node.Language(body))
	format, ok := fragmentLanguages[strings.ToLower(lang)]
	if !ok {
		return DependencySpec{}, false
	}

	var attrs attributes.Set
	if node.Info != nil {
		info := string(node.Info.Segment.Value(body))
		if rest := strings.TrimPrefix(info, lang); rest != info {
			attrs = attributes.Parse(stripAttrBraces(rest))
		}
	}

	var payload []byte
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		payload = append(payload, seg.Value(body)...)
	}
	if len(payload) == 0 {
		return DependencySpec{}, false
	}
	return DependencySpec{
		Inline:     payload,
		Format:     format,
		Attributes: attrs,
	}, true
}

// stripAttrBraces unwraps a brace-delimited attribute list after the fence
// language ("asy {scale=2}" and "asy scale=2" carry the same attributes).
func stripAttrBraces(rest string) string {
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "{") && strings.HasSuffix(rest, "}") {
		rest = rest[1 : len(rest)-1]
	}
	return rest
}

// isExternalRef reports whether a destination points outside the project
// (URL schemes, protocol-relative, data URIs).
func isExternalRef(dest string) bool {
	lower := strings.ToLower(dest)
	return strings.Contains(lower, "://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "mailto:")
}

// stripRefSuffix drops URL fragments and query strings from a reference.
func stripRefSuffix(dest string) string {
	if i := strings.IndexAny(dest, "#?"); i >= 0 {
		dest = dest[:i]
	}
	return dest
}

// pathExt is filepath.Ext over forward-slash references.
func pathExt(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.LastIndexByte(ref, '.'); i > 0 {
		return ref[i:]
	}
	return ""
}
