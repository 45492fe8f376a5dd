package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/scanner"
)

// HTMLBody renders the document body to an HTML fragment with media
// references rewritten to built artifacts.
func HTMLBody(doc *document.Document, rewrites RewriteMap) ([]byte, error) {
	return htmlBody(doc, rewrites, false)
}

// XHTMLBody renders the document body as XHTML, for EPUB chapters.
func XHTMLBody(doc *document.Document, rewrites RewriteMap) ([]byte, error) {
	return htmlBody(doc, rewrites, true)
}

func htmlBody(doc *document.Document, rewrites RewriteMap, xhtml bool) ([]byte, error) {
	rendererOpts := []renderer.Option{
		ghtml.WithUnsafe(),
		renderer.WithNodeRenderers(
			util.Prioritized(&htmlRewriter{doc: doc, rewrites: rewrites, xhtml: xhtml}, 100)),
	}
	if xhtml {
		rendererOpts = append(rendererOpts, ghtml.WithXHTML())
	}
	md := goldmark.New(
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(rendererOpts...),
	)

	var buf bytes.Buffer
	if err := md.Convert(doc.Body, &buf); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	return buf.Bytes(), nil
}

// htmlRewriter overrides image and fenced code rendering so references
// resolve to built artifacts. Unmapped nodes fall back to ordinary output.
type htmlRewriter struct {
	doc      *document.Document
	rewrites RewriteMap
	xhtml    bool
}

func (r *htmlRewriter) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(gmast.KindImage, r.renderImage)
	reg.Register(gmast.KindFencedCodeBlock, r.renderFencedCode)
}

func (r *htmlRewriter) renderImage(w util.BufWriter, source []byte, node gmast.Node, entering bool) (gmast.WalkStatus, error) {
	if !entering {
		return gmast.WalkContinue, nil
	}
	n := node.(*gmast.Image)

	src := string(n.Destination)
	var art Artifact
	mapped := false
	if spec, ok := scanner.ImageSpec(r.doc, n); ok {
		if a, ok := r.rewrites[spec.RenderKey()]; ok {
			art, mapped = a, true
			src = a.URL
		}
	}

	r.openImg(w, src, string(plainText(n, source)))
	if mapped {
		writeHTMLAttrs(w, art)
	} else if n.Title != nil {
		_, _ = w.WriteString(` title="`)
		_, _ = w.Write(util.EscapeHTML(n.Title))
		_ = w.WriteByte('"')
	}
	r.closeImg(w)
	return gmast.WalkSkipChildren, nil
}

func (r *htmlRewriter) renderFencedCode(w util.BufWriter, source []byte, node gmast.Node, entering bool) (gmast.WalkStatus, error) {
	n := node.(*gmast.FencedCodeBlock)

	if spec, ok := scanner.FenceSpec(source, n); ok {
		if art, ok := r.rewrites[spec.RenderKey()]; ok {
			if entering {
				r.openImg(w, art.URL, "")
				writeHTMLAttrs(w, art)
				r.closeImg(w)
				_ = w.WriteByte('\n')
			}
			return gmast.WalkSkipChildren, nil
		}
	}

	// Ordinary code block.
	if entering {
		_, _ = w.WriteString("<pre><code")
		if lang := n.Language(source); lang != nil {
			_, _ = w.WriteString(` class="language-`)
			_, _ = w.Write(util.EscapeHTML(lang))
			_ = w.WriteByte('"')
		}
		_ = w.WriteByte('>')
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
		}
	} else {
		_, _ = w.WriteString("</code></pre>\n")
	}
	return gmast.WalkContinue, nil
}

func (r *htmlRewriter) openImg(w util.BufWriter, src, alt string) {
	_, _ = w.WriteString(`<img src="`)
	_, _ = w.Write(util.EscapeHTML([]byte(src)))
	_, _ = w.WriteString(`" alt="`)
	_, _ = w.Write(util.EscapeHTML([]byte(alt)))
	_ = w.WriteByte('"')
}

func (r *htmlRewriter) closeImg(w util.BufWriter) {
	if r.xhtml {
		_, _ = w.WriteString(" />")
		return
	}
	_ = w.WriteByte('>')
}

// htmlPassthrough lists attribute keys forwarded onto the img element.
// Converter options (scale, crop, page) were consumed building the artifact.
var htmlPassthrough = []string{"width", "height", "class", "id", "style"}

func writeHTMLAttrs(w util.BufWriter, art Artifact) {
	for _, key := range htmlPassthrough {
		val, ok := art.Attributes.Get(key, "")
		if !ok || val == "" {
			continue
		}
		fmt.Fprintf(w, ` %s="%s"`, key, util.EscapeHTML([]byte(val)))
	}
}

// parseFresh returns a new AST over the same body, used by the non-HTML
// emitters that walk instead of registering node renderers.
func parseFresh(doc *document.Document) gmast.Node {
	return goldmark.New().Parser().Parse(text.NewReader(doc.Body))
}
