package render

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	gmast "github.com/yuin/goldmark/ast"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/scanner"
)

// TeXBody renders the document body to a LaTeX fragment. The page preamble
// and document environment come from the target's template.
func TeXBody(doc *document.Document, rewrites RewriteMap) ([]byte, error) {
	e := &texEmitter{doc: doc, source: doc.Body, rewrites: rewrites}
	if err := gmast.Walk(parseFresh(doc), e.walk); err != nil {
		return nil, fmt.Errorf("render tex body: %w", err)
	}
	return bytes.TrimLeft(e.b.Bytes(), "\n"), nil
}

type texEmitter struct {
	doc      *document.Document
	source   []byte
	rewrites RewriteMap
	b        bytes.Buffer
}

var texSectioning = []string{
	"\\section", "\\subsection", "\\subsubsection", "\\paragraph", "\\subparagraph", "\\subparagraph",
}

func (e *texEmitter) walk(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
	switch node := n.(type) {
	case *gmast.Heading:
		if entering {
			level := node.Level
			if level > len(texSectioning) {
				level = len(texSectioning)
			}
			e.b.WriteString(texSectioning[level-1] + "{")
		} else {
			e.b.WriteString("}\n\n")
		}
	case *gmast.Paragraph:
		if !entering {
			e.b.WriteString("\n\n")
		}
	case *gmast.TextBlock:
		if !entering {
			e.b.WriteByte('\n')
		}
	case *gmast.Emphasis:
		cmd := "\\emph{"
		if node.Level >= 2 {
			cmd = "\\textbf{"
		}
		if entering {
			e.b.WriteString(cmd)
		} else {
			e.b.WriteByte('}')
		}
	case *gmast.CodeSpan:
		if entering {
			e.b.WriteString("\\texttt{")
		} else {
			e.b.WriteByte('}')
		}
	case *gmast.Link:
		if entering {
			fmt.Fprintf(&e.b, "\\href{%s}{", texEscapeURL(string(node.Destination)))
		} else {
			e.b.WriteByte('}')
		}
	case *gmast.AutoLink:
		if entering {
			fmt.Fprintf(&e.b, "\\url{%s}", texEscapeURL(string(node.URL(e.source))))
		}
	case *gmast.Image:
		if entering {
			e.writeImage(node)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.FencedCodeBlock:
		if entering {
			e.writeFence(node)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.CodeBlock:
		if entering {
			e.writeVerbatim(node)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.List:
		env := "itemize"
		if node.IsOrdered() {
			env = "enumerate"
		}
		if entering {
			fmt.Fprintf(&e.b, "\\begin{%s}\n", env)
		} else {
			fmt.Fprintf(&e.b, "\\end{%s}\n\n", env)
		}
	case *gmast.ListItem:
		if entering {
			e.b.WriteString("\\item ")
		}
	case *gmast.Blockquote:
		if entering {
			e.b.WriteString("\\begin{quote}\n")
		} else {
			e.b.WriteString("\\end{quote}\n\n")
		}
	case *gmast.ThematicBreak:
		if entering {
			e.b.WriteString("\\par\\noindent\\hrulefill\\par\n\n")
		}
	case *gmast.Text:
		if entering {
			e.b.WriteString(texEscape(string(node.Segment.Value(e.source))))
			switch {
			case node.HardLineBreak():
				e.b.WriteString(" \\\\\n")
			case node.SoftLineBreak():
				e.b.WriteByte('\n')
			}
		}
	case *gmast.String:
		if entering {
			e.b.WriteString(texEscape(string(node.Value)))
		}
	}
	return gmast.WalkContinue, nil
}

func (e *texEmitter) writeImage(node *gmast.Image) {
	path := string(node.Destination)
	var attrs attributes.Set
	if spec, ok := scanner.ImageSpec(e.doc, node); ok {
		if art, ok := e.rewrites[spec.RenderKey()]; ok {
			path = art.URL
			attrs = art.Attributes
		}
	}
	e.writeGraphics(path, attrs)
}

func (e *texEmitter) writeFence(node *gmast.FencedCodeBlock) {
	if spec, ok := scanner.FenceSpec(e.source, node); ok {
		if art, ok := e.rewrites[spec.RenderKey()]; ok {
			e.writeGraphics(art.URL, art.Attributes)
			e.b.WriteString("\n\n")
			return
		}
	}
	e.writeVerbatim(node)
}

func (e *texEmitter) writeVerbatim(node gmast.Node) {
	e.b.WriteString("\\begin{verbatim}\n")
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		e.b.Write(seg.Value(e.source))
	}
	e.b.WriteString("\\end{verbatim}\n\n")
}

func (e *texEmitter) writeGraphics(path string, attrs attributes.Set) {
	if opts := texGraphicsOptions(attrs); opts != "" {
		fmt.Fprintf(&e.b, "\\includegraphics[%s]{%s}", opts, path)
		return
	}
	fmt.Fprintf(&e.b, "\\includegraphics{%s}", path)
}

// texGraphicsOptions maps reference attributes onto includegraphics options.
// Percent widths become linewidth fractions; bare numbers are points.
func texGraphicsOptions(attrs attributes.Set) string {
	var opts []string
	if v, ok := attrs.Get("width", ""); ok && v != "" {
		if strings.HasSuffix(v, "%") {
			if pct, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
				opts = append(opts, fmt.Sprintf("width=%.2f\\linewidth", pct/100))
			}
		} else if n, ok := attrs.GetFloat("width", ""); ok {
			opts = append(opts, fmt.Sprintf("width=%.4gpt", n))
		}
	}
	if v, ok := attrs.Get("height", ""); ok && v != "" && !strings.HasSuffix(v, "%") {
		if n, ok := attrs.GetFloat("height", ""); ok {
			opts = append(opts, fmt.Sprintf("height=%.4gpt", n))
		}
	}
	return strings.Join(opts, ", ")
}

// texSpecials maps characters with meaning in TeX to printable commands. A
// single replacer pass keeps the inserted commands from being re-escaped.
var texSpecials = strings.NewReplacer(
	"\\", "\\textbackslash{}",
	"{", "\\{",
	"}", "\\}",
	"$", "\\$",
	"&", "\\&",
	"#", "\\#",
	"_", "\\_",
	"%", "\\%",
	"~", "\\textasciitilde{}",
	"^", "\\textasciicircum{}",
)

func texEscape(s string) string {
	return texSpecials.Replace(s)
}

// TeXEscape escapes TeX special characters in plain text, for titles and
// other metadata interpolated into page shells.
func TeXEscape(s string) string { return texEscape(s) }

// texEscapeURL escapes only what breaks href/url arguments.
func texEscapeURL(s string) string {
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "#", "\\#")
	return s
}
