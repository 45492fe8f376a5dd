package render

import (
	"bytes"
	"fmt"
	"strings"

	gmast "github.com/yuin/goldmark/ast"

	"git.home.luguber.info/inful/docpress/internal/document"
)

// TextBody renders the document body to plain text. Media drops to alt text;
// inline fragments stay as indented source.
func TextBody(doc *document.Document) ([]byte, error) {
	e := &textEmitter{source: doc.Body}
	if err := gmast.Walk(parseFresh(doc), e.walk); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	out := bytes.TrimLeft(e.b.Bytes(), "\n")
	if len(out) > 0 && !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	return out, nil
}

type textEmitter struct {
	source []byte
	b      bytes.Buffer
	// ordinals tracks the next item number per nested ordered list.
	ordinals []int
}

func (e *textEmitter) walk(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
	switch node := n.(type) {
	case *gmast.Heading:
		if entering {
			title := string(plainText(node, e.source))
			underline := "="
			if node.Level > 1 {
				underline = "-"
			}
			fmt.Fprintf(&e.b, "%s\n%s\n\n", title, strings.Repeat(underline, len(title)))
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.Paragraph:
		if !entering {
			e.b.WriteString("\n\n")
		}
	case *gmast.TextBlock:
		if !entering {
			e.b.WriteByte('\n')
		}
	case *gmast.List:
		if entering {
			start := 0
			if node.IsOrdered() {
				start = node.Start
				if start == 0 {
					start = 1
				}
			}
			e.ordinals = append(e.ordinals, start)
		} else {
			e.ordinals = e.ordinals[:len(e.ordinals)-1]
			if len(e.ordinals) == 0 {
				e.b.WriteByte('\n')
			}
		}
	case *gmast.ListItem:
		if entering {
			depth := len(e.ordinals) - 1
			e.b.WriteString(strings.Repeat("  ", depth))
			if ord := e.ordinals[depth]; ord > 0 {
				fmt.Fprintf(&e.b, "%d. ", ord)
				e.ordinals[depth]++
			} else {
				e.b.WriteString("- ")
			}
		}
	case *gmast.Blockquote:
		if entering {
			e.b.WriteString("> ")
		} else {
			e.b.WriteByte('\n')
		}
	case *gmast.ThematicBreak:
		if entering {
			e.b.WriteString("----\n\n")
		}
	case *gmast.Image:
		if entering {
			alt := string(plainText(node, e.source))
			if alt == "" {
				alt = string(node.Destination)
			}
			fmt.Fprintf(&e.b, "[%s]", alt)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.Link:
		if !entering {
			fmt.Fprintf(&e.b, " (%s)", node.Destination)
		}
	case *gmast.AutoLink:
		if entering {
			e.b.Write(node.URL(e.source))
		}
	case *gmast.FencedCodeBlock:
		if entering {
			e.writeIndented(node)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.CodeBlock:
		if entering {
			e.writeIndented(node)
			return gmast.WalkSkipChildren, nil
		}
	case *gmast.Text:
		if entering {
			e.b.Write(node.Segment.Value(e.source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				e.b.WriteByte('\n')
			}
		}
	case *gmast.String:
		if entering {
			e.b.Write(node.Value)
		}
	}
	return gmast.WalkContinue, nil
}

func (e *textEmitter) writeIndented(node gmast.Node) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		e.b.WriteString("    ")
		e.b.Write(seg.Value(e.source))
	}
	e.b.WriteByte('\n')
}
