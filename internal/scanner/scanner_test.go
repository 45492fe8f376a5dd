package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpress/internal/document"
)

func parseDoc(t *testing.T, body string) *document.Document {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	doc, err := document.Load(path, root)
	require.NoError(t, err)
	return doc
}

func TestScanImages(t *testing.T) {
	doc := parseDoc(t, strings.Join([]string{
		`![first](media/diagram.asy "scale=2")`,
		``,
		`![second](figures/plot.png)`,
		``,
		`![remote](https://example.com/x.png)`,
		`![fragmented](media/fig.svg#view)`,
	}, "\n"))

	specs := Scan(doc)
	require.Len(t, specs, 3)

	require.Equal(t, ".asy", specs[0].Format)
	require.Equal(t, "media/diagram.asy", specs[0].Ref)
	require.False(t, specs[0].IsInline())
	v, ok := specs[0].Attributes.Get("scale", "")
	require.True(t, ok)
	require.Equal(t, "2", v)

	require.Equal(t, ".png", specs[1].Format)
	require.Equal(t, ".svg", specs[2].Format)
	require.Equal(t, "media/fig.svg", specs[2].Ref)
}

func TestScanReturnsNonexistentPaths(t *testing.T) {
	doc := parseDoc(t, `![missing](media/nowhere.asy)`)
	specs := Scan(doc)
	require.Len(t, specs, 1)
	// The path does not exist; the spec is still produced and resolves
	// relative to the document.
	require.Equal(t, filepath.Join(doc.Dir(), "media", "nowhere.asy"), specs[0].Source)
}

func TestScanInlineFragments(t *testing.T) {
	doc := parseDoc(t, strings.Join([]string{
		"```asy scale=3",
		"draw((0,0)--(1,1));",
		"```",
		"",
		"```go",
		"package main",
		"```",
		"",
		"```latex",
		"e = mc^2",
		"```",
	}, "\n"))

	specs := Scan(doc)
	require.Len(t, specs, 2)

	require.True(t, specs[0].IsInline())
	require.Equal(t, ".asy", specs[0].Format)
	require.Equal(t, "draw((0,0)--(1,1));\n", string(specs[0].Inline))
	v, ok := specs[0].Attributes.Get("scale", "")
	require.True(t, ok)
	require.Equal(t, "3", v)

	require.Equal(t, ".tex", specs[1].Format)
	require.Equal(t, "e = mc^2\n", string(specs[1].Inline))
}

func TestScanBracedFenceAttributes(t *testing.T) {
	doc := parseDoc(t, strings.Join([]string{
		"```asy {scale=2}",
		"draw(unitcircle);",
		"```",
	}, "\n"))

	specs := Scan(doc)
	require.Len(t, specs, 1)
	v, ok := specs[0].Attributes.Get("scale", "")
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestScanDeduplicatesIdenticalRefs(t *testing.T) {
	doc := parseDoc(t, strings.Join([]string{
		`![a](media/fig.png)`,
		`![b](media/fig.png)`,
		`![c](media/fig.png "width=100")`,
	}, "\n"))

	specs := Scan(doc)
	// Same ref twice collapses; different attributes stay distinct.
	require.Len(t, specs, 2)
}

func TestScanIsIdempotent(t *testing.T) {
	doc := parseDoc(t, "![a](x.png)\n\n```asy\ndraw(unitcircle);\n```\n")
	first := Scan(doc)
	second := Scan(doc)
	require.Equal(t, first, second)
}

func TestScanOrder(t *testing.T) {
	doc := parseDoc(t, strings.Join([]string{
		`![z](z.png)`,
		``,
		"```asy",
		"draw(unitsquare);",
		"```",
		``,
		`![a](a.png)`,
	}, "\n"))

	specs := Scan(doc)
	require.Len(t, specs, 3)
	require.Equal(t, "z.png", specs[0].Ref)
	require.True(t, specs[1].IsInline())
	require.Equal(t, "a.png", specs[2].Ref)
}

func TestScanHTML(t *testing.T) {
	page := `<html><head>
		<link rel="stylesheet" href="css/site.css">
		<script src="js/app.js"></script>
	</head><body>
		<img src="media/fig.svg">
		<img src="https://cdn.example.com/logo.png">
	</body></html>`

	refs, err := ScanHTML(strings.NewReader(page))
	require.NoError(t, err)
	require.Equal(t, []string{"css/site.css", "js/app.js", "media/fig.svg"}, refs)
}

func TestScanCSS(t *testing.T) {
	css := []byte(`body { background: url("img/bg.png"); }
	.x { mask: url( icons/m.svg ); }
	.y { content: url('https://e.com/a.png'); }`)

	refs := ScanCSS(css)
	require.Equal(t, []string{"img/bg.png", "icons/m.svg"}, refs)
}

func TestScanTeX(t *testing.T) {
	tex := []byte(`\includegraphics[width=0.5\textwidth]{media/fig.pdf}
\input{preamble.tex}
\include{chapter1}`)

	refs := ScanTeX(tex)
	require.Equal(t, []string{"media/fig.pdf", "preamble.tex", "chapter1"}, refs)
}

func TestSubDependencies(t *testing.T) {
	dir := t.TempDir()
	writeTestFile := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	plot := writeTestFile("media/plot.png", "png bytes")
	fig := writeTestFile("fig.tex",
		`\includegraphics{media/plot.png}`+"\n"+`\input{missing.tex}`)

	deps := SubDependencies(fig)
	require.Equal(t, []string{plot}, deps)

	// Unknown formats and unreadable paths yield nothing.
	require.Nil(t, SubDependencies(plot))
	require.Nil(t, SubDependencies(filepath.Join(dir, "nowhere.tex")))
}
