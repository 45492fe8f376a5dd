package target

import (
	"fmt"
	htmltemplate "html/template"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/hasher"
	"git.home.luguber.info/inful/docpress/internal/render"
	"git.home.luguber.info/inful/docpress/internal/scanner"
	"git.home.luguber.info/inful/docpress/internal/templates"
)

// assembly is one build pass's graph plus everything the result needs.
type assembly struct {
	graph builders.Builder
	// artifacts lists produced files, main artifact first.
	artifacts []string
	// errs holds per-dependency assembly failures (unsupported conversions)
	// that must not stop sibling dependencies.
	errs []error
}

func (b *Builder) assemble(doc *document.Document) (*assembly, error) {
	outDir := filepath.Join(b.deps.OutDir, b.format)
	switch b.format {
	case "html":
		return b.assembleHTML(doc, outDir)
	case "tex":
		return b.assembleTeX(doc, outDir)
	case "pdf":
		return b.assemblePDF(doc, outDir)
	case "epub":
		return b.assembleEPUB(doc, outDir)
	case "txt":
		return b.assembleTxt(doc, outDir)
	default:
		return nil, fmt.Errorf("unknown target format %q", b.format)
	}
}

// dependencies converts the document's scanned specs into conversion
// builders. docDir is the directory of the rendered page; dependency
// artifacts land under docDir/media and rewrite URLs are relative to docDir.
//
// A dependency with no catalog route is recorded as an error and skipped;
// its siblings still build.
func (b *Builder) dependencies(doc *document.Document, docDir string) (deps []builders.Builder, rewrites render.RewriteMap, media []string, errs []error) {
	docAttrs := doc.Meta.AttributeSet()
	rewrites = make(render.RewriteMap)

	for _, spec := range scanner.Scan(doc) {
		attrs := docAttrs.Merge(spec.Attributes).ForTarget(b.format)
		req := builders.Request{
			Source:     spec.Source,
			Inline:     spec.Inline,
			Format:     spec.Format,
			Attributes: attrs,
			Target:     b.format,
			OutDir:     docDir,
			OutName:    filepath.ToSlash(filepath.Join("media", depName(spec, attrs))),
		}
		if spec.Source != "" {
			req.ExtraInputs = scanner.SubDependencies(spec.Source)
		}
		built, err := b.deps.Catalog.ForDependency(req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if built == nil {
			continue
		}
		deps = append(deps, built)

		outs := built.Outputs()
		final := outs[len(outs)-1]
		url, relErr := filepath.Rel(docDir, final)
		if relErr != nil {
			url = final
		}
		rewrites[spec.RenderKey()] = render.Artifact{
			Path:       final,
			URL:        filepath.ToSlash(url),
			Attributes: attrs,
		}
		media = append(media, final)
	}
	return deps, rewrites, media, errs
}

// depName builds a unique media filename for one dependency: the reference's
// stem plus a short identity hash, so two assets with the same basename (or
// the same asset under different parameters) never collide.
func depName(spec scanner.DependencySpec, attrs attributes.Set) string {
	stem := "inline-" + strings.TrimPrefix(spec.Format, ".")
	if spec.Source != "" {
		base := filepath.Base(spec.Source)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
	id := string(hasher.Strings(spec.Source, string(spec.Inline), attrs.Canonical()))
	return fmt.Sprintf("%s-%s%s", slugify(stem), id[:8], spec.Format)
}

// slugFolder strips combining marks so accented stems fold to plain ASCII.
var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slugify folds a reference stem to a name safe inside URLs and EPUB
// archives. Diacritics fold to their base letters; everything outside
// [A-Za-z0-9._-] becomes a dash.
func slugify(s string) string {
	if folded, _, err := transform.String(slugFolder, s); err == nil {
		s = folded
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// chain arranges the graph: dependencies first (mutually parallel), then the
// assembly stages in order.
func (b *Builder) chain(deps []builders.Builder, assemblyStages ...builders.Builder) builders.Builder {
	var stages []builders.Builder
	if len(deps) > 0 {
		stages = append(stages, builders.NewParallel("deps", deps...))
	}
	stages = append(stages, assemblyStages...)
	if len(stages) == 1 {
		return stages[0]
	}
	return builders.NewSequential("target:"+b.format, stages...)
}

// templateInputs declares project template overrides as build inputs, so
// editing an override invalidates renders that used it.
func (b *Builder) templateInputs(names ...string) []string {
	var inputs []string
	for _, name := range names {
		if p, ok := b.deps.Templates.OverridePath(name); ok {
			inputs = append(inputs, p)
		}
	}
	return inputs
}

func title(doc *document.Document) string {
	if doc.Meta.Title != "" {
		return doc.Meta.Title
	}
	return doc.Name
}

type htmlPage struct {
	Language  string
	Title     string
	StyleHref string
	Body      htmltemplate.HTML
}

func (b *Builder) assembleHTML(doc *document.Document, outDir string) (*assembly, error) {
	deps, rewrites, media, errs := b.dependencies(doc, outDir)

	body, err := render.HTMLBody(doc, rewrites)
	if err != nil {
		return nil, err
	}
	page, err := b.deps.Templates.ExecuteHTML(templates.PageHTML, htmlPage{
		Language:  "en",
		Title:     title(doc),
		StyleHref: "media/style.css",
		Body:      htmltemplate.HTML(body),
	})
	if err != nil {
		return nil, err
	}

	style, err := b.deps.Templates.Source(templates.StyleCSS)
	if err != nil {
		return nil, err
	}
	stylePath := filepath.Join(outDir, "media", "style.css")
	styleNode := builders.NewFileWriter(builders.KindWrite, style,
		b.templateInputs(templates.StyleCSS), stylePath, attributes.Set{})

	pagePath := filepath.Join(outDir, doc.Name+".html")
	pageNode := builders.NewFileWriter(builders.KindRender, page,
		b.templateInputs(templates.PageHTML), pagePath, attributes.Set{})

	graph := b.chain(deps, builders.NewParallel("assembly", pageNode, styleNode))
	artifacts := append([]string{pagePath, stylePath}, media...)
	return &assembly{graph: graph, artifacts: artifacts, errs: errs}, nil
}

type texPage struct {
	Title string
	Body  string
}

// renderTeXPage renders the full .tex source for the document, shared by the
// tex and pdf targets.
func (b *Builder) renderTeXPage(doc *document.Document, rewrites render.RewriteMap) ([]byte, error) {
	body, err := render.TeXBody(doc, rewrites)
	if err != nil {
		return nil, err
	}
	return b.deps.Templates.ExecuteText(templates.PageTeX, texPage{
		Title: render.TeXEscape(title(doc)),
		Body:  string(body),
	})
}

func (b *Builder) assembleTeX(doc *document.Document, outDir string) (*assembly, error) {
	deps, rewrites, media, errs := b.dependencies(doc, outDir)

	page, err := b.renderTeXPage(doc, rewrites)
	if err != nil {
		return nil, err
	}
	texPath := filepath.Join(outDir, doc.Name+".tex")
	texNode := builders.NewFileWriter(builders.KindRender, page,
		b.templateInputs(templates.PageTeX), texPath, attributes.Set{})

	graph := b.chain(deps, texNode)
	artifacts := append([]string{texPath}, media...)
	return &assembly{graph: graph, artifacts: artifacts, errs: errs}, nil
}

func (b *Builder) assemblePDF(doc *document.Document, outDir string) (*assembly, error) {
	deps, rewrites, media, errs := b.dependencies(doc, outDir)

	page, err := b.renderTeXPage(doc, rewrites)
	if err != nil {
		return nil, err
	}
	texPath := filepath.Join(outDir, doc.Name+".tex")
	texNode := builders.NewFileWriter(builders.KindRender, page,
		b.templateInputs(templates.PageTeX), texPath, attributes.Set{})

	// Compile under scratch so .aux/.log droppings stay out of the output
	// tree; the compiler's working directory is still the output dir, so
	// relative includegraphics paths resolve against the published media.
	scratchPDF := filepath.Join(b.scratchDir(doc), doc.Name+".pdf")
	compile := b.deps.Catalog.LaTeXChain(texPath, scratchPDF, outDir,
		doc.Meta.AttributeSet().ForTarget(b.format))

	pdfPath := filepath.Join(outDir, doc.Name+".pdf")
	publish := builders.NewCopy(scratchPDF, pdfPath)

	graph := b.chain(deps, builders.NewSequential("compile", texNode, compile, publish))
	artifacts := append([]string{pdfPath, texPath}, media...)
	return &assembly{graph: graph, artifacts: artifacts, errs: errs}, nil
}

// scratchDir is the stable per-document compile directory under the scratch
// root.
func (b *Builder) scratchDir(doc *document.Document) string {
	id := string(hasher.Strings("scratch", b.docPath, b.format))
	return filepath.Join(b.deps.ScratchDir, fmt.Sprintf("%s-%s", doc.Name, id[:8]))
}

func (b *Builder) assembleTxt(doc *document.Document, outDir string) (*assembly, error) {
	body, err := render.TextBody(doc)
	if err != nil {
		return nil, err
	}
	if doc.Meta.Title != "" {
		heading := doc.Meta.Title + "\n" + strings.Repeat("=", len(doc.Meta.Title)) + "\n\n"
		body = append([]byte(heading), body...)
	}
	txtPath := filepath.Join(outDir, doc.Name+".txt")
	node := builders.NewFileWriter(builders.KindRender, body, nil, txtPath, attributes.Set{})
	return &assembly{graph: node, artifacts: []string{txtPath}}, nil
}

type epubShell struct {
	Title       string
	StyleHref   string
	ChapterHref string
	Body        htmltemplate.HTML
}

type opfData struct {
	Identifier  string
	Title       string
	Language    string
	Modified    string
	ChapterHref string
	StyleHref   string
	MediaItems  []opfItem
}

type opfItem struct {
	ID        string
	Href      string
	MediaType string
}

// epubModified is the fixed dcterms:modified stamp. A wall-clock stamp would
// make otherwise identical builds produce different archives.
const epubModified = "2000-01-01T00:00:00Z"

func (b *Builder) assembleEPUB(doc *document.Document, outDir string) (*assembly, error) {
	stage := b.epubStageDir(doc)
	oebps := filepath.Join(stage, "OEBPS")
	deps, rewrites, _, errs := b.dependencies(doc, oebps)

	chapterHref := doc.Name + ".xhtml"
	body, err := render.XHTMLBody(doc, rewrites)
	if err != nil {
		return nil, err
	}
	chapter, err := b.deps.Templates.ExecuteHTML(templates.EPUBChapter, epubShell{
		Title:       title(doc),
		StyleHref:   "style.css",
		ChapterHref: chapterHref,
		Body:        htmltemplate.HTML(body),
	})
	if err != nil {
		return nil, err
	}
	toc, err := b.deps.Templates.ExecuteHTML(templates.EPUBNav, epubShell{
		Title:       title(doc),
		ChapterHref: chapterHref,
	})
	if err != nil {
		return nil, err
	}
	container, err := b.deps.Templates.Source(templates.EPUBContainer)
	if err != nil {
		return nil, err
	}
	style, err := b.deps.Templates.Source(templates.StyleCSS)
	if err != nil {
		return nil, err
	}

	var items []opfItem
	for i, d := range deps {
		outs := d.Outputs()
		final := outs[len(outs)-1]
		href, relErr := filepath.Rel(oebps, final)
		if relErr != nil {
			continue
		}
		items = append(items, opfItem{
			ID:        fmt.Sprintf("m%d", i),
			Href:      filepath.ToSlash(href),
			MediaType: epubMediaType(filepath.Ext(final)),
		})
	}
	opf, err := b.deps.Templates.ExecuteText(templates.EPUBPackage, opfData{
		Identifier:  uuid.NewSHA1(uuid.NameSpaceURL, []byte("docpress:"+b.docPath)).String(),
		Title:       title(doc),
		Language:    "en",
		Modified:    epubModified,
		ChapterHref: chapterHref,
		StyleHref:   "style.css",
		MediaItems:  items,
	})
	if err != nil {
		return nil, err
	}

	staged := map[string][]byte{
		filepath.Join(stage, "mimetype"):                  []byte("application/epub+zip"),
		filepath.Join(stage, "META-INF", "container.xml"): container,
		filepath.Join(oebps, "content.opf"):               opf,
		filepath.Join(oebps, "toc.xhtml"):                 toc,
		filepath.Join(oebps, chapterHref):                 chapter,
		filepath.Join(oebps, "style.css"):                 style,
	}
	tmplInputs := map[string][]string{
		filepath.Join(oebps, chapterHref): b.templateInputs(templates.EPUBChapter),
		filepath.Join(oebps, "toc.xhtml"): b.templateInputs(templates.EPUBNav),
		filepath.Join(oebps, "style.css"): b.templateInputs(templates.StyleCSS),
	}

	var writers []builders.Builder
	var archiveInputs []string
	for _, path := range sortedKeys(staged) {
		writers = append(writers, builders.NewFileWriter(builders.KindWrite,
			staged[path], tmplInputs[path], path, attributes.Set{}))
		archiveInputs = append(archiveInputs, path)
	}
	for _, d := range deps {
		outs := d.Outputs()
		archiveInputs = append(archiveInputs, outs[len(outs)-1])
	}

	epubPath := filepath.Join(outDir, doc.Name+".epub")
	archive := newEPUBArchive(stage, archiveInputs, epubPath)

	graph := b.chain(deps, builders.NewParallel("stage", writers...), archive)
	return &assembly{graph: graph, artifacts: []string{epubPath}, errs: errs}, nil
}

// epubStageDir is the stable staging directory for one document's EPUB
// layout, kept in the shared cache so incremental rebuilds reuse it.
func (b *Builder) epubStageDir(doc *document.Document) string {
	id := string(hasher.Strings("epub-stage", b.docPath))
	return filepath.Join(b.deps.Catalog.MediaDir(), "epub", fmt.Sprintf("%s-%s", doc.Name, id[:8]))
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
