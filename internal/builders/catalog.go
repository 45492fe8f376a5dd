package builders

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// allowedFormats lists, per target, the dependency formats that can be used
// as-is, in preference order. A dependency already in an allowed format is
// copied; anything else must be converted to the first allowed format
// reachable through the catalog.
var allowedFormats = map[string][]string{
	"html":  {".svg", ".png", ".jpg", ".jpeg", ".gif", ".css"},
	"xhtml": {".svg", ".png", ".jpg", ".jpeg", ".css"},
	"epub":  {".svg", ".png", ".jpg", ".jpeg", ".css"},
	"tex":   {".pdf", ".png", ".jpg", ".jpeg"},
	"pdf":   {".pdf", ".png", ".jpg", ".jpeg"},
	"txt":   nil,
}

// AllowedFormats returns the dependency formats a target accepts.
func AllowedFormats(target string) []string {
	return allowedFormats[strings.TrimPrefix(target, ".")]
}

// Timeouts is the per-converter-kind time budget table.
type Timeouts struct {
	Default time.Duration
	PerKind map[string]time.Duration
}

// For returns the budget for a converter kind.
func (t Timeouts) For(kind string) time.Duration {
	if d, ok := t.PerKind[kind]; ok {
		return d
	}
	return t.Default
}

// DefaultTimeouts gives LaTeX and Asymptote longer budgets than the cheap
// raster and vector conversions.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default: 30 * time.Second,
		PerKind: map[string]time.Duration{
			KindAsy2PDF:  60 * time.Second,
			KindPDFLaTeX: 90 * time.Second,
			KindLatexmk:  120 * time.Second,
		},
	}
}

// chainFunc assembles the atomic steps converting src into the entry's
// target format, returning the steps and the path of the finished
// intermediate.
type chainFunc func(c *Catalog, src, stem string, attrs attributes.Set) ([]Atomic, string)

// entry is one catalog row. Higher priority wins among entries for the same
// format pair; disabled entries are skipped.
type entry struct {
	from, to string
	priority int
	enabled  func(c *Catalog) bool
	assemble chainFunc
}

// Catalog is the fixed converter table. It assembles conversion chains whose
// intermediates live in a shared media cache directory, so distinct targets
// and documents converge on identical nodes for identical work.
type Catalog struct {
	runner      Runner
	mediaDir    string
	timeouts    Timeouts
	latexEngine string
	entries     []entry
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithTimeouts overrides the time budget table.
func WithTimeouts(t Timeouts) CatalogOption {
	return func(c *Catalog) { c.timeouts = t }
}

// WithLaTeXEngine selects the TeX compiler: "pdflatex" (default) or
// "latexmk".
func WithLaTeXEngine(engine string) CatalogOption {
	return func(c *Catalog) { c.latexEngine = engine }
}

// NewCatalog builds the fixed catalog. mediaDir is the shared intermediate
// cache directory.
func NewCatalog(runner Runner, mediaDir string, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		runner:      runner,
		mediaDir:    mediaDir,
		timeouts:    DefaultTimeouts(),
		latexEngine: KindPDFLaTeX,
	}
	for _, opt := range opts {
		opt(c)
	}
	always := func(*Catalog) bool { return true }
	c.entries = []entry{
		{from: ".asy", to: ".pdf", priority: 100, enabled: always, assemble: (*Catalog).asy2pdfChain},
		{from: ".asy", to: ".svg", priority: 100, enabled: always, assemble: (*Catalog).asy2svgChain},
		{from: ".pdf", to: ".svg", priority: 100, enabled: always, assemble: (*Catalog).pdf2svgChain},
		{from: ".tex", to: ".pdf", priority: 100, enabled: always, assemble: (*Catalog).tex2pdfChain},
		{from: ".tex", to: ".svg", priority: 100, enabled: always, assemble: (*Catalog).tex2svgChain},
		{from: ".tif", to: ".png", priority: 100, enabled: always, assemble: (*Catalog).tiff2pngChain},
		{from: ".tiff", to: ".png", priority: 100, enabled: always, assemble: (*Catalog).tiff2pngChain},
		{from: ".svg", to: ".png", priority: 100, enabled: always, assemble: (*Catalog).svg2pngChain},
	}
	sort.SliceStable(c.entries, func(i, j int) bool { return c.entries[i].priority > c.entries[j].priority })
	return c
}

func (c *Catalog) lookup(from, to string) (entry, bool) {
	for _, e := range c.entries {
		if e.from == from && e.to == to && e.enabled(c) {
			return e, true
		}
	}
	return entry{}, false
}

// Supported reports whether the catalog can convert from into to.
func (c *Catalog) Supported(from, to string) bool {
	_, ok := c.lookup(from, to)
	return ok
}

// Request describes one dependency of one target build.
type Request struct {
	// Source is the resolved asset path. Empty for inline payloads.
	Source string
	// Inline is the fragment payload when Source is empty.
	Inline []byte
	// Format is the source format extension (".asy").
	Format string
	// Attributes must already be flattened for the target.
	Attributes attributes.Set
	// ExtraInputs are scanned sub-references of Source (a TeX asset's
	// included graphics). They join the first conversion step's inputs so
	// editing one invalidates the chain.
	ExtraInputs []string
	// Target is the output format name ("html").
	Target string
	// OutDir is the directory receiving the finished artifact.
	OutDir string
	// OutName is the artifact's path relative to OutDir; its extension is
	// replaced by the conversion's final format.
	OutName string
}

// ForDependency assembles the builder tree converting one dependency for one
// target. It returns (nil, nil) when the target tracks no dependency formats,
// and an ErrUnsupportedConversion BuildError when no catalog route reaches an
// allowed format.
func (c *Catalog) ForDependency(req Request) (Builder, error) {
	allowed := AllowedFormats(req.Target)
	if len(allowed) == 0 {
		return nil, nil
	}

	format := strings.ToLower(req.Format)
	stem := strings.TrimSuffix(filepath.Base(req.OutName), filepath.Ext(req.OutName))

	src := req.Source
	var writer Atomic
	if src == "" {
		src = c.cachePath(stem, KindWrite, string(hasher.Bytes(req.Inline)), req.Attributes, format)
		writer = NewFileWriter(KindWrite, req.Inline, nil, src, attributes.Set{})
	}

	// Already in an allowed format: plain copy (or direct write).
	for _, ext := range allowed {
		if format != ext {
			continue
		}
		final := c.finalPath(req, ext)
		if writer != nil {
			return NewFileWriter(KindWrite, req.Inline, nil, final, attributes.Set{}), nil
		}
		return NewCopy(src, final), nil
	}

	for _, ext := range allowed {
		e, ok := c.lookup(format, ext)
		if !ok {
			continue
		}
		steps, converted := e.assemble(c, src, stem, req.Attributes)
		if len(req.ExtraInputs) > 0 {
			steps[0].AddInputs(req.ExtraInputs...)
		}
		var children []Builder
		if writer != nil {
			children = append(children, writer)
		}
		for _, s := range steps {
			children = append(children, s)
		}
		children = append(children, NewCopy(converted, c.finalPath(req, ext)))
		kind := strings.TrimPrefix(format, ".") + "2" + strings.TrimPrefix(ext, ".")
		return NewSequential(kind, children...), nil
	}

	return nil, &BuildError{
		Kind:   "catalog",
		Inputs: []string{src},
		Err: fmt.Errorf("%s to %s for target %s: %w",
			format, strings.Join(allowed, "/"), req.Target, ErrUnsupportedConversion),
	}
}

// finalPath is the artifact destination with the extension swapped to the
// conversion's final format.
func (c *Catalog) finalPath(req Request, ext string) string {
	rel := strings.TrimSuffix(req.OutName, filepath.Ext(req.OutName)) + ext
	return filepath.Join(req.OutDir, filepath.FromSlash(rel))
}

// cachePath names a shared intermediate: <stem>_<identity hash>.<ext>. The
// identity covers the producing kind, its direct input and its parameters,
// so identical work converges on one path and different work never collides.
func (c *Catalog) cachePath(stem, kind, seed string, attrs attributes.Set, ext string) string {
	id := string(hasher.Strings(kind, seed, attrs.Canonical()))
	return filepath.Join(c.mediaDir, fmt.Sprintf("%s_%s%s", stem, id[:12], ext))
}

func (c *Catalog) asy2pdfChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	out := c.cachePath(stem, KindAsy2PDF, src, attrs, ".pdf")
	step := NewAsy2PDF(c.runner, src, out, attrs, c.timeouts.For(KindAsy2PDF))
	return []Atomic{step}, out
}

func (c *Catalog) asy2svgChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	steps, pdf := c.asy2pdfChain(src, stem, attrs)
	rest, svg := c.pdf2svgChain(pdf, stem, attrs)
	return append(steps, rest...), svg
}

// pdf2svgChain is the crop/convert/scale pipeline. Crop and scale stages
// join only when their attributes ask for them.
func (c *Catalog) pdf2svgChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	var steps []Atomic
	cur := src

	if wantsCrop(attrs) {
		out := c.cachePath(stem, KindPDFCrop, cur, attrs, ".pdf")
		steps = append(steps, NewPDFCrop(c.runner, cur, out, attrs, c.timeouts.For(KindPDFCrop)))
		cur = out
	}

	out := c.cachePath(stem, KindPDF2SVG, cur, attrs, ".svg")
	steps = append(steps, NewPDF2SVG(c.runner, cur, out, attrs, c.timeouts.For(KindPDF2SVG)))
	cur = out

	if scale, ok := attrs.GetFloat("scale", ""); ok && scale > 0 && scale != 1 {
		out := c.cachePath(stem, KindScaleSVG, cur, attrs, ".svg")
		steps = append(steps, NewScaleSVG(c.runner, cur, out, attrs, c.timeouts.For(KindScaleSVG)))
		cur = out
	}
	return steps, cur
}

func (c *Catalog) tex2pdfChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	kind := KindPDFLaTeX
	if c.latexEngine == KindLatexmk {
		kind = KindLatexmk
	}
	out := c.cachePath(stem, kind, src, attrs, ".pdf")
	var step Atomic
	if kind == KindLatexmk {
		step = NewLatexmk(c.runner, src, out, attrs, c.timeouts.For(kind))
	} else {
		step = NewPDFLaTeX(c.runner, src, out, attrs, c.timeouts.For(kind))
	}
	return []Atomic{step}, out
}

func (c *Catalog) tex2svgChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	steps, pdf := c.tex2pdfChain(src, stem, attrs)
	rest, svg := c.pdf2svgChain(pdf, stem, attrs)
	return append(steps, rest...), svg
}

func (c *Catalog) tiff2pngChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	out := c.cachePath(stem, KindTiff2PNG, src, attrs, ".png")
	step := NewTiff2PNG(c.runner, src, out, attrs, c.timeouts.For(KindTiff2PNG))
	return []Atomic{step}, out
}

func (c *Catalog) svg2pngChain(src, stem string, attrs attributes.Set) ([]Atomic, string) {
	out := c.cachePath(stem, KindSVG2PNG, src, attrs, ".png")
	step := NewSVG2PNG(c.runner, src, out, attrs, c.timeouts.For(KindSVG2PNG))
	return []Atomic{step}, out
}

func wantsCrop(attrs attributes.Set) bool {
	if attrs.Flag("crop", "") {
		return true
	}
	pct, ok := attrs.GetInt("crop", "")
	return ok && pct > 0
}

// Runner exposes the catalog's tool runner for final-assembly builders
// constructed outside the catalog.
func (c *Catalog) Runner() Runner { return c.runner }

// TimeoutFor exposes the configured budget for a converter kind.
func (c *Catalog) TimeoutFor(kind string) time.Duration { return c.timeouts.For(kind) }

// MediaDir is the shared intermediate directory.
func (c *Catalog) MediaDir() string { return c.mediaDir }

// LaTeXChain builds the TeX-to-PDF step for final document compilation
// (the pdf target's assembly), reusing the engine selection. dir is the
// working directory for the compiler, so relative \includegraphics paths in
// the rendered source resolve ("" to inherit).
func (c *Catalog) LaTeXChain(src, outPDF, dir string, attrs attributes.Set) Atomic {
	kind := KindPDFLaTeX
	if c.latexEngine == KindLatexmk {
		kind = KindLatexmk
	}
	var step *ExecBuilder
	if kind == KindLatexmk {
		step = NewLatexmk(c.runner, src, outPDF, attrs, c.timeouts.For(kind))
	} else {
		step = NewPDFLaTeX(c.runner, src, outPDF, attrs, c.timeouts.For(kind))
	}
	return step.WithDir(dir)
}
