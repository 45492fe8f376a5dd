package builders

import (
	"path/filepath"
	"strconv"
	"time"

	"git.home.luguber.info/inful/docpress/internal/attributes"
)

// Converter kinds and the attribute names each one recognizes. Attributes
// outside a converter's table are ignored: they pass through scanning
// untouched and never perturb that node's cache identity.
var recognizedOptions = map[string][]string{
	KindAsy2PDF:  nil,
	KindPDF2SVG:  {"page"},
	KindPDFCrop:  {"crop"},
	KindScaleSVG: {"scale"},
	KindSVG2PNG:  {"scale"},
	KindTiff2PNG: nil,
	KindPDFLaTeX: nil,
	KindLatexmk:  nil,
}

const (
	KindAsy2PDF  = "asy2pdf"
	KindPDF2SVG  = "pdf2svg"
	KindPDFCrop  = "pdfcrop"
	KindScaleSVG = "scalesvg"
	KindSVG2PNG  = "svg2png"
	KindTiff2PNG = "tiff2png"
	KindPDFLaTeX = "pdflatex"
	KindLatexmk  = "latexmk"
	KindCopy     = "copy"
	KindWrite    = "write"
	KindRender   = "render"
	KindEPUB     = "epub"
)

// pickParams extracts a converter's recognized options from a flattened
// attribute set.
func pickParams(attrs attributes.Set, kind string) attributes.Set {
	var pairs []string
	for _, name := range recognizedOptions[kind] {
		if v, ok := attrs.Get(name, ""); ok {
			pairs = append(pairs, name, v)
		} else if attrs.Flag(name, "") {
			pairs = append(pairs, name, "true")
		}
	}
	return attributes.FromPairs(pairs...)
}

// NewAsy2PDF renders an Asymptote source to PDF.
func NewAsy2PDF(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{"-safe", "-f", "pdf", "-o", out, src}
	return NewExecBuilder(KindAsy2PDF, runner, "asy", args,
		[]string{src}, []string{out}, pickParams(attrs, KindAsy2PDF), timeout)
}

// NewPDF2SVG converts a PDF page to SVG. The page attribute selects a page
// (1-based); default is the first.
func NewPDF2SVG(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{src, out}
	if page, ok := attrs.GetInt("page", ""); ok && page > 0 {
		args = append(args, strconv.Itoa(page))
	}
	return NewExecBuilder(KindPDF2SVG, runner, "pdf2svg", args,
		[]string{src}, []string{out}, pickParams(attrs, KindPDF2SVG), timeout)
}

// NewPDFCrop trims PDF margins. A numeric crop attribute is the percent of
// margin to retain; the bare flag crops fully.
func NewPDFCrop(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{"-o", out, src}
	if pct, ok := attrs.GetInt("crop", ""); ok && pct > 0 {
		args = append(args, "-p", strconv.Itoa(pct))
	}
	return NewExecBuilder(KindPDFCrop, runner, "pdf-crop-margins", args,
		[]string{src}, []string{out}, pickParams(attrs, KindPDFCrop), timeout)
}

// NewScaleSVG rescales an SVG by the scale attribute's factor.
func NewScaleSVG(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	scale, ok := attrs.GetFloat("scale", "")
	if !ok || scale <= 0 {
		scale = 1
	}
	args := []string{"-z", formatFloat(scale), "-f", "svg", "-o", out, src}
	return NewExecBuilder(KindScaleSVG, runner, "rsvg-convert", args,
		[]string{src}, []string{out}, pickParams(attrs, KindScaleSVG), timeout)
}

// NewSVG2PNG rasterizes an SVG, honoring the scale attribute.
func NewSVG2PNG(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{"-f", "png", "-o", out}
	if scale, ok := attrs.GetFloat("scale", ""); ok && scale > 0 {
		args = append(args, "-z", formatFloat(scale))
	}
	args = append(args, src)
	return NewExecBuilder(KindSVG2PNG, runner, "rsvg-convert", args,
		[]string{src}, []string{out}, pickParams(attrs, KindSVG2PNG), timeout)
}

// NewTiff2PNG converts TIFF rasters to PNG via ImageMagick.
func NewTiff2PNG(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{src, out}
	return NewExecBuilder(KindTiff2PNG, runner, "convert", args,
		[]string{src}, []string{out}, pickParams(attrs, KindTiff2PNG), timeout)
}

// NewPDFLaTeX compiles a TeX source to PDF. Auxiliary files land next to the
// declared output, which must be <dir>/<texstem>.pdf.
func NewPDFLaTeX(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-output-directory", filepath.Dir(out),
		src,
	}
	return NewExecBuilder(KindPDFLaTeX, runner, "pdflatex", args,
		[]string{src}, []string{out}, pickParams(attrs, KindPDFLaTeX), timeout)
}

// NewLatexmk compiles a TeX source to PDF via latexmk. Registered as an
// alternative engine; selected by configuration, never by the default
// catalog.
func NewLatexmk(runner Runner, src, out string, attrs attributes.Set, timeout time.Duration) *ExecBuilder {
	args := []string{
		"-pdf",
		"-dvi-",
		"-ps-",
		"-interaction=nonstopmode",
		"-output-directory=" + filepath.Dir(out),
		src,
	}
	return NewExecBuilder(KindLatexmk, runner, "latexmk", args,
		[]string{src}, []string{out}, pickParams(attrs, KindLatexmk), timeout)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
