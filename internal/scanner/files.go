package scanner

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// SubDependencies reads the asset at path and returns the local files it
// references, resolved against the asset's directory. Only files that exist
// come back: TeX inputs may name installed packages and HTML may link
// targets produced later; neither is a dependency of converting the asset.
func SubDependencies(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var refs []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tex":
		refs = ScanTeX(content)
	case ".css":
		refs = ScanCSS(content)
	case ".html", ".xhtml":
		refs, err = ScanHTML(bytes.NewReader(content))
		if err != nil {
			return nil
		}
	default:
		return nil
	}

	dir := filepath.Dir(path)
	seen := make(map[string]bool)
	var deps []string
	for _, ref := range refs {
		resolved := ref
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(dir, filepath.FromSlash(ref))
		}
		if seen[resolved] {
			continue
		}
		if _, err := os.Stat(resolved); err != nil {
			continue
		}
		seen[resolved] = true
		deps = append(deps, resolved)
	}
	sort.Strings(deps)
	return deps
}

// ScanHTML extracts local asset references from an HTML tree: stylesheet
// links, images and scripts. External URLs are skipped.
func ScanHTML(r io.Reader) ([]string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var refs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if ref, ok := htmlRef(n); ok && !isExternalRef(ref) {
				refs = append(refs, stripRefSuffix(ref))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return refs, nil
}

func htmlRef(n *html.Node) (string, bool) {
	var attrName string
	switch n.Data {
	case "link":
		attrName = "href"
	case "img", "script", "source":
		attrName = "src"
	default:
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == attrName && a.Val != "" {
			return a.Val, true
		}
	}
	return "", false
}

var cssURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// ScanCSS extracts url(...) references from stylesheet content.
func ScanCSS(content []byte) []string {
	var refs []string
	for _, m := range cssURLRe.FindAllSubmatch(content, -1) {
		ref := strings.TrimSpace(string(m[1]))
		if ref == "" || isExternalRef(ref) {
			continue
		}
		refs = append(refs, stripRefSuffix(ref))
	}
	return refs
}

var texIncludeRe = regexp.MustCompile(`\\(?:includegraphics(?:\[[^\]]*\])?|input|include)\{([^}]+)\}`)

// ScanTeX extracts \includegraphics and \input references from TeX content.
func ScanTeX(content []byte) []string {
	var refs []string
	for _, m := range texIncludeRe.FindAllSubmatch(content, -1) {
		ref := strings.TrimSpace(string(m[1]))
		if ref == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}
