package document

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrUnterminatedFrontmatter is returned when a document opens a frontmatter
// block without closing it.
var ErrUnterminatedFrontmatter = errors.New("unterminated frontmatter block")

var fmDelim = []byte("---")

// splitFrontmatter separates a `---` delimited YAML header from the body.
// Documents without a header are returned whole with zero Meta.
func splitFrontmatter(content []byte) (Meta, []byte, error) {
	var meta Meta

	rest, ok := cutLine(content, fmDelim)
	if !ok {
		return meta, content, nil
	}

	raw, body, found := cutDelimLine(rest)
	if !found {
		return meta, nil, ErrUnterminatedFrontmatter
	}

	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return meta, nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, body, nil
}

// cutLine strips a leading line equal to delim (tolerating \r\n), returning
// the remainder and whether the line matched.
func cutLine(content, delim []byte) ([]byte, bool) {
	if !bytes.HasPrefix(content, delim) {
		return content, false
	}
	rest := content[len(delim):]
	switch {
	case bytes.HasPrefix(rest, []byte("\r\n")):
		return rest[2:], true
	case bytes.HasPrefix(rest, []byte("\n")):
		return rest[1:], true
	}
	return content, false
}

// cutDelimLine scans for the closing `---` line and splits around it.
func cutDelimLine(content []byte) (before, after []byte, found bool) {
	offset := 0
	for offset <= len(content) {
		line := content[offset:]
		if end := bytes.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
		}
		trimmed := bytes.TrimSuffix(line, []byte("\r"))
		if bytes.Equal(trimmed, fmDelim) {
			before = content[:offset]
			afterStart := offset + len(line) + 1
			if afterStart > len(content) {
				afterStart = len(content)
			}
			return before, content[afterStart:], true
		}
		nl := bytes.IndexByte(content[offset:], '\n')
		if nl < 0 {
			break
		}
		offset += nl + 1
	}
	return nil, nil, false
}
