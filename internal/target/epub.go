package target

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// zipEpoch is the fixed modification time stamped on archive entries.
// Wall-clock stamps would break byte-identical rebuilds.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// epubArchive is the in-process terminal builder of the epub target: it zips
// the staged layout into the final .epub. The mimetype entry comes first and
// uncompressed, as the container format requires; everything else follows in
// sorted path order so the archive is deterministic.
type epubArchive struct {
	builders.Base
	stageRoot string
}

func newEPUBArchive(stageRoot string, inputs []string, out string) *epubArchive {
	return &epubArchive{
		Base:      builders.NewBase(builders.KindEPUB, inputs, []string{out}, attributes.Set{}),
		stageRoot: stageRoot,
	}
}

func (a *epubArchive) Build(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return a.wrap(err)
	}
	for _, in := range a.Inputs() {
		if _, err := os.Stat(in); err != nil {
			return a.wrap(fmt.Errorf("%s: %w", in, hasher.ErrDependencyMissing))
		}
	}

	out := a.Outputs()[0]
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return a.wrap(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".epub-*")
	if err != nil {
		return a.wrap(err)
	}
	tmpName := tmp.Name()
	if err := a.write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return a.wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return a.wrap(err)
	}
	if err := os.Rename(tmpName, out); err != nil {
		os.Remove(tmpName)
		return a.wrap(err)
	}
	return nil
}

func (a *epubArchive) write(w io.Writer) error {
	zw := zip.NewWriter(w)

	mimetype := filepath.Join(a.stageRoot, "mimetype")
	rest := make([]string, 0, len(a.Inputs()))
	for _, in := range a.Inputs() {
		if in != mimetype {
			rest = append(rest, in)
		}
	}
	sort.Strings(rest)

	if err := a.addEntry(zw, mimetype, zip.Store); err != nil {
		return err
	}
	for _, in := range rest {
		if err := a.addEntry(zw, in, zip.Deflate); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (a *epubArchive) addEntry(zw *zip.Writer, path string, method uint16) error {
	rel, err := filepath.Rel(a.stageRoot, path)
	if err != nil {
		return err
	}
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.ToSlash(rel),
		Method:   method,
		Modified: zipEpoch,
	})
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(entry, f)
	return err
}

func (a *epubArchive) wrap(err error) error {
	return &builders.BuildError{
		Kind:    a.Kind(),
		Inputs:  a.Inputs(),
		Outputs: a.Outputs(),
		Err:     err,
	}
}

// epubMediaType maps a media file extension to its OPF media type.
func epubMediaType(ext string) string {
	switch ext {
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".css":
		return "text/css"
	default:
		return "application/octet-stream"
	}
}
