package builders

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// Copy is an in-process builder that copies one file to one destination.
// It is the terminal stage of most conversion chains, moving a finished
// intermediate from the cache into the target's output tree.
type Copy struct {
	Base
}

// NewCopy builds a copy node. Kind is "copy".
func NewCopy(src, dst string) *Copy {
	return &Copy{Base: NewBase("copy", []string{src}, []string{dst}, attributes.Set{})}
}

func (c *Copy) Build(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return failf(c, err)
	}
	src := c.Inputs()[0]
	dst := c.Outputs()[0]
	if src == dst {
		return nil
	}
	if err := requireInputs(c); err != nil {
		return err
	}
	if err := ensureOutputDirs(c.Outputs()); err != nil {
		return failf(c, err)
	}
	if err := copyFileAtomic(src, dst); err != nil {
		return failf(c, fmt.Errorf("%w: %w", ErrConversionFailed, err))
	}
	return nil
}

// copyFileAtomic writes to a temp file in the destination directory and
// renames it into place, so readers never observe a partial copy.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// FileWriter is an in-process builder that materializes byte content at a
// path: inline document fragments before their conversion chain, and
// template renders during final assembly.
//
// The content digest is folded into the node's parameters, so the cache
// identity changes whenever the content does. Declared inputs (for renders,
// the template files) participate in the decider's input digest as usual.
type FileWriter struct {
	Base
	content []byte
}

// NewFileWriter builds a writer node of the given kind ("write" for
// fragments, "render" for template output).
func NewFileWriter(kind string, content []byte, inputs []string, dst string, params attributes.Set) *FileWriter {
	params = params.Merge(attributes.FromPairs("content", string(hasher.Bytes(content))))
	return &FileWriter{
		Base:    NewBase(kind, inputs, []string{dst}, params),
		content: content,
	}
}

func (w *FileWriter) Build(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return failf(w, err)
	}
	if err := requireInputs(w); err != nil {
		return err
	}
	if err := ensureOutputDirs(w.Outputs()); err != nil {
		return failf(w, err)
	}
	dst := w.Outputs()[0]
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".write-*")
	if err != nil {
		return failf(w, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(w.content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return failf(w, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return failf(w, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return failf(w, err)
	}
	return nil
}
