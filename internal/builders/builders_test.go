package builders

import (
	"context"
	"errors"
	"testing"

	"git.home.luguber.info/inful/docpress/internal/attributes"
)

func TestStatusTransitions(t *testing.T) {
	b := NewBase("copy", []string{"/in"}, []string{"/out"}, attributes.Set{})

	if got := b.Status(); got != StatusInactive {
		t.Fatalf("initial status = %v, want inactive", got)
	}
	b.MarkPending()
	if got := b.Status(); got != StatusPending {
		t.Fatalf("status = %v, want pending", got)
	}
	b.MarkBuilding()
	if got := b.Status(); got != StatusBuilding {
		t.Fatalf("status = %v, want building", got)
	}
	b.Done()
	if got := b.Status(); got != StatusDone {
		t.Fatalf("status = %v, want done", got)
	}

	// Terminal states are sticky.
	b.MarkPending()
	b.Fail(errors.New("late failure"))
	if got := b.Status(); got != StatusDone {
		t.Errorf("terminal state overwritten: %v", got)
	}
}

func TestFailRecordsFirstError(t *testing.T) {
	b := NewBase("copy", nil, nil, attributes.Set{})
	first := errors.New("first")
	b.Fail(first)
	b.Fail(errors.New("second"))

	if b.Status() != StatusFailed {
		t.Fatalf("status = %v, want failed", b.Status())
	}
	if !errors.Is(b.Err(), first) {
		t.Errorf("Err() = %v, want first error", b.Err())
	}
}

func TestIdentity(t *testing.T) {
	mk := func(kind, in, out, params string) string {
		b := NewBase(kind, []string{in}, []string{out}, attributes.Parse(params))
		return Identity(&b)
	}

	base := mk("asy2pdf", "/src/d.asy", "/cache/d.pdf", "scale=2")

	if got := mk("asy2pdf", "/src/d.asy", "/cache/d.pdf", "scale=2"); got != base {
		t.Error("identity not deterministic")
	}
	// Path cleaning canonicalizes equivalent spellings.
	if got := mk("asy2pdf", "/src/./d.asy", "/cache/../cache/d.pdf", "scale=2"); got != base {
		t.Error("equivalent paths should share an identity")
	}
	if got := mk("pdf2svg", "/src/d.asy", "/cache/d.pdf", "scale=2"); got == base {
		t.Error("kind must affect identity")
	}
	if got := mk("asy2pdf", "/src/other.asy", "/cache/d.pdf", "scale=2"); got == base {
		t.Error("inputs must affect identity")
	}
	if got := mk("asy2pdf", "/src/d.asy", "/cache/d.pdf", "scale=3"); got == base {
		t.Error("params must affect identity")
	}
	// Attribute order does not.
	b1 := NewBase("k", nil, nil, attributes.Parse("a=1 b=2"))
	b2 := NewBase("k", nil, nil, attributes.Parse("b=2 a=1"))
	if Identity(&b1) != Identity(&b2) {
		t.Error("param order must not affect identity")
	}
}

type stubAtomic struct {
	Base
}

func newStub(kind string) *stubAtomic {
	return &stubAtomic{Base: NewBase(kind, nil, nil, attributes.Set{})}
}

func (s *stubAtomic) Build(ctx context.Context) error { return nil }

func TestDeriveStatus(t *testing.T) {
	a, b, c := newStub("a"), newStub("b"), newStub("c")
	seq := NewSequential("chain", a, b, c)

	if got := seq.Status(); got != StatusInactive {
		t.Fatalf("empty chain status = %v, want inactive", got)
	}
	a.MarkBuilding()
	if got := seq.Status(); got != StatusBuilding {
		t.Fatalf("status = %v, want building", got)
	}
	a.Done()
	b.MarkPending()
	if got := seq.Status(); got != StatusPending {
		t.Fatalf("status = %v, want pending", got)
	}
	b.Done()
	c.Done()
	if got := seq.Status(); got != StatusDone {
		t.Fatalf("status = %v, want done", got)
	}
}

func TestFailureDominatesDerivedStatus(t *testing.T) {
	a, b := newStub("a"), newStub("b")
	par := NewParallel("group", a, b)

	a.Done()
	b.Fail(errors.New("boom"))
	if got := par.Status(); got != StatusFailed {
		t.Fatalf("status = %v, want failed", got)
	}

	errs := par.Errors()
	if len(errs) != 1 || errs[0].Error() != "boom" {
		t.Errorf("Errors() = %v", errs)
	}
}

func TestCollectErrorsDeclarationOrder(t *testing.T) {
	a, b, c := newStub("a"), newStub("b"), newStub("c")
	// b declared before c; c fails first in wall-clock terms, but order of
	// collection follows declaration.
	c.Fail(errors.New("c failed"))
	b.Fail(errors.New("b failed"))
	inner := NewSequential("inner", b)
	root := NewParallel("root", a, inner, c)

	errs := CollectErrors(root)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2", len(errs))
	}
	if errs[0].Error() != "b failed" || errs[1].Error() != "c failed" {
		t.Errorf("error order = %v", errs)
	}
}

func TestSequentialEndpoints(t *testing.T) {
	first := NewBase("a", []string{"/in.asy"}, []string{"/mid.pdf"}, attributes.Set{})
	second := NewBase("b", []string{"/mid.pdf"}, []string{"/out.svg"}, attributes.Set{})
	seq := NewSequential("asy2svg", &first, &second)

	if got := seq.Inputs()[0]; got != "/in.asy" {
		t.Errorf("Inputs() = %v", seq.Inputs())
	}
	if got := seq.Outputs()[0]; got != "/out.svg" {
		t.Errorf("Outputs() = %v", seq.Outputs())
	}
	if !seq.Ordered() {
		t.Error("sequential must report Ordered")
	}
}

func TestLeavesFlattening(t *testing.T) {
	a, b, c := newStub("a"), newStub("b"), newStub("c")
	root := NewParallel("root", NewSequential("chain", a, b), c)

	leaves := Leaves(root)
	if len(leaves) != 3 {
		t.Fatalf("got %d leaves, want 3", len(leaves))
	}
	if leaves[0].Kind() != "a" || leaves[1].Kind() != "b" || leaves[2].Kind() != "c" {
		t.Errorf("leaf order: %s %s %s", leaves[0].Kind(), leaves[1].Kind(), leaves[2].Kind())
	}
}
