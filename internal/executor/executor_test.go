package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/decider"
	"git.home.luguber.info/inful/docpress/internal/hasher"
	"git.home.luguber.info/inful/docpress/internal/testutil"
)

func newHarness(t *testing.T) (*Executor, *testutil.FakeRunner) {
	t.Helper()
	store, err := decider.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := testutil.NewFakeRunner()
	exec := New(decider.New(store).WithLogger(quiet), runner, WithLogger(quiet))
	return exec, runner
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// execNode builds an exec-backed node whose argv is just [input, output], so
// the fake runner produces the output file.
func execNode(runner builders.Runner, kind, tool, input, output string) builders.Atomic {
	return builders.NewExecBuilder(kind, runner, tool,
		[]string{input, output}, []string{input}, []string{output}, attributes.Set{}, 5*time.Second)
}

func TestRunSingleNodeBuildsThenUpToDate(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.asy")
	out := filepath.Join(dir, "out.pdf")
	writeFile(t, src, "draw it")

	node := execNode(runner, "asy2pdf", "asy", src, out)
	res := exec.Run(context.Background(), hasher.NewSession(), node)
	if res.HasFailures() {
		t.Fatalf("unexpected failures: %v", res.Errors)
	}
	if res.Built != 1 || res.UpToDate != 0 {
		t.Fatalf("expected 1 built, got %+v", res)
	}
	if runner.Count("asy") != 1 {
		t.Fatalf("expected 1 invocation, got %d", runner.Count("asy"))
	}

	// Same identity, fresh pass: nothing to do.
	again := execNode(runner, "asy2pdf", "asy", src, out)
	res = exec.Run(context.Background(), hasher.NewSession(), again)
	if res.Built != 0 || res.UpToDate != 1 {
		t.Fatalf("expected up to date, got %+v", res)
	}
	if runner.Count("asy") != 1 {
		t.Fatalf("up-to-date pass must not invoke tools, got %d calls", runner.Count("asy"))
	}
}

func TestSequentialShortCircuit(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.asy")
	mid := filepath.Join(dir, "mid.pdf")
	svg := filepath.Join(dir, "out.svg")
	png := filepath.Join(dir, "out.png")
	writeFile(t, src, "draw it")

	runner.Failing["asy"] = "syntax error at line 3"

	first := execNode(runner, "asy2pdf", "asy", src, mid)
	second := execNode(runner, "pdf2svg", "pdf2svg", mid, svg)
	third := execNode(runner, "svg2png", "rsvg-convert", svg, png)
	chain := builders.NewSequential("asy2png", first, second, third)

	res := exec.Run(context.Background(), hasher.NewSession(), chain)
	if !res.HasFailures() {
		t.Fatal("expected a failure")
	}
	if res.Failed != 1 || res.Skipped != 2 {
		t.Fatalf("expected 1 failed and 2 skipped, got %+v", res)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], builders.ErrConversionFailed) {
		t.Fatalf("expected single conversion failure, got %v", res.Errors)
	}
	if runner.Count("pdf2svg") != 0 || runner.Count("rsvg-convert") != 0 {
		t.Fatal("downstream stages must never run after an upstream failure")
	}
	if third.Status() == builders.StatusBuilding || third.Status() == builders.StatusDone {
		t.Fatalf("third stage must be short-circuited, got %v", third.Status())
	}
	if !errors.Is(res.Nodes[2].Err, ErrSkipped) {
		t.Fatalf("expected skip marker on third stage, got %v", res.Nodes[2].Err)
	}
}

func TestParallelSiblingsKeepRunningAfterFailure(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	badSrc := filepath.Join(dir, "bad.tif")
	goodSrc := filepath.Join(dir, "good.asy")
	badOut := filepath.Join(dir, "bad.png")
	goodOut := filepath.Join(dir, "good.pdf")
	writeFile(t, badSrc, "tif bytes")
	writeFile(t, goodSrc, "draw it")

	runner.Failing["convert"] = "no decoder"
	runner.Delay["asy"] = 60 * time.Millisecond

	bad := execNode(runner, "tiff2png", "convert", badSrc, badOut)
	good := execNode(runner, "asy2pdf", "asy", goodSrc, goodOut)
	group := builders.NewParallel("media", bad, good)

	res := exec.Run(context.Background(), hasher.NewSession(), group)
	if res.Failed != 1 || res.Built != 1 {
		t.Fatalf("expected 1 failed and 1 built, got %+v", res)
	}
	if good.Status() != builders.StatusDone {
		t.Fatalf("sibling must finish despite failure, got %v", good.Status())
	}
	if runner.Count("asy") != 1 {
		t.Fatalf("expected the slow sibling to run, got %d calls", runner.Count("asy"))
	}
}

func TestFailureOrderFollowsDeclarationOrder(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.tif")
	srcB := filepath.Join(dir, "b.asy")
	srcC := filepath.Join(dir, "c.svg")
	writeFile(t, srcA, "a")
	writeFile(t, srcB, "b")
	writeFile(t, srcC, "c")

	// The first declared failure finishes last; reported order must not care.
	runner.Failing["convert"] = "boom a"
	runner.Failing["rsvg-convert"] = "boom c"
	runner.Delay["convert"] = 80 * time.Millisecond

	a := execNode(runner, "tiff2png", "convert", srcA, filepath.Join(dir, "a.png"))
	b := execNode(runner, "asy2pdf", "asy", srcB, filepath.Join(dir, "b.pdf"))
	c := execNode(runner, "svg2png", "rsvg-convert", srcC, filepath.Join(dir, "c.png"))
	group := builders.NewParallel("media", a, b, c)

	res := exec.Run(context.Background(), hasher.NewSession(), group)
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", res.Errors)
	}
	var first *builders.BuildError
	if !errors.As(res.Errors[0], &first) || first.Kind != "tiff2png" {
		t.Fatalf("expected first declared failure first, got %v", res.Errors[0])
	}
	var second *builders.BuildError
	if !errors.As(res.Errors[1], &second) || second.Kind != "svg2png" {
		t.Fatalf("expected second declared failure second, got %v", res.Errors[1])
	}
}

func TestIdenticalNodesBuildOnce(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "shared.asy")
	out := filepath.Join(dir, "shared.pdf")
	writeFile(t, src, "draw it")

	runner.Delay["asy"] = 40 * time.Millisecond

	left := execNode(runner, "asy2pdf", "asy", src, out)
	right := execNode(runner, "asy2pdf", "asy", src, out)
	group := builders.NewParallel("media", left, right)

	res := exec.Run(context.Background(), hasher.NewSession(), group)
	if res.HasFailures() {
		t.Fatalf("unexpected failures: %v", res.Errors)
	}
	if runner.Count("asy") != 1 {
		t.Fatalf("identical nodes must share one invocation, got %d", runner.Count("asy"))
	}
	if left.Status() != builders.StatusDone || right.Status() != builders.StatusDone {
		t.Fatalf("both nodes must be done, got %v and %v", left.Status(), right.Status())
	}
}

func TestConcurrentRunsShareOneBuild(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "shared.asy")
	out := filepath.Join(dir, "shared.pdf")
	writeFile(t, src, "draw it")

	runner.Delay["asy"] = 60 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := execNode(runner, "asy2pdf", "asy", src, out)
			results[i] = exec.Run(context.Background(), hasher.NewSession(), node)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.HasFailures() {
			t.Fatalf("run %d failed: %v", i, res.Errors)
		}
	}
	if runner.Count("asy") != 1 {
		t.Fatalf("concurrent identical builds must share one invocation, got %d", runner.Count("asy"))
	}
}

func TestMissingToolFailsWithoutInvocation(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "d.asy")
	good := filepath.Join(dir, "ok.tif")
	writeFile(t, src, "draw it")
	writeFile(t, good, "tif bytes")

	runner.Missing["asy"] = true

	broken := execNode(runner, "asy2pdf", "asy", src, filepath.Join(dir, "d.pdf"))
	dependent := execNode(runner, "pdf2svg", "pdf2svg", filepath.Join(dir, "d.pdf"), filepath.Join(dir, "d.svg"))
	chain := builders.NewSequential("asy2svg", broken, dependent)
	sibling := execNode(runner, "tiff2png", "convert", good, filepath.Join(dir, "ok.png"))
	group := builders.NewParallel("media", chain, sibling)

	res := exec.Run(context.Background(), hasher.NewSession(), group)
	if res.Failed != 1 || res.Skipped != 1 || res.Built != 1 {
		t.Fatalf("expected 1 failed, 1 skipped, 1 built, got %+v", res)
	}
	if !errors.Is(res.Errors[0], builders.ErrToolMissing) {
		t.Fatalf("expected tool-missing failure, got %v", res.Errors[0])
	}
	if runner.Count("asy") != 0 || runner.Count("pdf2svg") != 0 {
		t.Fatal("missing tool must not be invoked, nor its dependents")
	}
	if runner.Count("convert") != 1 {
		t.Fatal("independent sibling must still build")
	}

	// A retry pass fails the same way without invoking anything.
	retry := builders.NewSequential("asy2svg",
		execNode(runner, "asy2pdf", "asy", src, filepath.Join(dir, "d.pdf")),
		execNode(runner, "pdf2svg", "pdf2svg", filepath.Join(dir, "d.pdf"), filepath.Join(dir, "d.svg")))
	res = exec.Run(context.Background(), hasher.NewSession(), retry)
	if !errors.Is(res.Errors[0], builders.ErrToolMissing) {
		t.Fatalf("expected tool-missing failure on retry, got %v", res.Errors[0])
	}
	if runner.Count("asy") != 0 {
		t.Fatal("retry must not invoke the missing tool")
	}
}

func TestMissingInputIsHardFailure(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()

	node := execNode(runner, "asy2pdf", "asy",
		filepath.Join(dir, "never-written.asy"), filepath.Join(dir, "d.pdf"))
	res := exec.Run(context.Background(), hasher.NewSession(), node)
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], hasher.ErrDependencyMissing) {
		t.Fatalf("expected dependency-missing failure, got %v", res.Errors)
	}
	if runner.Count("asy") != 0 {
		t.Fatal("missing input must fail before any invocation")
	}
}

func TestCancellationDropsUnstartedNodes(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.asy")
	writeFile(t, src, "draw it")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := execNode(runner, "asy2pdf", "asy", src, filepath.Join(dir, "out.pdf"))
	res := exec.Run(ctx, hasher.NewSession(), node)
	if runner.Count("") != 0 {
		t.Fatal("canceled run must not start anything")
	}
	if !res.HasFailures() {
		t.Fatal("canceled run must report failure")
	}
	if res.Skipped != 1 {
		t.Fatalf("expected 1 dropped node, got %+v", res)
	}
}

func TestCanceledRunLeavesStartedNodeUncommitted(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.asy")
	out := filepath.Join(dir, "out.pdf")
	writeFile(t, src, "draw it")

	runner.Delay["asy"] = 120 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		node := execNode(runner, "asy2pdf", "asy", src, out)
		done <- exec.Run(ctx, hasher.NewSession(), node)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	res := <-done

	// The started invocation ran to completion and produced its output.
	if runner.Count("asy") != 1 {
		t.Fatalf("started node must finish, got %d calls", runner.Count("asy"))
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output should exist after the in-flight build finished: %v", err)
	}
	if !res.HasFailures() {
		t.Fatal("canceled run must report failure")
	}

	// Nothing was committed, so the next pass redoes the work.
	node := execNode(runner, "asy2pdf", "asy", src, out)
	res = exec.Run(context.Background(), hasher.NewSession(), node)
	if res.HasFailures() {
		t.Fatalf("fresh pass failed: %v", res.Errors)
	}
	if runner.Count("asy") != 2 {
		t.Fatalf("uncommitted work must be rebuilt, got %d calls", runner.Count("asy"))
	}
}

func TestTimeoutFailsNode(t *testing.T) {
	exec, runner := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "slow.asy")
	writeFile(t, src, "draw it")

	runner.Delay["asy"] = 200 * time.Millisecond
	node := builders.NewExecBuilder("asy2pdf", runner, "asy",
		[]string{src, filepath.Join(dir, "slow.pdf")},
		[]string{src}, []string{filepath.Join(dir, "slow.pdf")}, attributes.Set{}, 20*time.Millisecond)

	res := exec.Run(context.Background(), hasher.NewSession(), node)
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], builders.ErrTimeout) {
		t.Fatalf("expected timeout failure, got %v", res.Errors)
	}
}
