package report

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishStampsOutcome(t *testing.T) {
	r := New("/src/guide.md", "html")
	require.NotEmpty(t, r.BuildID)
	assert.Equal(t, "html", r.Target)

	r.Finish("built")
	assert.Equal(t, "built", r.Status)
	assert.GreaterOrEqual(t, r.Duration, time.Duration(0))
}

func TestAddErrorSkipsNil(t *testing.T) {
	r := New("/src/guide.md", "html")
	r.AddError(nil)
	r.AddError(errors.New("boom"))
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestSummaryOrdersRanNodesSlowestFirst(t *testing.T) {
	r := New("/src/guide.md", "html")
	r.Built = 2
	r.Nodes = []Node{
		{Kind: "asy2pdf", Status: "done", Ran: true, Duration: 50 * time.Millisecond, Outputs: []string{"a.pdf"}},
		{Kind: "copy", Status: "done", Ran: false},
		{Kind: "pdf2svg", Status: "done", Ran: true, Duration: 200 * time.Millisecond, Outputs: []string{"a.svg"}},
	}
	r.Finish("built")

	lines := strings.Split(r.Summary(), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "built=2")
	assert.Contains(t, lines[1], "pdf2svg")
	assert.Contains(t, lines[2], "asy2pdf")
	// Nodes that did not run stay out of the summary.
	assert.NotContains(t, r.Summary(), "copy")
}

func TestSummaryShortensCommit(t *testing.T) {
	r := New("/src/guide.md", "html")
	r.Commit = "0123456789abcdef0123456789abcdef01234567"
	r.Dirty = true
	r.Finish("built")

	s := r.Summary()
	assert.Contains(t, s, "@01234567+dirty")
	assert.NotContains(t, s, "89abcdef")
}

func TestJSONRoundTripCarriesEverything(t *testing.T) {
	r := New("/src/guide.md", "epub")
	r.Artifacts = []string{"/out/epub/guide.epub"}
	r.AddError(errors.New("one failure"))
	r.Finish("failed")

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.BuildID, back.BuildID)
	assert.Equal(t, "failed", back.Status)
	assert.Equal(t, r.Artifacts, back.Artifacts)
	assert.Equal(t, []string{"one failure"}, back.Errors)
}

func TestProvenanceOutsideRepository(t *testing.T) {
	commit, dirty, err := Provenance(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, commit)
	assert.False(t, dirty)
}

func TestStampIgnoresMissingRepository(t *testing.T) {
	r := New("/src/guide.md", "html")
	r.Stamp(t.TempDir())
	assert.Empty(t, r.Commit)
}
