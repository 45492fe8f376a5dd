// Package report assembles the data describing one target build: which
// converters ran, how long they took, what failed and why. The report is
// plain data; callers log it, print it, or publish it.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node describes one build graph node's outcome.
type Node struct {
	Kind     string        `json:"kind"`
	Outputs  []string      `json:"outputs,omitempty"`
	Status   string        `json:"status"`
	Ran      bool          `json:"ran"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Report is the record of one (document, target) build pass.
type Report struct {
	BuildID   string    `json:"build_id"`
	Document  string    `json:"document"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// Commit and Dirty record source provenance when the project lives in a
	// git checkout. Best effort; empty otherwise.
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`

	Built    int `json:"built"`
	UpToDate int `json:"up_to_date"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`

	Nodes     []Node   `json:"nodes,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// New starts a report for one build pass.
func New(document, target string) *Report {
	return &Report{
		BuildID:   uuid.NewString(),
		Document:  document,
		Target:    target,
		StartedAt: time.Now(),
	}
}

// Finish stamps the outcome and total duration.
func (r *Report) Finish(status string) *Report {
	r.Status = status
	r.Duration = time.Since(r.StartedAt)
	return r
}

// AddError appends a build failure to the report.
func (r *Report) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Summary renders a one-line outcome plus the converters that ran, slowest
// first, for logs and CLI output.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s: %s (%s)", r.Document, r.Target, r.Status,
		r.Duration.Round(time.Millisecond))
	if r.Commit != "" {
		short := r.Commit
		if len(short) > 8 {
			short = short[:8]
		}
		fmt.Fprintf(&b, " @%s", short)
		if r.Dirty {
			b.WriteString("+dirty")
		}
	}
	fmt.Fprintf(&b, " built=%d up-to-date=%d failed=%d", r.Built, r.UpToDate, r.Failed)

	ran := make([]Node, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		if n.Ran {
			ran = append(ran, n)
		}
	}
	sort.SliceStable(ran, func(i, j int) bool { return ran[i].Duration > ran[j].Duration })
	for _, n := range ran {
		fmt.Fprintf(&b, "\n  %-10s %8s %s", n.Kind,
			n.Duration.Round(time.Millisecond), strings.Join(n.Outputs, " "))
		if n.Error != "" {
			fmt.Fprintf(&b, " error=%s", n.Error)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}
