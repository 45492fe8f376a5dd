package report

import (
	"errors"

	"github.com/go-git/go-git/v5"
)

// Provenance resolves the HEAD commit and worktree cleanliness of the
// repository containing dir. It is best effort: projects outside a git
// checkout yield an empty commit and no error.
func Provenance(dir string) (commit string, dirty bool, err error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", false, nil
		}
		return "", false, err
	}
	head, err := repo.Head()
	if err != nil {
		return "", false, err
	}
	commit = head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return commit, false, nil
	}
	status, err := wt.Status()
	if err != nil {
		return commit, false, nil
	}
	return commit, !status.IsClean(), nil
}

// Stamp attaches provenance to a report, ignoring lookup failures.
func (r *Report) Stamp(dir string) {
	commit, dirty, err := Provenance(dir)
	if err == nil {
		r.Commit = commit
		r.Dirty = dirty
	}
}
