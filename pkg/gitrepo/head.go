package gitrepo

import (
	ggit "github.com/go-git/go-git/v5"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// Head returns the commit hash repo.Path's HEAD currently resolves to,
// used to fill a Pkgbuild's CommitOrTree after Sync.
func (r *Repo) Head() (string, error) {
	repo, err := ggit.PlainOpen(r.Path)
	if err != nil {
		return "", errs.Wrap(err, errs.IO, "opening synced repo").WithOperation(r.Path)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", errs.Wrap(err, errs.IO, "resolving HEAD").WithOperation(r.Path)
	}

	return ref.Hash().String(), nil
}
