// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"github.com/go-git/go-git/v5"
	"github.com/pkg/errors"
)

// ResolveSource returns the checked-out revision of the repository containing dir.
func ResolveSource(dir string) (*SourceLocation, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrapf(err, "opening repository at %s", dir)
	}
	return SourceFromRepo(repo)
}

// SourceFromRepo returns the HEAD revision of repo and its origin URL, if any.
func SourceFromRepo(repo *git.Repository) (*SourceLocation, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolving HEAD")
	}
	loc := &SourceLocation{Ref: head.Hash().String()}
	remote, err := repo.Remote("origin")
	switch {
	case err == nil:
		if urls := remote.Config().URLs; len(urls) > 0 {
			loc.Repository = urls[0]
		}
	case errors.Is(err, git.ErrRemoteNotFound):
	default:
		return nil, errors.Wrap(err, "reading origin")
	}
	return loc, nil
}
