// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package archive packages release artifacts into deterministic zip bundles.
package archive

import (
	"strings"

	"github.com/google/releasebuild/pkg/release"
)

// Mode selects how artifacts are grouped into bundles.
type Mode string

const (
	// PerArtifact writes one <artifact>.zip next to each artifact.
	PerArtifact Mode = "per-artifact"
	// PerTarget writes one <platform>/<bundle>_<feature>.zip per target.
	PerTarget Mode = "per-target"
	// Tree writes a single <bundle>.zip of the whole build root at the end of the run.
	Tree Mode = "tree"
)

// Modes lists the supported modes.
var Modes = []Mode{PerArtifact, PerTarget, Tree}

// ParseMode parses an archive mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(s))
	switch m {
	case PerArtifact, PerTarget, Tree:
		return m, nil
	}
	return "", &release.ConfigError{Field: "archive_mode", Value: s, Reason: "must be one of per-artifact, per-target, tree"}
}

// ContentSummary lists the entries of an archive with their content hashes.
type ContentSummary struct {
	Files      []string
	FileHashes []string
}

// Diff returns the files only in cs, the files in both with different hashes,
// and the files only in other. Both summaries must be sorted by name.
func (cs *ContentSummary) Diff(other *ContentSummary) (leftOnly, diffs, rightOnly []string) {
	var i, j int
	for i < len(cs.Files) || j < len(other.Files) {
		switch {
		case i >= len(cs.Files):
			rightOnly = append(rightOnly, other.Files[j])
			j++
		case j >= len(other.Files):
			leftOnly = append(leftOnly, cs.Files[i])
			i++
		case cs.Files[i] == other.Files[j]:
			if cs.FileHashes[i] != other.FileHashes[j] {
				diffs = append(diffs, other.Files[j])
			}
			i++
			j++
		case cs.Files[i] < other.Files[j]:
			leftOnly = append(leftOnly, cs.Files[i])
			i++
		default:
			rightOnly = append(rightOnly, other.Files[j])
			j++
		}
	}
	return
}
