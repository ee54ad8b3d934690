// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"log"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/google/releasebuild/internal/billyx"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
)

// Archiver writes bundles for collected artifacts.
// FS must be rooted at the build root; bundle paths are relative to it.
type Archiver struct {
	FS     billy.Filesystem
	Layout release.Layout
	Mode   Mode
	// Bundle is the base name of per-target and tree bundles.
	Bundle string
	// RemoveIntermediates deletes each artifact once it is zipped.
	// Only valid in PerArtifact mode.
	RemoveIntermediates bool
}

// Validate checks the archiver settings.
func (a *Archiver) Validate() error {
	if _, err := ParseMode(string(a.Mode)); err != nil {
		return err
	}
	if err := release.ValidateName("bundle", a.Bundle); err != nil {
		return err
	}
	if a.RemoveIntermediates && a.Mode != PerArtifact {
		return &release.ConfigError{Field: "remove_intermediates", Reason: "only supported with per-artifact archives"}
	}
	return nil
}

// ArchiveTarget bundles the artifacts of one target according to the mode.
// Tree mode defers all work to Finish and returns no bundles.
func (a *Archiver) ArchiveTarget(t release.Target, artifacts []release.Artifact) ([]release.Bundle, error) {
	switch a.Mode {
	case PerArtifact:
		var bundles []release.Bundle
		for _, art := range artifacts {
			rel := a.Layout.Rel(art.Platform, art.CPUFeatureSet, art.LogicalName)
			b := release.Bundle{Name: art.LogicalName, Path: rel + ".zip", Contents: []string{art.LogicalName}}
			if err := a.write(b.Path, []Entry{{Name: art.LogicalName, Source: rel}}); err != nil {
				return nil, err
			}
			if a.RemoveIntermediates {
				if err := a.FS.Remove(rel); err != nil {
					return nil, &release.ArchiveError{Path: rel, Err: errors.Wrap(err, "removing intermediate")}
				}
			}
			bundles = append(bundles, b)
		}
		return bundles, nil
	case PerTarget:
		b := release.Bundle{Name: a.Bundle + "_" + t.CPUFeatureSet, Path: a.Layout.TargetBundleRel(t, a.Bundle)}
		var entries []Entry
		for _, art := range artifacts {
			entries = append(entries, Entry{Name: art.LogicalName, Source: a.Layout.Rel(art.Platform, art.CPUFeatureSet, art.LogicalName)})
		}
		if err := a.write(b.Path, entries); err != nil {
			return nil, err
		}
		b.Contents = entryNames(entries)
		return []release.Bundle{b}, nil
	case Tree:
		return nil, nil
	default:
		return nil, &release.ConfigError{Field: "archive_mode", Value: string(a.Mode), Reason: "unsupported"}
	}
}

// Finish writes the bundles produced once per run. Only Tree mode has any.
func (a *Archiver) Finish() ([]release.Bundle, error) {
	if a.Mode != Tree {
		return nil, nil
	}
	b := release.Bundle{Name: a.Bundle, Path: a.Layout.TreeBundleRel(a.Bundle)}
	files, err := billyx.Files(a.FS)
	if err != nil {
		return nil, &release.ArchiveError{Path: b.Path, Err: errors.Wrap(err, "listing build root")}
	}
	self := filepath.ToSlash(b.Path)
	var entries []Entry
	for _, f := range files {
		if f == self || strings.Contains(path.Base(f), ".intoto.") {
			continue
		}
		entries = append(entries, Entry{Name: f, Source: filepath.FromSlash(f)})
	}
	if err := a.write(b.Path, entries); err != nil {
		return nil, err
	}
	b.Contents = entryNames(entries)
	return []release.Bundle{b}, nil
}

func (a *Archiver) write(path string, entries []Entry) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := release.EnsureDir(a.FS, dir); err != nil {
			return &release.ArchiveError{Path: path, Err: err}
		}
	}
	if err := WriteZip(a.FS, path, entries); err != nil {
		return &release.ArchiveError{Path: path, Err: err}
	}
	log.Printf("Wrote %s", path)
	return nil
}

func entryNames(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	slices.Sort(names)
	return names
}
