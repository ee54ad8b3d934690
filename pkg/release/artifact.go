// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// LibraryName is the crate name of the library being released.
const LibraryName = "sbr_sys"

// Artifact is a compiled binary copied out of a build.
type Artifact struct {
	// Source is where the build left the file, on the host or inside an isolated environment.
	Source        string
	Platform      Platform
	CPUFeatureSet string
	// LogicalName is the file name the build produced (e.g. libsbr_sys.a).
	LogicalName string
	// DestPath is the layout path the artifact was copied to.
	DestPath string
}

// ExpectedArtifacts returns the files a successful build of t produces: a static archive
// followed by a shared library.
func ExpectedArtifacts(t Target) []string {
	switch t.Platform {
	case Linux:
		return []string{"lib" + LibraryName + ".a", "lib" + LibraryName + ".so"}
	case MacOS:
		return []string{"lib" + LibraryName + ".a", "lib" + LibraryName + ".dylib"}
	case Windows:
		if strings.HasSuffix(t.TargetTriple, "-gnu") || strings.HasSuffix(t.TargetTriple, "-gnullvm") {
			return []string{"lib" + LibraryName + ".a", LibraryName + ".dll"}
		}
		return []string{LibraryName + ".lib", LibraryName + ".dll"}
	default:
		return nil
	}
}

// Layout computes destination paths under a build root:
//
//	<root>/<platform>/<cpu_feature_set>/<logical_name>
//
// Every component is a single validated path element so the mapping is injective.
type Layout struct {
	Root string
}

// TargetRel returns the directory holding a target's artifacts, relative to the root.
func (l Layout) TargetRel(p Platform, featureSet string) string {
	return filepath.Join(string(p), featureSet)
}

// Rel returns the destination path of an artifact relative to the root.
func (l Layout) Rel(p Platform, featureSet, logicalName string) string {
	return filepath.Join(l.TargetRel(p, featureSet), logicalName)
}

// TargetDir returns the absolute directory holding a target's artifacts.
func (l Layout) TargetDir(p Platform, featureSet string) string {
	return filepath.Join(l.Root, l.TargetRel(p, featureSet))
}

// DestPath returns the absolute destination path of an artifact.
func (l Layout) DestPath(p Platform, featureSet, logicalName string) string {
	return filepath.Join(l.Root, l.Rel(p, featureSet, logicalName))
}

// TargetBundleRel returns the per-target bundle path relative to the root,
// e.g. linux/libsbr_avx2.zip.
func (l Layout) TargetBundleRel(t Target, bundle string) string {
	return filepath.Join(string(t.Platform), bundle+"_"+t.CPUFeatureSet+".zip")
}

// TreeBundleRel returns the whole-tree bundle path relative to the root.
func (l Layout) TreeBundleRel(bundle string) string {
	return bundle + ".zip"
}

// ValidateName checks that name can be used as an artifact or bundle name.
func ValidateName(field, name string) error {
	if !pathElement.MatchString(name) {
		return &ConfigError{Field: field, Value: name, Reason: "must be a single path element"}
	}
	return nil
}

// EnsureDir creates dir and its parents. An existing directory is success; any other
// failure, including an existing non-directory, is returned.
func EnsureDir(fs billy.Filesystem, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating directory %s", dir)
	}
	info, err := fs.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "checking directory %s", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("%s exists and is not a directory", dir)
	}
	return nil
}

// Bundle is a compressed package of one or more artifacts.
type Bundle struct {
	Name string
	// Path is the bundle's location relative to the build root.
	Path string
	// Contents are the entry names inside the bundle, in archive order.
	Contents []string
}
