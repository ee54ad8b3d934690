// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"path"

	"github.com/google/releasebuild/pkg/release"
)

// CargoInvocation returns the argv used to build t, excluding the cargo binary itself.
// Each element is passed as one argument, so values containing spaces stay intact.
func CargoInvocation(t release.Target) []string {
	args := []string{"build", "--verbose", "--release", "--features=" + t.BackendFeature}
	if t.TargetTriple != "" {
		args = append(args, "--target", t.TargetTriple)
	}
	return args
}

// ReleaseSubdir returns the path of cargo's release output relative to the
// crate directory, using forward slashes.
func ReleaseSubdir(t release.Target) string {
	if t.TargetTriple != "" {
		return path.Join("target", t.TargetTriple, "release")
	}
	return path.Join("target", "release")
}
