// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"fmt"
)

// ConfigError reports invalid or unsupported target parameters.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EnvironmentBuildError reports a failure to build the isolated build image.
type EnvironmentBuildError struct {
	Image string
	Err   error
}

func (e *EnvironmentBuildError) Error() string {
	return fmt.Sprintf("building environment image %s: %v", e.Image, e.Err)
}

func (e *EnvironmentBuildError) Unwrap() error { return e.Err }

// BuildFailure reports a non-zero exit from the build tool.
type BuildFailure struct {
	Target   Target
	ExitCode int
	// InstanceID names the isolated environment the build ran in, if any.
	// The instance is left in place and must be reclaimed out-of-band.
	InstanceID string
	Err        error
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("build of %s failed with exit code %d", e.Target, e.ExitCode)
	if e.InstanceID != "" {
		msg += fmt.Sprintf(" (instance %s)", e.InstanceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// ArtifactMissingError reports an expected artifact absent after a successful build.
type ArtifactMissingError struct {
	Target   Target
	Name     string
	Location string
	Err      error
}

func (e *ArtifactMissingError) Error() string {
	msg := fmt.Sprintf("artifact %s for %s missing at %s", e.Name, e.Target, e.Location)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtifactMissingError) Unwrap() error { return e.Err }

// ArchiveError reports a compression or IO failure while archiving.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archiving %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
