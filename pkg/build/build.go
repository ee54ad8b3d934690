// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"

	"github.com/google/releasebuild/pkg/buildconfig"
	"github.com/google/releasebuild/pkg/release"
)

// Mode describes where a build runs.
type Mode int

const (
	// Native builds run directly on the host toolchain.
	Native Mode = iota
	// Isolated builds run inside a disposable container.
	Isolated
)

func (m Mode) String() string {
	switch m {
	case Native:
		return "native"
	case Isolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Environment identifies one isolated build instance.
// An Environment belongs to exactly one target and is never reused.
type Environment struct {
	// ImageTag is the image the instance was launched from.
	ImageTag string
	// InstanceID is the unique name of the instance.
	InstanceID string
}

// ImageSpec describes how to build the image used for isolated builds.
type ImageSpec struct {
	Tag        string
	ContextDir string
	Dockerfile string
}

// Result is the outcome of a successful build.
type Result struct {
	Target release.Target
	Mode   Mode
	// ReleaseDir is where the build left its outputs. For isolated builds
	// this is a path inside the instance.
	ReleaseDir string
	// Env is set for isolated builds only.
	Env *Environment
}

// InstanceID returns the isolated instance name, or "" for native builds.
func (r *Result) InstanceID() string {
	if r == nil || r.Env == nil {
		return ""
	}
	return r.Env.InstanceID
}

// ImageBuilder prepares the image used for isolated builds.
type ImageBuilder interface {
	// EnsureImage builds spec's image. Repeated calls are safe.
	EnsureImage(ctx context.Context, spec ImageSpec) error
}

// Runner compiles one target.
type Runner interface {
	Run(ctx context.Context, t release.Target, cfg *buildconfig.Config) (*Result, error)
}

// Collector copies a build's artifacts into the output layout.
type Collector interface {
	Collect(ctx context.Context, res *Result) ([]release.Artifact, error)
}
