// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package release defines the targets, artifacts, and output layout of a release build.
package release

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Platform is a host operating system a release is built for.
type Platform string

const (
	Linux   Platform = "linux"
	MacOS   Platform = "macos"
	Windows Platform = "windows"
)

// Platforms lists every supported platform.
var Platforms = []Platform{Linux, MacOS, Windows}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case Linux, MacOS, Windows:
		return true
	default:
		return false
	}
}

// ParsePlatform parses a platform name. "darwin" is accepted as an alias of macos.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p == "darwin" {
		p = MacOS
	}
	if !p.Valid() {
		return "", &ConfigError{Field: "platform", Value: s, Reason: "unsupported platform"}
	}
	return p, nil
}

// HostPlatform returns the platform of the running process.
func HostPlatform() (Platform, error) {
	return ParsePlatform(runtime.GOOS)
}

// DefaultBackend returns the backend feature used for p when none is given.
//
// OpenBLAS has performance problems on macOS so the Accelerate framework is used there.
func DefaultBackend(p Platform) string {
	if p == MacOS {
		return "accelerate"
	}
	return "openblas"
}

// pathElement matches names which are safe to use as a single path element.
var pathElement = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// Target identifies one build invocation.
type Target struct {
	Platform       Platform
	CPUFeatureSet  string
	BackendFeature string
	// TargetTriple is the optional compiler target (e.g. x86_64-pc-windows-msvc).
	TargetTriple string
}

func (t Target) String() string {
	if t.TargetTriple != "" {
		return fmt.Sprintf("%s/%s (%s)", t.Platform, t.CPUFeatureSet, t.TargetTriple)
	}
	return fmt.Sprintf("%s/%s", t.Platform, t.CPUFeatureSet)
}

// Validate checks that t can be configured and laid out on disk.
func (t Target) Validate() error {
	if !t.Platform.Valid() {
		return &ConfigError{Field: "platform", Value: string(t.Platform), Reason: "unsupported platform"}
	}
	if t.CPUFeatureSet == "" {
		return &ConfigError{Field: "cpu_feature_set", Reason: "must not be empty"}
	}
	if !pathElement.MatchString(t.CPUFeatureSet) {
		return &ConfigError{Field: "cpu_feature_set", Value: t.CPUFeatureSet, Reason: "must be a single path element"}
	}
	if t.BackendFeature == "" {
		return &ConfigError{Field: "backend_feature", Reason: "must not be empty"}
	}
	if strings.ContainsAny(t.BackendFeature, " \t\n") {
		return &ConfigError{Field: "backend_feature", Value: t.BackendFeature, Reason: "must not contain whitespace"}
	}
	if t.TargetTriple != "" && !pathElement.MatchString(t.TargetTriple) {
		return &ConfigError{Field: "target_triple", Value: t.TargetTriple, Reason: "must be a single path element"}
	}
	return nil
}

// Arch returns the architecture component of the target triple, or "x86_64" when no
// triple is set.
func (t Target) Arch() string {
	if t.TargetTriple == "" {
		return "x86_64"
	}
	arch, _, _ := strings.Cut(t.TargetTriple, "-")
	return arch
}
