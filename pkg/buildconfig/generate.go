// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package buildconfig

import (
	"strconv"

	"github.com/google/releasebuild/pkg/release"
)

// DefaultThreads is the thread limit compiled into the numerical backend.
const DefaultThreads = 128

// Options tunes generation.
type Options struct {
	// Threads is the backend thread limit. Zero selects DefaultThreads.
	Threads int
}

// Generate produces the configuration for t. It performs no I/O.
func Generate(t release.Target, opts Options) (*Config, error) {
	if !t.Platform.Valid() {
		return nil, &release.ConfigError{Field: "platform", Value: string(t.Platform), Reason: "unsupported platform"}
	}
	if t.CPUFeatureSet == "" {
		return nil, &release.ConfigError{Field: "cpu_feature_set", Reason: "must not be empty"}
	}
	threads := opts.Threads
	if threads == 0 {
		threads = DefaultThreads
	}
	if threads < 0 {
		return nil, &release.ConfigError{Field: "threads", Value: strconv.Itoa(threads), Reason: "must be positive"}
	}
	cflag := FeatureFlag(t)
	n := strconv.Itoa(threads)
	return newConfig(
		Entry{KeyRustFlags, "-C target-feature=+" + t.CPUFeatureSet},
		// Make the backend's C sources target the same architecture.
		Entry{KeyCFlags, cflag},
		Entry{KeyCXXFlags, cflag},
		Entry{KeyOpenBLASThread, n},
		Entry{KeyNumThreads, n},
		// Let the backend detect the runtime architecture.
		Entry{KeyDynamicArch, "1"},
		Entry{KeyBinary, "64"},
		Entry{KeyUseOpenMP, "0"},
		// Allow multithreaded calls inside constrained environments.
		Entry{KeyNoAffinity, "1"},
	), nil
}

// FeatureFlag returns the C compiler flag enabling the target's CPU feature set.
// arm64 compilers take the feature as an -march extension, x86 compilers as -m<feature>.
func FeatureFlag(t release.Target) string {
	switch t.Arch() {
	case "aarch64", "arm64":
		return "-march=armv8-a+" + t.CPUFeatureSet
	default:
		return "-m" + t.CPUFeatureSet
	}
}
