// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package hostcpu reports which requested CPU features the build host lacks.
package hostcpu

import (
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// features maps target-feature names to cpuid feature IDs.
var features = map[string]cpuid.FeatureID{
	"sse":      cpuid.SSE,
	"sse2":     cpuid.SSE2,
	"sse3":     cpuid.SSE3,
	"ssse3":    cpuid.SSSE3,
	"sse4.1":   cpuid.SSE4,
	"sse4.2":   cpuid.SSE42,
	"popcnt":   cpuid.POPCNT,
	"avx":      cpuid.AVX,
	"avx2":     cpuid.AVX2,
	"fma":      cpuid.FMA3,
	"bmi1":     cpuid.BMI1,
	"bmi2":     cpuid.BMI2,
	"f16c":     cpuid.F16C,
	"avx512f":  cpuid.AVX512F,
	"avx512bw": cpuid.AVX512BW,
	"avx512cd": cpuid.AVX512CD,
	"avx512dq": cpuid.AVX512DQ,
	"avx512vl": cpuid.AVX512VL,
	"neon":     cpuid.ASIMD,
	"sve":      cpuid.SVE,
}

// Checker tests features against a CPU description.
type Checker struct {
	// Supports reports whether the CPU has a feature.
	Supports func(cpuid.FeatureID) bool
}

// Host returns a Checker for the CPU this process runs on.
func Host() Checker {
	return Checker{Supports: func(id cpuid.FeatureID) bool { return cpuid.CPU.Supports(id) }}
}

// Missing returns the requested features the CPU lacks. Unknown feature names
// are skipped since the toolchain, not the host, decides their validity.
func (c Checker) Missing(requested []string) []string {
	var missing []string
	for _, name := range requested {
		id, ok := features[strings.ToLower(name)]
		if !ok {
			continue
		}
		if !c.Supports(id) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Known reports whether name is a feature the checker understands.
func Known(name string) bool {
	_, ok := features[strings.ToLower(name)]
	return ok
}

// Brand returns the host CPU brand string.
func Brand() string {
	return cpuid.CPU.BrandName
}
