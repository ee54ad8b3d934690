// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{in: "linux", want: Linux},
		{in: "Linux", want: Linux},
		{in: "darwin", want: MacOS},
		{in: "macos", want: MacOS},
		{in: "windows", want: Windows},
		{in: "plan9", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePlatform(tc.in)
			if tc.wantErr {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Fatalf("ParsePlatform(%q) error = %v, want ConfigError", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlatform(%q) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParsePlatform(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDefaultBackend(t *testing.T) {
	want := map[Platform]string{Linux: "openblas", MacOS: "accelerate", Windows: "openblas"}
	for _, p := range Platforms {
		if got := DefaultBackend(p); got != want[p] {
			t.Errorf("DefaultBackend(%s) = %q, want %q", p, got, want[p])
		}
	}
}

func TestHostPlatform(t *testing.T) {
	p, err := HostPlatform()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}
	if !p.Valid() {
		t.Errorf("HostPlatform() = %q, not a valid platform", p)
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name      string
		target    Target
		wantField string
	}{
		{
			name:   "valid",
			target: Target{Platform: Linux, CPUFeatureSet: "avx2", BackendFeature: "openblas"},
		},
		{
			name:   "valid with triple",
			target: Target{Platform: Windows, CPUFeatureSet: "sse4.2", BackendFeature: "openblas", TargetTriple: "x86_64-pc-windows-msvc"},
		},
		{
			name:      "unknown platform",
			target:    Target{Platform: "beos", CPUFeatureSet: "avx2", BackendFeature: "openblas"},
			wantField: "platform",
		},
		{
			name:      "empty feature set",
			target:    Target{Platform: Linux, BackendFeature: "openblas"},
			wantField: "cpu_feature_set",
		},
		{
			name:      "feature set with separator",
			target:    Target{Platform: Linux, CPUFeatureSet: "../avx2", BackendFeature: "openblas"},
			wantField: "cpu_feature_set",
		},
		{
			name:      "empty backend",
			target:    Target{Platform: MacOS, CPUFeatureSet: "avx"},
			wantField: "backend_feature",
		},
		{
			name:      "bad triple",
			target:    Target{Platform: Windows, CPUFeatureSet: "avx", BackendFeature: "openblas", TargetTriple: "x86 64"},
			wantField: "target_triple",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.target.Validate()
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want ConfigError", err)
			}
			if ce.Field != tc.wantField {
				t.Errorf("ConfigError.Field = %q, want %q", ce.Field, tc.wantField)
			}
		})
	}
}

func TestExpectedArtifacts(t *testing.T) {
	tests := []struct {
		target Target
		want   []string
	}{
		{Target{Platform: Linux}, []string{"libsbr_sys.a", "libsbr_sys.so"}},
		{Target{Platform: MacOS}, []string{"libsbr_sys.a", "libsbr_sys.dylib"}},
		{Target{Platform: Windows}, []string{"sbr_sys.lib", "sbr_sys.dll"}},
		{Target{Platform: Windows, TargetTriple: "x86_64-pc-windows-msvc"}, []string{"sbr_sys.lib", "sbr_sys.dll"}},
		{Target{Platform: Windows, TargetTriple: "x86_64-pc-windows-gnu"}, []string{"libsbr_sys.a", "sbr_sys.dll"}},
	}
	for _, tc := range tests {
		t.Run(tc.target.String(), func(t *testing.T) {
			if diff := cmp.Diff(tc.want, ExpectedArtifacts(tc.target)); diff != "" {
				t.Errorf("ExpectedArtifacts() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLayoutDestPath(t *testing.T) {
	l := Layout{Root: "/out"}
	got := l.DestPath(Linux, "avx2", "libsbr_sys.a")
	want := filepath.Join("/out", "linux", "avx2", "libsbr_sys.a")
	if got != want {
		t.Errorf("DestPath() = %q, want %q", got, want)
	}
	// Pure function: same inputs, same path.
	if again := l.DestPath(Linux, "avx2", "libsbr_sys.a"); again != got {
		t.Errorf("DestPath() not deterministic: %q != %q", again, got)
	}
	if got, want := l.TargetBundleRel(Target{Platform: Linux, CPUFeatureSet: "avx2"}, "libsbr"), filepath.Join("linux", "libsbr_avx2.zip"); got != want {
		t.Errorf("TargetBundleRel() = %q, want %q", got, want)
	}
}

func TestLayoutInjective(t *testing.T) {
	l := Layout{Root: "build"}
	features := []string{"sse", "sse2", "sse4.1", "sse4.2", "avx", "avx2", "avx512f", "fma"}
	type key struct {
		p       Platform
		feature string
		name    string
	}
	seen := make(map[string]key)
	for _, p := range Platforms {
		for _, f := range features {
			target := Target{Platform: p, CPUFeatureSet: f, BackendFeature: DefaultBackend(p)}
			if err := target.Validate(); err != nil {
				t.Fatalf("Validate(%v) = %v", target, err)
			}
			// Include names from every platform to exercise cross-platform collisions.
			var names []string
			for _, q := range Platforms {
				names = append(names, ExpectedArtifacts(Target{Platform: q})...)
			}
			for _, n := range names {
				k := key{p, f, n}
				path := l.DestPath(p, f, n)
				if prev, ok := seen[path]; ok && prev != k {
					t.Fatalf("DestPath collision: %v and %v both map to %s", prev, k, path)
				}
				seen[path] = k
			}
		}
	}
}

func TestEnsureDir(t *testing.T) {
	fs := memfs.New()
	dir := filepath.Join("build", "linux", "avx2")
	if err := EnsureDir(fs, dir); err != nil {
		t.Fatalf("EnsureDir() = %v", err)
	}
	if err := EnsureDir(fs, dir); err != nil {
		t.Fatalf("EnsureDir() on existing directory = %v, want nil", err)
	}
	if err := util.WriteFile(fs, "file", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(fs, "file"); err == nil {
		t.Error("EnsureDir() on a regular file = nil, want error")
	}
}

func TestBuildFailureError(t *testing.T) {
	inner := errors.New("exit status 101")
	err := error(&BuildFailure{
		Target:     Target{Platform: Linux, CPUFeatureSet: "avx2"},
		ExitCode:   101,
		InstanceID: "abc",
		Err:        inner,
	})
	want := "build of linux/avx2 failed with exit code 101 (instance abc): exit status 101"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false, want true")
	}
}
