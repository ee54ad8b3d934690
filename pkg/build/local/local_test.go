// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/buildconfig"
	"github.com/google/releasebuild/pkg/release"
)

var errComparer = cmp.Comparer(func(e1 error, e2 error) bool {
	if e1 == nil || e2 == nil {
		return e1 == e2
	}
	return e1.Error() == e2.Error()
})

func mustConfig(t *testing.T, target release.Target) *buildconfig.Config {
	t.Helper()
	cfg, err := buildconfig.Generate(target, buildconfig.Options{})
	if err != nil {
		t.Fatalf("Generate() = %v", err)
	}
	return cfg
}

func TestDockerImageBuilder(t *testing.T) {
	tests := []struct {
		name             string
		spec             build.ImageSpec
		executeErr       error
		expectedCommands []MockCommand
		wantErr          bool
	}{
		{
			name: "success",
			spec: build.ImageSpec{Tag: "manylinux-builder", ContextDir: ".", Dockerfile: ".travis/Dockerfile"},
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"build", "--tag", "manylinux-builder", "--file", ".travis/Dockerfile", "."}},
			},
		},
		{
			name:       "docker failure",
			spec:       build.ImageSpec{Tag: "manylinux-builder", ContextDir: "ctx"},
			executeErr: NewExitError(1),
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"build", "--tag", "manylinux-builder", "ctx"}, Error: NewExitError(1)},
			},
			wantErr: true,
		},
		{
			name:    "empty tag",
			spec:    build.ImageSpec{ContextDir: "."},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := NewMockCommandExecutor()
			mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				return tc.executeErr
			})
			b := &DockerImageBuilder{Executor: mock, Output: io.Discard}
			err := b.EnsureImage(context.Background(), tc.spec)
			if tc.wantErr {
				var ebe *release.EnvironmentBuildError
				if !errors.As(err, &ebe) {
					t.Fatalf("EnsureImage() error = %v, want EnvironmentBuildError", err)
				}
			} else if err != nil {
				t.Fatalf("EnsureImage() = %v", err)
			}
			if diff := cmp.Diff(tc.expectedCommands, mock.GetCommands(), errComparer, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNativeRunner(t *testing.T) {
	target := release.Target{Platform: release.MacOS, CPUFeatureSet: "avx2", BackendFeature: "accelerate"}
	cfg := mustConfig(t, target)
	mock := NewMockCommandExecutor()
	r := &NativeRunner{
		Executor:  mock,
		SourceDir: "/src/sbr-sys",
		Output:    io.Discard,
		BaseEnv:   func() []string { return []string{"PATH=/usr/bin"} },
	}
	res, err := r.Run(context.Background(), target, cfg)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	wantEnv := append([]string{"PATH=/usr/bin"}, cfg.Environ()...)
	want := []MockCommand{{
		Name: "cargo",
		Args: []string{"build", "--verbose", "--release", "--features=accelerate"},
		Dir:  "/src/sbr-sys",
		Env:  wantEnv,
	}}
	if diff := cmp.Diff(want, mock.GetCommands(), errComparer); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
	wantRes := &build.Result{
		Target:     target,
		Mode:       build.Native,
		ReleaseDir: filepath.Join("/src/sbr-sys", "target", "release"),
	}
	if diff := cmp.Diff(wantRes, res); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestNativeRunnerFailure(t *testing.T) {
	target := release.Target{Platform: release.Windows, CPUFeatureSet: "avx", BackendFeature: "openblas", TargetTriple: "x86_64-pc-windows-msvc"}
	mock := NewMockCommandExecutor()
	mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
		return NewExitError(101)
	})
	r := &NativeRunner{Executor: mock, SourceDir: ".", Output: io.Discard}
	_, err := r.Run(context.Background(), target, mustConfig(t, target))
	var bf *release.BuildFailure
	if !errors.As(err, &bf) {
		t.Fatalf("Run() error = %v, want BuildFailure", err)
	}
	if bf.ExitCode != 101 {
		t.Errorf("ExitCode = %d, want 101", bf.ExitCode)
	}
	if bf.InstanceID != "" {
		t.Errorf("InstanceID = %q, want empty for native builds", bf.InstanceID)
	}
}

func TestDockerRunner(t *testing.T) {
	target := release.Target{Platform: release.Linux, CPUFeatureSet: "avx2", BackendFeature: "openblas"}
	cfg := mustConfig(t, target)
	fs := memfs.New()
	mock := NewMockCommandExecutor()
	var envFile string
	mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
		// The env file must exist while the container runs.
		data, err := util.ReadFile(fs, args[4])
		if err != nil {
			return err
		}
		envFile = string(data)
		return nil
	})
	r := &DockerRunner{
		Executor: mock,
		Image:    "manylinux-builder",
		FS:       fs,
		WorkDir:  "work",
		NewID:    func() string { return "instance-1" },
		Output:   io.Discard,
	}
	res, err := r.Run(context.Background(), target, cfg)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	wantFile := filepath.Join("work", "instance-1.env")
	want := []MockCommand{{
		Name: "docker",
		Args: []string{"run", "--name", "instance-1", "--env-file", wantFile, "manylinux-builder",
			"cargo", "build", "--verbose", "--release", "--features=openblas"},
	}}
	if diff := cmp.Diff(want, mock.GetCommands(), errComparer); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
	if got, want := envFile, "RUSTFLAGS=-C target-feature=+avx2\n"; len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("env file starts with %q, want prefix %q", got, want)
	}
	if _, err := fs.Stat(wantFile); err == nil {
		t.Errorf("env file %s not removed after run", wantFile)
	}
	wantRes := &build.Result{
		Target:     target,
		Mode:       build.Isolated,
		ReleaseDir: "/target/release",
		Env:        &build.Environment{ImageTag: "manylinux-builder", InstanceID: "instance-1"},
	}
	if diff := cmp.Diff(wantRes, res); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestDockerRunnerUniqueInstances(t *testing.T) {
	target := release.Target{Platform: release.Linux, CPUFeatureSet: "sse", BackendFeature: "openblas"}
	cfg := mustConfig(t, target)
	r := &DockerRunner{
		Executor: NewMockCommandExecutor(),
		Image:    "manylinux-builder",
		FS:       memfs.New(),
		WorkDir:  "work",
		Output:   io.Discard,
	}
	seen := make(map[string]bool)
	for range 5 {
		res, err := r.Run(context.Background(), target, cfg)
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
		id := res.InstanceID()
		if id == "" || seen[id] {
			t.Fatalf("InstanceID %q reused or empty", id)
		}
		seen[id] = true
	}
}

func TestDockerRunnerFailure(t *testing.T) {
	target := release.Target{Platform: release.Linux, CPUFeatureSet: "avx512f", BackendFeature: "openblas"}
	mock := NewMockCommandExecutor()
	mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
		return NewExitError(101)
	})
	r := &DockerRunner{
		Executor: mock,
		Image:    "manylinux-builder",
		FS:       memfs.New(),
		WorkDir:  "work",
		NewID:    func() string { return "instance-9" },
		Output:   io.Discard,
	}
	_, err := r.Run(context.Background(), target, mustConfig(t, target))
	var bf *release.BuildFailure
	if !errors.As(err, &bf) {
		t.Fatalf("Run() error = %v, want BuildFailure", err)
	}
	if bf.ExitCode != 101 || bf.InstanceID != "instance-9" {
		t.Errorf("BuildFailure = {ExitCode: %d, InstanceID: %q}, want {101, instance-9}", bf.ExitCode, bf.InstanceID)
	}
	// No cleanup of the failed instance.
	for _, c := range mock.GetCommands() {
		if c.Args[0] == "rm" {
			t.Errorf("unexpected container removal: %v", c.Args)
		}
	}
}

func TestCollectorIsolated(t *testing.T) {
	target := release.Target{Platform: release.Linux, CPUFeatureSet: "avx2", BackendFeature: "openblas"}
	layout := release.Layout{Root: "build"}
	res := &build.Result{
		Target:     target,
		Mode:       build.Isolated,
		ReleaseDir: "/target/release",
		Env:        &build.Environment{ImageTag: "manylinux-builder", InstanceID: "abc"},
	}
	tests := []struct {
		name             string
		retain           bool
		executeFunc      func(ctx context.Context, opts CommandOptions, name string, args ...string) error
		expectedCommands []MockCommand
		wantMissing      string
		wantCopyErr      bool
	}{
		{
			name: "success",
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.so", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
				{Name: "docker", Args: []string{"rm", "abc"}},
			},
		},
		{
			name:   "retained",
			retain: true,
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.so", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
			},
		},
		{
			name: "missing shared library",
			executeFunc: func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				if args[0] == "cp" && filepath.Ext(args[1]) == ".so" {
					return NewExitError(1)
				}
				return nil
			},
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.so", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}, Error: NewExitError(1)},
				{Name: "docker", Args: []string{"container", "inspect", "abc"}},
			},
			wantMissing: "libsbr_sys.so",
		},
		{
			name: "daemon unavailable",
			executeFunc: func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				if args[0] == "cp" || args[0] == "container" {
					return NewExitError(1)
				}
				return nil
			},
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}, Error: NewExitError(1)},
				{Name: "docker", Args: []string{"container", "inspect", "abc"}, Error: NewExitError(1)},
			},
			wantCopyErr: true,
		},
		{
			name: "docker not started",
			executeFunc: func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				return errors.New("exec: \"docker\": executable file not found in $PATH")
			},
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}, Error: errors.New("exec: \"docker\": executable file not found in $PATH")},
			},
			wantCopyErr: true,
		},
		{
			name: "rm failure is not fatal",
			executeFunc: func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				if args[0] == "rm" {
					return NewExitError(1)
				}
				return nil
			},
			expectedCommands: []MockCommand{
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.a", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.a")}},
				{Name: "docker", Args: []string{"cp", "abc:/target/release/libsbr_sys.so", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
				{Name: "strip", Args: []string{"-g", layout.DestPath(release.Linux, "avx2", "libsbr_sys.so")}},
				{Name: "docker", Args: []string{"rm", "abc"}, Error: NewExitError(1)},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := NewMockCommandExecutor()
			if tc.executeFunc != nil {
				mock.SetExecuteFunc(tc.executeFunc)
			} else {
				mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error { return nil })
			}
			c := &Collector{
				Executor:         mock,
				FS:               memfs.New(),
				Layout:           layout,
				StripCmd:         "strip",
				RetainContainers: tc.retain,
				Output:           io.Discard,
			}
			artifacts, err := c.Collect(context.Background(), res)
			if tc.wantMissing != "" {
				var ame *release.ArtifactMissingError
				if !errors.As(err, &ame) {
					t.Fatalf("Collect() error = %v, want ArtifactMissingError", err)
				}
				if ame.Name != tc.wantMissing {
					t.Errorf("ArtifactMissingError.Name = %q, want %q", ame.Name, tc.wantMissing)
				}
			} else if tc.wantCopyErr {
				var ame *release.ArtifactMissingError
				if err == nil || errors.As(err, &ame) {
					t.Fatalf("Collect() error = %v, want a copy failure", err)
				}
			} else {
				if err != nil {
					t.Fatalf("Collect() = %v", err)
				}
				if len(artifacts) != 2 {
					t.Errorf("Collect() returned %d artifacts, want 2", len(artifacts))
				}
			}
			if diff := cmp.Diff(tc.expectedCommands, mock.GetCommands(), errComparer); diff != "" {
				t.Errorf("Command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollectorIsolatedCancelled(t *testing.T) {
	target := release.Target{Platform: release.Linux, CPUFeatureSet: "avx2", BackendFeature: "openblas"}
	res := &build.Result{
		Target:     target,
		Mode:       build.Isolated,
		ReleaseDir: "/target/release",
		Env:        &build.Environment{ImageTag: "manylinux-builder", InstanceID: "abc"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	mock := NewMockCommandExecutor()
	mock.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
		cancel()
		return NewExitError(-1)
	})
	c := &Collector{Executor: mock, FS: memfs.New(), Layout: release.Layout{Root: "build"}, Output: io.Discard}
	_, err := c.Collect(ctx, res)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Collect() error = %v, want context.Canceled", err)
	}
	if n := len(mock.GetCommands()); n != 1 {
		t.Errorf("ran %d commands, want 1", n)
	}
}

func TestCollectorNative(t *testing.T) {
	target := release.Target{Platform: release.MacOS, CPUFeatureSet: "avx", BackendFeature: "accelerate"}
	fs := memfs.New()
	releaseDir := filepath.Join("src", "target", "release")
	for _, name := range []string{"libsbr_sys.a", "libsbr_sys.dylib"} {
		if err := util.WriteFile(fs, filepath.Join(releaseDir, name), []byte("contents of "+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	layout := release.Layout{Root: "build"}
	// A stale file from an earlier run must not survive collection.
	stale := layout.DestPath(release.MacOS, "avx", "stale.txt")
	if err := util.WriteFile(fs, stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	mock := NewMockCommandExecutor()
	c := &Collector{Executor: mock, FS: fs, Layout: layout, StripCmd: "strip", Output: io.Discard}
	res := &build.Result{Target: target, Mode: build.Native, ReleaseDir: releaseDir}
	artifacts, err := c.Collect(context.Background(), res)
	if err != nil {
		t.Fatalf("Collect() = %v", err)
	}
	want := []release.Artifact{
		{
			Source:        filepath.Join(releaseDir, "libsbr_sys.a"),
			Platform:      release.MacOS,
			CPUFeatureSet: "avx",
			LogicalName:   "libsbr_sys.a",
			DestPath:      layout.DestPath(release.MacOS, "avx", "libsbr_sys.a"),
		},
		{
			Source:        filepath.Join(releaseDir, "libsbr_sys.dylib"),
			Platform:      release.MacOS,
			CPUFeatureSet: "avx",
			LogicalName:   "libsbr_sys.dylib",
			DestPath:      layout.DestPath(release.MacOS, "avx", "libsbr_sys.dylib"),
		},
	}
	if diff := cmp.Diff(want, artifacts); diff != "" {
		t.Errorf("Collect() mismatch (-want +got):\n%s", diff)
	}
	for _, a := range artifacts {
		data, err := util.ReadFile(fs, a.DestPath)
		if err != nil {
			t.Fatalf("reading %s: %v", a.DestPath, err)
		}
		if string(data) != "contents of "+a.LogicalName {
			t.Errorf("%s = %q, want copied contents", a.DestPath, data)
		}
	}
	if _, err := fs.Stat(stale); err == nil {
		t.Errorf("stale file %s survived collection", stale)
	}
	// Only Linux artifacts are stripped and native builds have no container.
	if cmds := mock.GetCommands(); len(cmds) != 0 {
		t.Errorf("unexpected commands: %+v", cmds)
	}
}

func TestCollectorNativeMissing(t *testing.T) {
	target := release.Target{Platform: release.Windows, CPUFeatureSet: "avx2", BackendFeature: "openblas"}
	fs := memfs.New()
	releaseDir := filepath.Join("src", "target", "release")
	if err := util.WriteFile(fs, filepath.Join(releaseDir, "sbr_sys.lib"), []byte("lib"), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Collector{Executor: NewMockCommandExecutor(), FS: fs, Layout: release.Layout{Root: "build"}, Output: io.Discard}
	_, err := c.Collect(context.Background(), &build.Result{Target: target, Mode: build.Native, ReleaseDir: releaseDir})
	var ame *release.ArtifactMissingError
	if !errors.As(err, &ame) {
		t.Fatalf("Collect() error = %v, want ArtifactMissingError", err)
	}
	if ame.Name != "sbr_sys.dll" {
		t.Errorf("ArtifactMissingError.Name = %q, want sbr_sys.dll", ame.Name)
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(NewExitError(3)); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
	if got := ExitCode(errors.New("not started")); got != -1 {
		t.Errorf("ExitCode() = %d, want -1", got)
	}
}
