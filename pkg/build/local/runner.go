// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/buildconfig"
	"github.com/google/releasebuild/pkg/release"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NativeRunner builds targets with the host toolchain.
type NativeRunner struct {
	Executor CommandExecutor
	// SourceDir is the crate directory.
	SourceDir string
	// CargoCmd defaults to "cargo".
	CargoCmd string
	// Output receives the build log. Defaults to log.Writer().
	Output io.Writer
	// BaseEnv returns the environment the build config is layered over.
	// Defaults to os.Environ.
	BaseEnv func() []string
}

var _ build.Runner = &NativeRunner{}

// Run implements build.Runner. The build config is applied to the cargo
// process only; the current process environment is left untouched.
func (r *NativeRunner) Run(ctx context.Context, t release.Target, cfg *buildconfig.Config) (*build.Result, error) {
	if cfg == nil {
		return nil, errors.New("nil build config")
	}
	baseEnv := r.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ
	}
	env := append(baseEnv(), cfg.Environ()...)
	args := build.CargoInvocation(t)
	log.Printf("Building %s natively", t)
	err := r.Executor.Execute(ctx, CommandOptions{
		Output: outputOrLog(r.Output),
		Dir:    r.SourceDir,
		Env:    env,
	}, cargoCmd(r.CargoCmd), args...)
	if err != nil {
		return nil, &release.BuildFailure{Target: t, ExitCode: ExitCode(err), Err: err}
	}
	return &build.Result{
		Target:     t,
		Mode:       build.Native,
		ReleaseDir: filepath.Join(r.SourceDir, filepath.FromSlash(build.ReleaseSubdir(t))),
	}, nil
}

// DockerRunner builds targets inside a fresh container per target.
type DockerRunner struct {
	Executor  CommandExecutor
	DockerCmd string
	// Image is the tag of the build image.
	Image string
	// FS is the host filesystem the env file is written to.
	FS billy.Filesystem
	// WorkDir holds the per-instance env files.
	WorkDir string
	// CrateDir is the crate location inside the image. Defaults to "/".
	CrateDir string
	// NewID names new instances. Defaults to random UUIDs.
	NewID func() string
	// Output receives the build log. Defaults to log.Writer().
	Output io.Writer
}

var _ build.Runner = &DockerRunner{}

// Run implements build.Runner. The container is left in place so its outputs
// can be copied out; the caller is responsible for removing it.
func (r *DockerRunner) Run(ctx context.Context, t release.Target, cfg *buildconfig.Config) (*build.Result, error) {
	if cfg == nil {
		return nil, errors.New("nil build config")
	}
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	env := &build.Environment{ImageTag: r.Image, InstanceID: newID()}
	envFile := filepath.Join(r.WorkDir, env.InstanceID+".env")
	if err := r.writeEnvFile(envFile, cfg); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.FS.Remove(envFile); err != nil {
			log.Printf("Failed to remove env file %s: %v", envFile, err)
		}
	}()
	args := []string{"run", "--name", env.InstanceID, "--env-file", envFile, r.Image, "cargo"}
	args = append(args, build.CargoInvocation(t)...)
	log.Printf("Building %s in container %s", t, env.InstanceID)
	err := r.Executor.Execute(ctx, CommandOptions{Output: outputOrLog(r.Output)}, dockerCmd(r.DockerCmd), args...)
	if err != nil {
		return nil, &release.BuildFailure{Target: t, ExitCode: ExitCode(err), InstanceID: env.InstanceID, Err: err}
	}
	crateDir := r.CrateDir
	if crateDir == "" {
		crateDir = "/"
	}
	return &build.Result{
		Target:     t,
		Mode:       build.Isolated,
		ReleaseDir: path.Join(crateDir, build.ReleaseSubdir(t)),
		Env:        env,
	}, nil
}

func (r *DockerRunner) writeEnvFile(name string, cfg *buildconfig.Config) error {
	if err := release.EnsureDir(r.FS, r.WorkDir); err != nil {
		return err
	}
	f, err := r.FS.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating env file %s", name)
	}
	if err := buildconfig.WriteEnvFile(f, cfg); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing env file %s", name)
}

func cargoCmd(cmd string) string {
	if cmd == "" {
		return "cargo"
	}
	return cmd
}
