// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"io"
	"log"

	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
)

// DockerImageBuilder builds the isolated build image with docker.
type DockerImageBuilder struct {
	Executor  CommandExecutor
	DockerCmd string
	// Output receives the docker build log. Defaults to log.Writer().
	Output io.Writer
}

var _ build.ImageBuilder = &DockerImageBuilder{}

// EnsureImage implements build.ImageBuilder.
// Layer caching is left to docker so repeated calls are cheap.
func (b *DockerImageBuilder) EnsureImage(ctx context.Context, spec build.ImageSpec) error {
	if spec.Tag == "" {
		return &release.EnvironmentBuildError{Image: spec.Tag, Err: errors.New("empty image tag")}
	}
	args := []string{"build", "--tag", spec.Tag}
	if spec.Dockerfile != "" {
		args = append(args, "--file", spec.Dockerfile)
	}
	contextDir := spec.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	args = append(args, contextDir)
	log.Printf("Building image %s", spec.Tag)
	err := b.Executor.Execute(ctx, CommandOptions{Output: outputOrLog(b.Output)}, dockerCmd(b.DockerCmd), args...)
	if err != nil {
		return &release.EnvironmentBuildError{Image: spec.Tag, Err: err}
	}
	return nil
}

func dockerCmd(cmd string) string {
	if cmd == "" {
		return "docker"
	}
	return cmd
}

func outputOrLog(w io.Writer) io.Writer {
	if w == nil {
		return log.Writer()
	}
	return w
}
