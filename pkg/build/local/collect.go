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
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
)

// Collector copies build outputs into the release layout.
type Collector struct {
	Executor CommandExecutor
	// FS is the host filesystem. Layout paths and native release dirs are resolved against it.
	FS        billy.Filesystem
	Layout    release.Layout
	DockerCmd string
	// StripCmd removes debug symbols from Linux artifacts. Empty disables stripping.
	StripCmd string
	// RetainContainers keeps isolated instances after collection.
	RetainContainers bool
	// Output receives subprocess output. Defaults to log.Writer().
	Output io.Writer
}

var _ build.Collector = &Collector{}

// Collect implements build.Collector. The target's output directory is
// recreated on every call so stale files from earlier runs never survive.
func (c *Collector) Collect(ctx context.Context, res *build.Result) ([]release.Artifact, error) {
	t := res.Target
	dir := c.Layout.TargetDir(t.Platform, t.CPUFeatureSet)
	if err := util.RemoveAll(c.FS, dir); err != nil {
		return nil, errors.Wrapf(err, "resetting %s", dir)
	}
	if err := release.EnsureDir(c.FS, dir); err != nil {
		return nil, err
	}
	var artifacts []release.Artifact
	for _, name := range release.ExpectedArtifacts(t) {
		dest := c.Layout.DestPath(t.Platform, t.CPUFeatureSet, name)
		var src string
		switch res.Mode {
		case build.Native:
			src = filepath.Join(res.ReleaseDir, name)
			if err := c.copyFile(src, dest); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, &release.ArtifactMissingError{Target: t, Name: name, Location: src, Err: err}
				}
				return nil, err
			}
		case build.Isolated:
			src = res.InstanceID() + ":" + path.Join(res.ReleaseDir, name)
			err := c.Executor.Execute(ctx, CommandOptions{Output: outputOrLog(c.Output)}, dockerCmd(c.DockerCmd), "cp", src, dest)
			if err != nil {
				return nil, c.copyError(ctx, res, name, src, err)
			}
		default:
			return nil, errors.Errorf("unsupported build mode %s", res.Mode)
		}
		if t.Platform == release.Linux && c.StripCmd != "" {
			if err := c.Executor.Execute(ctx, CommandOptions{Output: outputOrLog(c.Output)}, c.StripCmd, "-g", dest); err != nil {
				return nil, errors.Wrapf(err, "stripping %s", dest)
			}
		}
		artifacts = append(artifacts, release.Artifact{
			Source:        src,
			Platform:      t.Platform,
			CPUFeatureSet: t.CPUFeatureSet,
			LogicalName:   name,
			DestPath:      dest,
		})
	}
	if res.Mode == build.Isolated && !c.RetainContainers {
		id := res.InstanceID()
		if err := c.Executor.Execute(ctx, CommandOptions{Output: outputOrLog(c.Output)}, dockerCmd(c.DockerCmd), "rm", id); err != nil {
			log.Printf("Failed to remove container %s: %v", id, err)
		}
	}
	return artifacts, nil
}

// copyError classifies a failed docker cp. The artifact is reported missing
// only when the instance is still inspectable.
func (c *Collector) copyError(ctx context.Context, res *build.Result, name, src string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ExitCode(err) < 0 {
		return errors.Wrapf(err, "copying %s", src)
	}
	id := res.InstanceID()
	if ierr := c.Executor.Execute(ctx, CommandOptions{Output: io.Discard}, dockerCmd(c.DockerCmd), "container", "inspect", id); ierr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "copying %s", src)
	}
	return &release.ArtifactMissingError{Target: res.Target, Name: name, Location: src, Err: err}
}

func (c *Collector) copyFile(src, dest string) error {
	in, err := c.FS.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()
	out, err := c.FS.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s", src)
	}
	return errors.Wrapf(out.Close(), "closing %s", dest)
}
