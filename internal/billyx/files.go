// Copyright 2026 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package billyx provides utilities for working with billy filesystems.
package billyx

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Files returns the slash-separated paths of all regular files in fsys
// relative to its root, sorted.
func Files(fsys billy.Filesystem) ([]string, error) {
	var files []string
	err := util.Walk(fsys, "/", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == "/" || path == "" || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, strings.TrimPrefix(filepath.ToSlash(path), "/"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
