// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"io"
	"log"
	"net/url"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// Upload copies the named files from src into store, keeping their relative
// paths, and returns the location of each upload.
func Upload(ctx context.Context, store Store, src billy.Filesystem, names []string) ([]*url.URL, error) {
	var urls []*url.URL
	for _, name := range names {
		if err := copyTo(ctx, store, src, name); err != nil {
			return nil, err
		}
		u := store.URL(filepath.ToSlash(name))
		log.Printf("Uploaded %s to %s", name, u)
		urls = append(urls, u)
	}
	return urls, nil
}

func copyTo(ctx context.Context, store Store, src billy.Filesystem, name string) error {
	r, err := src.Open(name)
	if err != nil {
		return errors.Wrapf(err, "opening %s", name)
	}
	defer r.Close()
	w, err := store.Writer(ctx, filepath.ToSlash(name))
	if err != nil {
		return errors.Wrapf(err, "creating writer for %s", name)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "uploading %s", name)
	}
	return errors.Wrapf(w.Close(), "finishing upload of %s", name)
}
