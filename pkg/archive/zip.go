// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"slices"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

// arbitraryTime is the modification time recorded for every entry.
var arbitraryTime = time.Date(1985, time.October, 26, 8, 15, 0, 0, time.UTC)

// Entry maps a file on the filesystem to its name inside an archive.
type Entry struct {
	// Name is the slash-separated entry name.
	Name string
	// Source is the file's path on the filesystem.
	Source string
}

// WriteZip writes entries to dest as a zip archive. Entries are sorted by name
// and carry fixed metadata so identical inputs produce identical bytes.
func WriteZip(fs billy.Filesystem, dest string, entries []Entry) error {
	entries = slices.Clone(entries)
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	f, err := fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := addEntry(fs, zw, e); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "finishing %s", dest)
	}
	return errors.Wrapf(f.Close(), "closing %s", dest)
}

func addEntry(fs billy.Filesystem, zw *zip.Writer, e Entry) error {
	src, err := fs.Open(e.Source)
	if err != nil {
		return errors.Wrapf(err, "opening %s", e.Source)
	}
	defer src.Close()
	fh := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: arbitraryTime,
	}
	fh.SetMode(0644)
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return errors.Wrapf(err, "adding %s", e.Name)
	}
	if _, err := io.Copy(w, src); err != nil {
		return errors.Wrapf(err, "compressing %s", e.Source)
	}
	return nil
}

// Summarize returns a ContentSummary of the zip archive at name.
func Summarize(fs billy.Filesystem, name string) (*ContentSummary, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	defer f.Close()
	info, err := fs.Stat(name)
	if err != nil {
		return nil, errors.Wrapf(err, "checking %s", name)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return NewContentSummaryFromZip(zr)
}

// NewContentSummaryFromZip returns a ContentSummary for a zip archive.
func NewContentSummaryFromZip(zr *zip.Reader) (*ContentSummary, error) {
	cs := ContentSummary{
		Files:      make([]string, 0),
		FileHashes: make([]string, 0),
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		h := sha256.New()
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		cs.Files = append(cs.Files, f.Name)
		cs.FileHashes = append(cs.FileHashes, hex.EncodeToString(h.Sum(nil)))
	}
	return &cs, nil
}
