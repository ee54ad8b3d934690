// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package publish uploads release outputs to durable storage.
package publish

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// ErrObjectNotFound indicates the object requested to be read could not be found.
var ErrObjectNotFound = errors.New("object not found")

// Store holds the outputs of release runs. Names are slash-separated and
// relative to the run.
type Store interface {
	Reader(ctx context.Context, name string) (io.ReadCloser, error)
	Writer(ctx context.Context, name string) (io.WriteCloser, error)
	// URL locates a stored object.
	URL(name string) *url.URL
}

// StoreFromURI returns the store for a gs://bucket/prefix or file:///dir URI.
// Objects are written under <prefix>/<runID>/.
func StoreFromURI(ctx context.Context, uri, runID string, opts ...option.ClientOption) (Store, error) {
	if runID == "" {
		return nil, errors.New("no run ID provided")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parsing as url")
	}
	switch u.Scheme {
	case "gs":
		return NewGCSStore(ctx, u.Host, strings.Trim(u.Path, "/"), runID, opts...)
	case "file":
		if u.Path == "" {
			return nil, errors.Errorf("empty path in %s", uri)
		}
		dir := filepath.FromSlash(u.Path)
		if err := release.EnsureDir(osfs.New(""), dir); err != nil {
			return nil, err
		}
		return NewFilesystemStore(osfs.New(dir), runID), nil
	default:
		return nil, errors.Errorf("unsupported scheme: '%s'", u.Scheme)
	}
}

// GCSStore is a Store backed by a GCS bucket.
type GCSStore struct {
	gcsClient *gcs.Client
	bucket    string
	prefix    string
	runID     string
}

// NewGCSStore creates a new GCSStore.
func NewGCSStore(ctx context.Context, bucket, prefix, runID string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("empty bucket name")
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSStore{gcsClient: client, bucket: bucket, prefix: prefix, runID: runID}, nil
}

func (s *GCSStore) objectPath(name string) string {
	return path.Join(s.prefix, s.runID, name)
}

// URL implements Store.
func (s *GCSStore) URL(name string) *url.URL {
	return &url.URL{Scheme: "gs", Host: s.bucket, Path: "/" + s.objectPath(name)}
}

// Reader implements Store.
func (s *GCSStore) Reader(ctx context.Context, name string) (io.ReadCloser, error) {
	p := s.objectPath(name)
	r, err := s.gcsClient.Bucket(s.bucket).Object(p).NewReader(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			err = stderrors.Join(err, ErrObjectNotFound)
		}
		return nil, errors.Wrapf(err, "creating GCS reader for %s", p)
	}
	return r, nil
}

// Writer implements Store. The object is committed when the writer is closed.
func (s *GCSStore) Writer(ctx context.Context, name string) (io.WriteCloser, error) {
	w := s.gcsClient.Bucket(s.bucket).Object(s.objectPath(name)).NewWriter(ctx)
	w.ContentType = contentType(name)
	return w, nil
}

var _ Store = &GCSStore{}

// FilesystemStore is a Store backed by a billy.Filesystem.
type FilesystemStore struct {
	fs    billy.Filesystem
	runID string
}

// NewFilesystemStore creates a new FilesystemStore.
func NewFilesystemStore(fs billy.Filesystem, runID string) *FilesystemStore {
	return &FilesystemStore{fs: fs, runID: runID}
}

func (s *FilesystemStore) objectPath(name string) string {
	return filepath.Join(s.runID, filepath.FromSlash(name))
}

// URL implements Store.
func (s *FilesystemStore) URL(name string) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.fs.Root(), s.objectPath(name)))}
}

// Reader implements Store.
func (s *FilesystemStore) Reader(ctx context.Context, name string) (io.ReadCloser, error) {
	p := s.objectPath(name)
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = stderrors.Join(err, ErrObjectNotFound)
		}
		return nil, errors.Wrapf(err, "creating reader for %s", name)
	}
	return f, nil
}

// Writer implements Store.
func (s *FilesystemStore) Writer(ctx context.Context, name string) (io.WriteCloser, error) {
	p := s.objectPath(name)
	if err := release.EnsureDir(s.fs, filepath.Dir(p)); err != nil {
		return nil, err
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return nil, errors.Wrapf(err, "creating writer for %s", name)
	}
	return f, nil
}

var _ Store = &FilesystemStore{}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return "application/zip"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
