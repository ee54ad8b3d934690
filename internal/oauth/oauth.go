// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides credentials for publishing release outputs.
package oauth

import (
	"context"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// StorageTokenSource returns a token source scoped for GCS writes.
// With no credentials JSON the default credential is used.
func StorageTokenSource(ctx context.Context, credentialsJSON []byte) (oauth2.TokenSource, error) {
	if len(credentialsJSON) == 0 {
		ts, err := google.DefaultTokenSource(ctx, gcs.ScopeReadWrite)
		if err != nil {
			return nil, errors.Wrap(err, "finding default credentials")
		}
		return ts, nil
	}
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, gcs.ScopeReadWrite)
	if err != nil {
		return nil, errors.Wrap(err, "parsing credentials")
	}
	return oauth2.ReuseTokenSource(nil, creds.TokenSource), nil
}

// StorageOptions returns the client options for a GCS publish destination.
func StorageOptions(ctx context.Context, credentialsJSON []byte) ([]option.ClientOption, error) {
	ts, err := StorageTokenSource(ctx, credentialsJSON)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}
