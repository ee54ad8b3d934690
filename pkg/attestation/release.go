// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/releasebuild/pkg/release"
	"github.com/in-toto/in-toto-golang/in_toto"
	"github.com/in-toto/in-toto-golang/in_toto/slsa_provenance/common"
	slsa1 "github.com/in-toto/in-toto-golang/in_toto/slsa_provenance/v1"
	"github.com/pkg/errors"
)

// Input gathers what a release attestation records.
type Input struct {
	Params   ReleaseParams
	Internal ReleaseInternalParams
	// Source is the crate revision, if known.
	Source *SourceLocation
	// Image is the isolated build image tag, if any.
	Image   string
	Bundles []release.Bundle
	// RunID identifies the run.
	RunID      string
	StartedOn  time.Time
	FinishedOn time.Time
}

// NewReleaseAttestation builds a statement with one subject per bundle.
// Bundle paths are resolved against fs, which must be rooted at the build root.
func NewReleaseAttestation(fs billy.Filesystem, in Input) (*ReleaseAttestation, error) {
	if len(in.Bundles) == 0 {
		return nil, errors.New("no bundles to attest")
	}
	var subjects []in_toto.Subject
	for _, b := range in.Bundles {
		digest, err := sha256File(fs, b.Path)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, in_toto.Subject{Name: filepath.ToSlash(b.Path), Digest: common.DigestSet{"sha256": digest}})
	}
	var deps []slsa1.ResourceDescriptor
	if in.Source != nil {
		deps = append(deps, slsa1.ResourceDescriptor{Name: "git+" + in.Source.Repository, Digest: common.DigestSet{"sha1": in.Source.Ref}})
	}
	if in.Image != "" {
		deps = append(deps, slsa1.ResourceDescriptor{Name: in.Image})
	}
	started, finished := in.StartedOn.UTC(), in.FinishedOn.UTC()
	return &ReleaseAttestation{
		StatementHeader: in_toto.StatementHeader{
			Type:          in_toto.StatementInTotoV1,
			PredicateType: slsa1.PredicateSLSAProvenance,
			Subject:       subjects,
		},
		Predicate: ReleasePredicate{
			BuildDefinition: ReleaseBuildDef{
				BuildType:            BuildTypeReleaseV01,
				ExternalParameters:   in.Params,
				InternalParameters:   in.Internal,
				ResolvedDependencies: deps,
			},
			RunDetails: ReleaseRunDetails{
				Builder: slsa1.Builder{ID: BuilderLocal},
				BuildMetadata: slsa1.BuildMetadata{
					InvocationID: in.RunID,
					StartedOn:    &started,
					FinishedOn:   &finished,
				},
			},
		},
	}, nil
}

// WriteJSON writes a to name on fs as indented JSON.
func WriteJSON(fs billy.Filesystem, name string, v any) error {
	f, err := fs.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating %s", name)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", name)
	}
	return errors.Wrapf(f.Close(), "closing %s", name)
}

func sha256File(fs billy.Filesystem, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", name)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", name)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
