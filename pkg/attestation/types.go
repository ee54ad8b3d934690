// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package attestation describes release runs as in-toto provenance statements.
package attestation

import (
	"encoding/json"

	"github.com/in-toto/in-toto-golang/in_toto"
	slsa1 "github.com/in-toto/in-toto-golang/in_toto/slsa_provenance/v1"
)

const (
	// BuildTypeReleaseV01 is the SLSA build type used for release attestations.
	BuildTypeReleaseV01 = "https://github.com/google/releasebuild/builds/Release@v0.1"
	// BuilderLocal identifies releases built by the local pipeline.
	BuilderLocal = "https://github.com/google/releasebuild/builders/local"
)

// SourceLocation describes a source code reference and optional path
type SourceLocation struct {
	// Path is the source repository relative path
	Path string `json:"path,omitempty"`
	// Ref is a descriptor of a source location (e.g. branch, tag, commit hash)
	Ref string `json:"ref"`
	// Repository is the source repository URI
	Repository string `json:"repository"`
}

// ReleaseParams are the user-provided parameters of a release run.
type ReleaseParams struct {
	Platform       string   `json:"platform"`
	CPUFeatureSets []string `json:"cpuFeatureSets"`
	BackendFeature string   `json:"backendFeature"`
	TargetTriple   string   `json:"targetTriple,omitempty"`
	ArchiveMode    string   `json:"archiveMode"`
	Bundle         string   `json:"bundle"`
}

// ReleaseInternalParams are settings of the run not chosen per release.
type ReleaseInternalParams struct {
	Threads int `json:"threads"`
	// InstanceIDs are the isolated environments the targets were built in.
	InstanceIDs []string `json:"instanceIds,omitempty"`
}

// ReleaseBuildDef defines what was built and how.
type ReleaseBuildDef struct {
	BuildType            string                     `json:"buildType"`
	ExternalParameters   ReleaseParams              `json:"externalParameters"`
	InternalParameters   ReleaseInternalParams      `json:"internalParameters"`
	ResolvedDependencies []slsa1.ResourceDescriptor `json:"resolvedDependencies,omitempty"`
}

// ReleaseRunDetails describes the execution of the run.
type ReleaseRunDetails struct {
	Builder       slsa1.Builder       `json:"builder"`
	BuildMetadata slsa1.BuildMetadata `json:"metadata"`
}

// ReleasePredicate is the SLSA provenance predicate of a release.
type ReleasePredicate struct {
	BuildDefinition ReleaseBuildDef   `json:"buildDefinition"`
	RunDetails      ReleaseRunDetails `json:"runDetails"`
}

// ReleaseAttestation is a provenance statement whose subjects are release bundles.
type ReleaseAttestation struct {
	in_toto.StatementHeader `json:",inline"`
	Predicate               ReleasePredicate `json:"predicate"`
}

// ToStatement converts the ReleaseAttestation to a SLSA provenance statement.
func (ra *ReleaseAttestation) ToStatement() (*in_toto.ProvenanceStatementSLSA1, error) {
	b, err := json.Marshal(ra)
	if err != nil {
		return nil, err
	}
	var s in_toto.ProvenanceStatementSLSA1
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
