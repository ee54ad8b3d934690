// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package pipeline drives a release run: one build per CPU feature set, in order.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/buildconfig"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
)

// Config describes a release run.
type Config struct {
	// Platform is decided once for the run. Defaults to the host platform.
	Platform    release.Platform
	FeatureSets []string
	// Backend defaults to the platform's default backend.
	Backend      string
	TargetTriple string
	Options      buildconfig.Options
	// Image is built once before any target when set.
	Image *build.ImageSpec
}

// Targets returns the validated targets of the run in order.
func (c Config) Targets() ([]release.Target, error) {
	p := c.Platform
	if p == "" {
		host, err := release.HostPlatform()
		if err != nil {
			return nil, err
		}
		p = host
	}
	if !p.Valid() {
		return nil, &release.ConfigError{Field: "platform", Value: string(p), Reason: "unsupported"}
	}
	if len(c.FeatureSets) == 0 {
		return nil, &release.ConfigError{Field: "cpu_feature_set", Reason: "at least one is required"}
	}
	backend := c.Backend
	if backend == "" {
		backend = release.DefaultBackend(p)
	}
	seen := make(map[string]bool)
	var targets []release.Target
	for _, f := range c.FeatureSets {
		if seen[f] {
			return nil, &release.ConfigError{Field: "cpu_feature_set", Value: f, Reason: "listed more than once"}
		}
		seen[f] = true
		t := release.Target{Platform: p, CPUFeatureSet: f, BackendFeature: backend, TargetTriple: c.TargetTriple}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Archiver bundles collected artifacts.
type Archiver interface {
	ArchiveTarget(t release.Target, artifacts []release.Artifact) ([]release.Bundle, error)
	// Finish writes bundles spanning the whole run.
	Finish() ([]release.Bundle, error)
}

// Event describes a state change.
type Event struct {
	From, To State
	// Target is the target being processed, if any.
	Target release.Target
	// Index is the position of Target in the run.
	Index int
	Total int
}

// Observer is notified of every state change.
type Observer func(Event)

// Components are the collaborators of a run.
type Components struct {
	ImageBuilder build.ImageBuilder
	Runner       build.Runner
	Collector    build.Collector
	Archiver     Archiver
	Observer     Observer
}

// StageError reports the first failure of a run.
type StageError struct {
	// Target is unset for failures outside a target's build.
	Target release.Target
	Stage  State
	Err    error
}

func (e *StageError) Error() string {
	if e.Target.CPUFeatureSet == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Target, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Report summarizes a successful run.
type Report struct {
	Targets   []release.Target
	Artifacts []release.Artifact
	Bundles   []release.Bundle
	// InstanceIDs lists the isolated environments used, in target order.
	InstanceIDs []string
}

// Pipeline runs the targets of a Config strictly one after another.
type Pipeline struct {
	cfg   Config
	comps Components
	state State
}

// New returns a Pipeline in the Init state.
func New(cfg Config, comps Components) *Pipeline {
	return &Pipeline{cfg: cfg, comps: comps, state: Init}
}

// State returns the current state.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the release. It stops at the first failure, leaving the
// outputs of earlier targets in place. A Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if p.state != Init {
		return nil, errors.Errorf("pipeline already ran (state %s)", p.state)
	}
	if p.comps.Runner == nil || p.comps.Collector == nil || p.comps.Archiver == nil {
		return nil, p.fail(release.Target{}, 0, 0, errors.New("missing pipeline component"))
	}
	targets, err := p.cfg.Targets()
	if err != nil {
		return nil, p.fail(release.Target{}, 0, 0, err)
	}
	if p.cfg.Image != nil {
		if p.comps.ImageBuilder == nil {
			return nil, p.fail(release.Target{}, 0, 0, errors.New("image requested without an image builder"))
		}
		if err := p.comps.ImageBuilder.EnsureImage(ctx, *p.cfg.Image); err != nil {
			return nil, p.fail(release.Target{}, 0, 0, err)
		}
	}
	report := &Report{Targets: targets}
	total := len(targets)
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(t, i, total, err)
		}
		if err := p.move(ConfiguringTarget, t, i, total); err != nil {
			return nil, err
		}
		cfg, err := buildconfig.Generate(t, p.cfg.Options)
		if err != nil {
			return nil, p.fail(t, i, total, err)
		}
		if err := p.move(BuildingTarget, t, i, total); err != nil {
			return nil, err
		}
		res, err := p.comps.Runner.Run(ctx, t, cfg)
		if err != nil {
			return nil, p.fail(t, i, total, err)
		}
		if id := res.InstanceID(); id != "" {
			report.InstanceIDs = append(report.InstanceIDs, id)
		}
		if err := p.move(CollectingArtifacts, t, i, total); err != nil {
			return nil, err
		}
		artifacts, err := p.comps.Collector.Collect(ctx, res)
		if err != nil {
			return nil, p.fail(t, i, total, err)
		}
		report.Artifacts = append(report.Artifacts, artifacts...)
		if err := p.move(Archiving, t, i, total); err != nil {
			return nil, err
		}
		bundles, err := p.comps.Archiver.ArchiveTarget(t, artifacts)
		if err != nil {
			return nil, p.fail(t, i, total, err)
		}
		report.Bundles = append(report.Bundles, bundles...)
		log.Printf("Finished %s (%d/%d)", t, i+1, total)
	}
	bundles, err := p.comps.Archiver.Finish()
	if err != nil {
		return nil, p.fail(release.Target{}, total, total, err)
	}
	report.Bundles = append(report.Bundles, bundles...)
	if err := p.move(Done, release.Target{}, total, total); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) move(to State, t release.Target, i, total int) error {
	from := p.state
	next, err := Transition(from, to)
	if err != nil {
		return p.fail(t, i, total, err)
	}
	p.state = next
	p.notify(Event{From: from, To: next, Target: t, Index: i, Total: total})
	return nil
}

// fail moves to Failed and returns err annotated with the stage it occurred in.
func (p *Pipeline) fail(t release.Target, i, total int, err error) error {
	stage := p.state
	p.state = Failed
	p.notify(Event{From: stage, To: Failed, Target: t, Index: i, Total: total})
	return &StageError{Target: t, Stage: stage, Err: err}
}

func (p *Pipeline) notify(e Event) {
	if p.comps.Observer != nil {
		p.comps.Observer(e)
	}
}
