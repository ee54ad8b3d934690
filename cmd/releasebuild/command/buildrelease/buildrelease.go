// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package buildrelease implements the command that builds, collects, and
// archives the library once per CPU feature set.
package buildrelease

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/releasebuild/internal/hostcpu"
	"github.com/google/releasebuild/internal/oauth"
	"github.com/google/releasebuild/pkg/act"
	"github.com/google/releasebuild/pkg/act/cli"
	"github.com/google/releasebuild/pkg/archive"
	"github.com/google/releasebuild/pkg/attestation"
	"github.com/google/releasebuild/pkg/build"
	"github.com/google/releasebuild/pkg/build/local"
	"github.com/google/releasebuild/pkg/buildconfig"
	"github.com/google/releasebuild/pkg/kmsdsse"
	"github.com/google/releasebuild/pkg/pipeline"
	"github.com/google/releasebuild/pkg/publish"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

const (
	provenanceFile = "release.intoto.json"
	envelopeFile   = "release.intoto.dsse.json"
)

var (
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
)

// Deps holds dependencies for the command.
type Deps struct {
	IO       cli.IO
	Executor local.CommandExecutor
	// HostFS resolves every host path the command touches.
	HostFS billy.Filesystem
	CPU    hostcpu.Checker
	Getenv func(string) string
	Now    func() time.Time
	// NewInstanceID names isolated environments. Nil uses random UUIDs.
	NewInstanceID func() string
	// WorkDir returns a scratch directory on HostFS for env files.
	WorkDir       func() (string, error)
	ResolveSource func(dir string) (*attestation.SourceLocation, error)
	OpenStore     func(ctx context.Context, uri, runID string, opts ...option.ClientOption) (publish.Store, error)
	NewKMSSigner  func(ctx context.Context, keyName string) (dsse.SignerVerifier, func() error, error)
	// Progress enables the progress bar on IO.Err.
	Progress bool
}

func (d *Deps) SetIO(cio cli.IO) { d.IO = cio }

// InitDeps initializes Deps.
func InitDeps(context.Context) (*Deps, error) {
	return &Deps{
		Executor: local.NewRealCommandExecutor(),
		HostFS:   osfs.New(""),
		CPU:      hostcpu.Host(),
		Getenv:   os.Getenv,
		Now:      time.Now,
		WorkDir: func() (string, error) {
			return os.MkdirTemp("", "releasebuild-")
		},
		ResolveSource: attestation.ResolveSource,
		OpenStore:     publish.StoreFromURI,
		NewKMSSigner: func(ctx context.Context, keyName string) (dsse.SignerVerifier, func() error, error) {
			return kmsdsse.NewSigner(ctx, keyName)
		},
		Progress: true,
	}, nil
}

func parseArgs(cfg *Config, args []string) error {
	if len(args) > 0 {
		cfg.FeatureSets = args
	}
	return nil
}

// resolvePaths makes the host paths of cfg absolute.
func resolvePaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Source, &cfg.BuildRoot, &cfg.Context, &cfg.Dockerfile, &cfg.SigningKey, &cfg.Credentials} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return errors.Wrapf(err, "resolving %s", *p)
		}
		*p = abs
	}
	return nil
}

// Handler contains the business logic for the build command.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*act.NoOutput, error) {
	var platform release.Platform
	{
		var err error
		if cfg.Platform != "" {
			platform, err = release.ParsePlatform(cfg.Platform)
		} else {
			platform, err = release.HostPlatform()
		}
		if err != nil {
			return nil, err
		}
	}
	if err := resolvePaths(&cfg); err != nil {
		return nil, err
	}
	if platform == release.Windows && cfg.TargetTriple == "" && deps.Getenv != nil {
		cfg.TargetTriple = deps.Getenv("TARGET")
	}
	mode := cfg.archiveMode(platform)
	if err := release.EnsureDir(deps.HostFS, cfg.BuildRoot); err != nil {
		return nil, err
	}
	rootFS, err := deps.HostFS.Chroot(cfg.BuildRoot)
	if err != nil {
		return nil, errors.Wrap(err, "opening build root")
	}
	arch := &archive.Archiver{
		FS:                  rootFS,
		Layout:              release.Layout{},
		Mode:                mode,
		Bundle:              cfg.Bundle,
		RemoveIntermediates: cfg.RemoveIntermediates,
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	warnMissingFeatures(cfg, platform, deps)

	layout := release.Layout{Root: cfg.BuildRoot}
	pcfg := pipeline.Config{
		Platform:     platform,
		FeatureSets:  cfg.FeatureSets,
		Backend:      cfg.Backend,
		TargetTriple: cfg.TargetTriple,
		Options:      buildconfig.Options{Threads: cfg.Threads},
	}
	if _, err := pcfg.Targets(); err != nil {
		return nil, err
	}
	comps := pipeline.Components{
		Archiver: arch,
		Collector: &local.Collector{
			Executor:         deps.Executor,
			FS:               deps.HostFS,
			Layout:           layout,
			DockerCmd:        cfg.DockerCmd,
			StripCmd:         cfg.StripCmd,
			RetainContainers: cfg.RetainContainers,
		},
	}
	if platform == release.Linux {
		if cfg.LTO {
			manifest := filepath.Join(cfg.Source, "Cargo.toml")
			out, changed, err := build.EnableLTO(deps.HostFS, manifest)
			if err != nil {
				return nil, err
			}
			if changed {
				log.Printf("Enabled LTO in %s:\n%s", manifest, out)
			}
		}
		workDir, err := deps.WorkDir()
		if err != nil {
			return nil, errors.Wrap(err, "creating work directory")
		}
		defer func() {
			if err := util.RemoveAll(deps.HostFS, workDir); err != nil {
				log.Printf("Failed to remove %s: %v", workDir, err)
			}
		}()
		pcfg.Image = &build.ImageSpec{Tag: cfg.Image, ContextDir: cfg.Context, Dockerfile: cfg.Dockerfile}
		comps.ImageBuilder = &local.DockerImageBuilder{Executor: deps.Executor, DockerCmd: cfg.DockerCmd}
		comps.Runner = &local.DockerRunner{
			Executor:  deps.Executor,
			DockerCmd: cfg.DockerCmd,
			Image:     cfg.Image,
			FS:        deps.HostFS,
			WorkDir:   workDir,
			NewID:     deps.NewInstanceID,
		}
	} else {
		comps.Runner = &local.NativeRunner{
			Executor:  deps.Executor,
			SourceDir: cfg.Source,
			CargoCmd:  cfg.CargoCmd,
		}
	}
	bar := newProgress(deps, len(cfg.FeatureSets))
	comps.Observer = func(e pipeline.Event) {
		if cfg.Verbose {
			log.Printf("%s -> %s %s", e.From, e.To, e.Target)
		}
		if bar == nil {
			return
		}
		switch {
		case e.To == pipeline.ConfiguringTarget:
			bar.Prefix(e.Target.CPUFeatureSet + " ")
		case e.From == pipeline.Archiving:
			bar.Increment()
		}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	started := now()
	runID := started.UTC().Format("20060102T150405Z")
	report, err := pipeline.New(pcfg, comps).Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return nil, err
	}
	finished := now()

	published := bundlePaths(report.Bundles)
	if cfg.Provenance {
		written, err := writeProvenance(ctx, cfg, deps, rootFS, platform, mode, report, runID, started, finished)
		if err != nil {
			return nil, err
		}
		published = append(published, written...)
	}
	if cfg.Publish != "" {
		var opts []option.ClientOption
		if strings.HasPrefix(cfg.Publish, "gs://") {
			var creds []byte
			if cfg.Credentials != "" {
				creds, err = util.ReadFile(deps.HostFS, cfg.Credentials)
				if err != nil {
					return nil, errors.Wrap(err, "reading credentials")
				}
			}
			opts, err = oauth.StorageOptions(ctx, creds)
			if err != nil {
				return nil, err
			}
		}
		store, err := deps.OpenStore(ctx, cfg.Publish, runID, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "opening publish destination")
		}
		urls, err := publish.Upload(ctx, store, rootFS, published)
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			fmt.Fprintf(deps.IO.Out, "Published %s\n", u)
		}
	}
	green.Fprintf(deps.IO.Out, "Built %d target(s) for %s: %s\n", len(report.Targets), platform, strings.Join(cfg.FeatureSets, ", "))
	for _, b := range report.Bundles {
		fmt.Fprintf(deps.IO.Out, "  %s\n", filepath.Join(cfg.BuildRoot, b.Path))
	}
	return &act.NoOutput{}, nil
}

func warnMissingFeatures(cfg Config, platform release.Platform, deps *Deps) {
	host, err := release.HostPlatform()
	if err != nil || host != platform || deps.CPU.Supports == nil {
		return
	}
	if missing := deps.CPU.Missing(cfg.FeatureSets); len(missing) > 0 {
		yellow.Fprintf(deps.IO.Err, "Warning: host CPU %q lacks %s; built libraries may not run here\n", hostcpu.Brand(), strings.Join(missing, ", "))
	}
}

func newProgress(deps *Deps, total int) *pb.ProgressBar {
	if !deps.Progress || deps.IO.Err == nil {
		return nil
	}
	bar := pb.New(total)
	bar.Output = deps.IO.Err
	bar.ShowTimeLeft = true
	return bar.Start()
}

func bundlePaths(bundles []release.Bundle) []string {
	var paths []string
	for _, b := range bundles {
		paths = append(paths, filepath.ToSlash(b.Path))
	}
	return paths
}

// writeProvenance writes the release statement, and its signed envelope when
// a signing key is configured, returning the paths written relative to rootFS.
func writeProvenance(ctx context.Context, cfg Config, deps *Deps, rootFS billy.Filesystem, platform release.Platform, mode archive.Mode, report *pipeline.Report, runID string, started, finished time.Time) ([]string, error) {
	if len(report.Bundles) == 0 {
		return nil, nil
	}
	in := attestation.Input{
		Params: attestation.ReleaseParams{
			Platform:       string(platform),
			CPUFeatureSets: cfg.FeatureSets,
			BackendFeature: report.Targets[0].BackendFeature,
			TargetTriple:   cfg.TargetTriple,
			ArchiveMode:    string(mode),
			Bundle:         cfg.Bundle,
		},
		Internal: attestation.ReleaseInternalParams{
			Threads:     cfg.Threads,
			InstanceIDs: report.InstanceIDs,
		},
		Bundles:    report.Bundles,
		RunID:      runID,
		StartedOn:  started,
		FinishedOn: finished,
	}
	if platform == release.Linux {
		in.Image = cfg.Image
	}
	if deps.ResolveSource != nil {
		src, err := deps.ResolveSource(cfg.Source)
		if err != nil {
			log.Printf("Source revision unavailable: %v", err)
		} else {
			in.Source = src
		}
	}
	ra, err := attestation.NewReleaseAttestation(rootFS, in)
	if err != nil {
		return nil, errors.Wrap(err, "creating provenance")
	}
	if err := attestation.WriteJSON(rootFS, provenanceFile, ra); err != nil {
		return nil, err
	}
	written := []string{provenanceFile}
	sv, closeSigner, err := newSigner(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return written, nil
	}
	defer closeSigner()
	signer, err := dsse.NewEnvelopeSigner(sv)
	if err != nil {
		return nil, errors.Wrap(err, "creating signer")
	}
	env, err := attestation.SignAttestation(ctx, signer, ra)
	if err != nil {
		return nil, err
	}
	if err := attestation.WriteJSON(rootFS, envelopeFile, env); err != nil {
		return nil, err
	}
	return append(written, envelopeFile), nil
}

// newSigner returns the configured provenance signer, or nil when signing is disabled.
func newSigner(ctx context.Context, cfg Config, deps *Deps) (dsse.SignerVerifier, func() error, error) {
	switch {
	case cfg.KMSKey != "":
		return deps.NewKMSSigner(ctx, cfg.KMSKey)
	case cfg.SigningKey != "":
		pem, err := util.ReadFile(deps.HostFS, cfg.SigningKey)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading signing key")
		}
		key, err := attestation.ParseECDSAKey(pem)
		if err != nil {
			return nil, nil, err
		}
		sv, err := attestation.NewECDSASignerVerifier(key)
		if err != nil {
			return nil, nil, err
		}
		return sv, func() error { return nil }, nil
	default:
		return nil, nil, nil
	}
}

// Command creates a new build command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "build [--config <FILE>] [--platform linux|macos|windows] [flags] <cpu_feature_set>...",
		Short: "Build, collect, and archive the library for each CPU feature set",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ConfigFile == "" {
				return nil
			}
			fc, err := readFileConfig(cfg.ConfigFile)
			if err != nil {
				return err
			}
			fc.merge(&cfg, cmd.Flags().Changed)
			return nil
		},
		RunE: cli.RunE(
			&cfg,
			parseArgs,
			InitDeps,
			Handler,
		),
	}
	cmd.Flags().AddGoFlagSet(flagSet(cmd.Name(), &cfg))
	return cmd
}
