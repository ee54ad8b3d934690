// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package buildrelease

import (
	"flag"
	"os"
	"runtime"
	"strings"

	"github.com/google/releasebuild/pkg/archive"
	"github.com/google/releasebuild/pkg/kmsdsse"
	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultImage      = "manylinux-builder"
	defaultDockerfile = ".travis/Dockerfile"
	defaultBundle     = "libsbr"
	defaultThreads    = 128
)

// Config holds all configuration for the build command.
type Config struct {
	ConfigFile   string
	Platform     string
	FeatureSets  []string
	Backend      string
	TargetTriple string
	Source       string
	BuildRoot    string
	Image        string
	Dockerfile   string
	Context      string
	Threads      int
	// ArchiveMode applies to every platform. When empty, ArchiveModes
	// decides per platform and per-target is the fallback.
	ArchiveMode         string
	ArchiveModes        map[string]string
	Bundle              string
	RemoveIntermediates bool
	RetainContainers    bool
	LTO                 bool
	StripCmd            string
	DockerCmd           string
	CargoCmd            string
	Provenance          bool
	SigningKey          string
	KMSKey              string
	Publish             string
	// Credentials is a service account JSON file used for gs:// publishing.
	Credentials string
	Verbose     bool
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if len(c.FeatureSets) == 0 {
		return &release.ConfigError{Field: "cpu_feature_set", Reason: "at least one is required"}
	}
	if c.Platform != "" {
		if _, err := release.ParsePlatform(c.Platform); err != nil {
			return err
		}
	}
	if c.Source == "" {
		return &release.ConfigError{Field: "source", Reason: "is required"}
	}
	if c.BuildRoot == "" {
		return &release.ConfigError{Field: "build_root", Reason: "is required"}
	}
	if c.Threads <= 0 {
		return &release.ConfigError{Field: "threads", Reason: "must be positive"}
	}
	if c.ArchiveMode != "" {
		if _, err := archive.ParseMode(c.ArchiveMode); err != nil {
			return err
		}
	}
	seen := make(map[release.Platform]string)
	for p, m := range c.ArchiveModes {
		platform, err := release.ParsePlatform(p)
		if err != nil {
			return err
		}
		if prev, ok := seen[platform]; ok {
			first, second := prev, p
			if second < first {
				first, second = second, first
			}
			return &release.ConfigError{Field: "archive_modes", Value: second, Reason: "duplicates " + first + " for platform " + string(platform)}
		}
		seen[platform] = p
		if _, err := archive.ParseMode(m); err != nil {
			return err
		}
	}
	if err := release.ValidateName("bundle", c.Bundle); err != nil {
		return err
	}
	if c.Credentials != "" && !strings.HasPrefix(c.Publish, "gs://") {
		return &release.ConfigError{Field: "credentials", Reason: "only used when publishing to gs://"}
	}
	if c.SigningKey != "" && c.KMSKey != "" {
		return &release.ConfigError{Field: "signing_key", Reason: "cannot be combined with kms_key"}
	}
	if (c.SigningKey != "" || c.KMSKey != "") && !c.Provenance {
		return &release.ConfigError{Field: "signing_key", Reason: "requires provenance"}
	}
	if c.KMSKey != "" {
		if err := kmsdsse.ValidateKeyName(c.KMSKey); err != nil {
			return &release.ConfigError{Field: "kms_key", Value: c.KMSKey, Reason: err.Error()}
		}
	}
	return nil
}

// archiveMode returns the archive mode used for p.
func (c Config) archiveMode(p release.Platform) archive.Mode {
	if c.ArchiveMode != "" {
		return archive.Mode(c.ArchiveMode)
	}
	for name, m := range c.ArchiveModes {
		if mp, err := release.ParsePlatform(name); err == nil && mp == p {
			return archive.Mode(m)
		}
	}
	return archive.PerTarget
}

// fileConfig is the YAML pipeline config. Absent keys leave flags untouched.
type fileConfig struct {
	Platform            *string           `yaml:"platform"`
	FeatureSets         []string          `yaml:"cpu_feature_sets"`
	Backend             *string           `yaml:"backend"`
	TargetTriple        *string           `yaml:"target_triple"`
	Source              *string           `yaml:"source"`
	BuildRoot           *string           `yaml:"build_root"`
	Image               *string           `yaml:"image"`
	Dockerfile          *string           `yaml:"dockerfile"`
	Context             *string           `yaml:"context"`
	Threads             *int              `yaml:"threads"`
	ArchiveMode         *string           `yaml:"archive_mode"`
	ArchiveModes        map[string]string `yaml:"archive_modes"`
	Bundle              *string           `yaml:"bundle"`
	RemoveIntermediates *bool             `yaml:"remove_intermediates"`
	RetainContainers    *bool             `yaml:"retain_containers"`
	LTO                 *bool             `yaml:"lto"`
	StripCmd            *string           `yaml:"strip_cmd"`
	DockerCmd           *string           `yaml:"docker_cmd"`
	CargoCmd            *string           `yaml:"cargo_cmd"`
	Provenance          *bool             `yaml:"provenance"`
	SigningKey          *string           `yaml:"signing_key"`
	KMSKey              *string           `yaml:"kms_key"`
	Publish             *string           `yaml:"publish"`
	Credentials         *string           `yaml:"credentials"`
}

func readFileConfig(name string) (*fileConfig, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()
	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", name)
	}
	return &fc, nil
}

// merge applies fc to cfg for every flag that was not set explicitly.
func (fc *fileConfig) merge(cfg *Config, changed func(flag string) bool) {
	str := func(flag string, dst *string, v *string) {
		if v != nil && !changed(flag) {
			*dst = *v
		}
	}
	boolean := func(flag string, dst *bool, v *bool) {
		if v != nil && !changed(flag) {
			*dst = *v
		}
	}
	str("platform", &cfg.Platform, fc.Platform)
	str("backend", &cfg.Backend, fc.Backend)
	str("target-triple", &cfg.TargetTriple, fc.TargetTriple)
	str("source", &cfg.Source, fc.Source)
	str("build-root", &cfg.BuildRoot, fc.BuildRoot)
	str("image", &cfg.Image, fc.Image)
	str("dockerfile", &cfg.Dockerfile, fc.Dockerfile)
	str("context", &cfg.Context, fc.Context)
	str("archive-mode", &cfg.ArchiveMode, fc.ArchiveMode)
	str("bundle", &cfg.Bundle, fc.Bundle)
	str("strip-cmd", &cfg.StripCmd, fc.StripCmd)
	str("docker-cmd", &cfg.DockerCmd, fc.DockerCmd)
	str("cargo-cmd", &cfg.CargoCmd, fc.CargoCmd)
	str("signing-key", &cfg.SigningKey, fc.SigningKey)
	str("kms-key", &cfg.KMSKey, fc.KMSKey)
	str("publish", &cfg.Publish, fc.Publish)
	str("credentials", &cfg.Credentials, fc.Credentials)
	boolean("remove-intermediates", &cfg.RemoveIntermediates, fc.RemoveIntermediates)
	boolean("retain-containers", &cfg.RetainContainers, fc.RetainContainers)
	boolean("lto", &cfg.LTO, fc.LTO)
	boolean("provenance", &cfg.Provenance, fc.Provenance)
	if fc.Threads != nil && !changed("threads") {
		cfg.Threads = *fc.Threads
	}
	if len(fc.FeatureSets) > 0 {
		cfg.FeatureSets = fc.FeatureSets
	}
	cfg.ArchiveModes = fc.ArchiveModes
}

func defaultStripCmd() string {
	if runtime.GOOS == "linux" {
		return "strip"
	}
	return ""
}

// flagSet returns the command-line flags for the Config struct.
func flagSet(name string, cfg *Config) *flag.FlagSet {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	set.StringVar(&cfg.ConfigFile, "config", "", "YAML pipeline config; flags set explicitly take precedence")
	set.StringVar(&cfg.Platform, "platform", "", "platform to build for: linux, macos, or windows (default: host)")
	set.StringVar(&cfg.Backend, "backend", "", "backend cargo feature (default: openblas, accelerate on macos)")
	set.StringVar(&cfg.TargetTriple, "target-triple", "", "cargo target triple (windows falls back to $TARGET)")
	set.StringVar(&cfg.Source, "source", ".", "crate directory")
	set.StringVar(&cfg.BuildRoot, "build-root", "build", "output root")
	set.StringVar(&cfg.Image, "image", defaultImage, "tag of the isolated build image")
	set.StringVar(&cfg.Dockerfile, "dockerfile", defaultDockerfile, "Dockerfile of the isolated build image")
	set.StringVar(&cfg.Context, "context", ".", "docker build context directory")
	set.IntVar(&cfg.Threads, "threads", defaultThreads, "backend thread limit")
	set.StringVar(&cfg.ArchiveMode, "archive-mode", "", "per-artifact, per-target, or tree (default: per-target)")
	set.StringVar(&cfg.Bundle, "bundle", defaultBundle, "base name of bundles")
	set.BoolVar(&cfg.RemoveIntermediates, "remove-intermediates", false, "delete artifacts once zipped (per-artifact only)")
	set.BoolVar(&cfg.RetainContainers, "retain-containers", false, "keep isolated build containers")
	set.BoolVar(&cfg.LTO, "lto", true, "enable link-time optimization in Cargo.toml (linux)")
	set.StringVar(&cfg.StripCmd, "strip-cmd", defaultStripCmd(), "command that strips debug symbols from linux artifacts; empty disables")
	set.StringVar(&cfg.DockerCmd, "docker-cmd", "docker", "docker binary")
	set.StringVar(&cfg.CargoCmd, "cargo-cmd", "cargo", "cargo binary for native builds")
	set.BoolVar(&cfg.Provenance, "provenance", true, "write release provenance to <build-root>/release.intoto.json")
	set.StringVar(&cfg.SigningKey, "signing-key", "", "PEM ECDSA key used to sign the provenance")
	set.StringVar(&cfg.KMSKey, "kms-key", "", "Cloud KMS CryptoKeyVersion used to sign the provenance")
	set.StringVar(&cfg.Publish, "publish", "", "gs://bucket/prefix or file:///dir to upload bundles to")
	set.StringVar(&cfg.Credentials, "credentials", "", "service account JSON for gs:// publishing (default: application default credentials)")
	set.BoolVar(&cfg.Verbose, "verbose", false, "log every state change")
	return set
}
