// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package buildconfig generates the environment configuration for a release target.
package buildconfig

import (
	"slices"
)

// Configuration keys, in the order they are generated.
const (
	KeyRustFlags      = "RUSTFLAGS"
	KeyCFlags         = "CFLAGS"
	KeyCXXFlags       = "CXXFLAGS"
	KeyOpenBLASThread = "OPENBLAS_NUM_THREADS"
	KeyNumThreads     = "NUM_THREADS"
	KeyDynamicArch    = "DYNAMIC_ARCH"
	KeyBinary         = "BINARY"
	KeyUseOpenMP      = "USE_OPENMP"
	KeyNoAffinity     = "NO_AFFINITY"
)

// Keys lists every key a generated Config contains, in order.
var Keys = []string{
	KeyRustFlags,
	KeyCFlags,
	KeyCXXFlags,
	KeyOpenBLASThread,
	KeyNumThreads,
	KeyDynamicArch,
	KeyBinary,
	KeyUseOpenMP,
	KeyNoAffinity,
}

// Entry is a single configuration value.
type Entry struct {
	Key   string
	Value string
}

// Config is an ordered mapping of configuration keys to values.
// A Config is not modified after it is generated.
type Config struct {
	entries []Entry
}

func newConfig(entries ...Entry) *Config {
	return &Config{entries: entries}
}

// Entries returns a copy of the configuration in order.
func (c *Config) Entries() []Entry {
	return slices.Clone(c.entries)
}

// Keys returns the configuration keys in order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Get returns the value for key.
func (c *Config) Get(key string) (string, bool) {
	for _, e := range c.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (c *Config) Len() int {
	return len(c.entries)
}

// Environ returns the configuration as KEY=VALUE strings suitable for exec.Cmd.Env.
func (c *Config) Environ() []string {
	env := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		env = append(env, e.Key+"="+e.Value)
	}
	return env
}
