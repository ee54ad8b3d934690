// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package buildconfig

import (
	"bufio"
	"io"
	"strings"

	"github.com/google/releasebuild/pkg/release"
	"github.com/pkg/errors"
)

// WriteEnvFile writes c as one KEY=VALUE pair per line, the format consumed by
// `docker run --env-file`. Values are written verbatim; docker does not unquote them.
func WriteEnvFile(w io.Writer, c *Config) error {
	bw := bufio.NewWriter(w)
	for _, e := range c.entries {
		if e.Key == "" || strings.ContainsAny(e.Key, "=\n") {
			return &release.ConfigError{Field: "key", Value: e.Key, Reason: "not representable in an env file"}
		}
		if strings.ContainsAny(e.Value, "\r\n") {
			return &release.ConfigError{Field: e.Key, Value: e.Value, Reason: "value contains a newline"}
		}
		if _, err := bw.WriteString(e.Key + "=" + e.Value + "\n"); err != nil {
			return errors.Wrap(err, "writing env file")
		}
	}
	return errors.Wrap(bw.Flush(), "flushing env file")
}

// ReadEnvFile parses an env file written by WriteEnvFile. Blank lines and lines
// starting with # are skipped.
func ReadEnvFile(r io.Reader) (*Config, error) {
	var entries []Entry
	s := bufio.NewScanner(r)
	for line := 1; s.Scan(); line++ {
		text := s.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("env file line %d: expected KEY=VALUE", line)
		}
		entries = append(entries, Entry{Key: k, Value: v})
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "reading env file")
	}
	return newConfig(entries...), nil
}
