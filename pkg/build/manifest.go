// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

var (
	tableHeader = regexp.MustCompile(`^\s*\[\[?([^\[\]]+)\]\]?\s*(#.*)?$`)
	ltoDisabled = regexp.MustCompile(`^(\s*lto\s*=\s*)false\b`)
)

type releaseProfile struct {
	Profile struct {
		Release struct {
			LTO any `toml:"lto"`
		} `toml:"release"`
	} `toml:"profile"`
}

// EnableLTO sets [profile.release] lto = true in the Cargo manifest at name.
// Only the lto line is touched. A string-valued lto is left as is.
// It returns the manifest as written and whether it changed.
func EnableLTO(fs billy.Filesystem, name string) ([]byte, bool, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s", name)
	}
	var doc releaseProfile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, false, errors.Wrapf(err, "parsing %s", name)
	}
	var out []byte
	switch lto := doc.Profile.Release.LTO.(type) {
	case nil:
		out = insertLTO(data)
	case bool:
		if lto {
			return data, false, nil
		}
		out = replaceLTO(data)
	case string:
		return data, false, nil
	default:
		return nil, false, errors.Errorf("parsing %s: unexpected profile.release.lto %v", name, lto)
	}
	var check releaseProfile
	if err := toml.Unmarshal(out, &check); err != nil || check.Profile.Release.LTO != true {
		return nil, false, errors.Errorf("%s: cannot set profile.release.lto in place", name)
	}
	if err := util.WriteFile(fs, name, out, 0644); err != nil {
		return nil, false, errors.Wrapf(err, "writing %s", name)
	}
	return out, true, nil
}

// isReleaseHeader reports whether line opens the [profile.release] table.
func isReleaseHeader(line string) bool {
	m := tableHeader.FindStringSubmatch(line)
	if m == nil || strings.HasPrefix(strings.TrimSpace(line), "[[") {
		return false
	}
	return strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "") == "profile.release"
}

// replaceLTO rewrites "lto = false" within [profile.release].
func replaceLTO(data []byte) []byte {
	lines := strings.SplitAfter(string(data), "\n")
	inRelease := false
	for i, line := range lines {
		if tableHeader.MatchString(line) {
			inRelease = isReleaseHeader(line)
			continue
		}
		if inRelease && ltoDisabled.MatchString(line) {
			lines[i] = ltoDisabled.ReplaceAllString(line, "${1}true")
			break
		}
	}
	return []byte(strings.Join(lines, ""))
}

// insertLTO adds lto = true under an existing [profile.release] header, or
// appends the table when the manifest has none.
func insertLTO(data []byte) []byte {
	lines := strings.SplitAfter(string(data), "\n")
	for i, line := range lines {
		if isReleaseHeader(line) {
			if !strings.HasSuffix(line, "\n") {
				lines[i] = line + "\n"
			}
			rest := append([]string{"lto = true\n"}, lines[i+1:]...)
			return []byte(strings.Join(append(lines[:i+1], rest...), ""))
		}
	}
	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	if len(data) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("[profile.release]\nlto = true\n")
	return buf.Bytes()
}
