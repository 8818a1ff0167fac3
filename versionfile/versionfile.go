// Package versionfile reads and rewrites the canonical version source: a
// single line of the form
//
//	__version__ = "2.3.5"
//
// The rewrite is structural, not a blind substring replacement: only the
// version literal inside the __version__ assignment is touched, so other
// occurrences of the same string elsewhere in the file are left alone.
package versionfile

import (
	"os"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/relcut/errors"
)

// versionLine matches the __version__ assignment. Group 1 is everything up to
// the opening quote, group 2 the version literal, group 3 the closing quote.
var versionLine = regexp.MustCompile(`(?m)^(\s*__version__\s*=\s*["'])([^"']*)(["'])`)

// strictTriple enforces the three-integer-dot-separated grammar. Prerelease
// and build metadata are rejected: the pipeline only ever emits plain
// major.minor.patch versions.
var strictTriple = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Parse extracts the current version from version-source content.
// Returns ErrMalformedVersion if the assignment is absent or the literal does
// not match the major.minor.patch grammar.
func Parse(content string) (*semver.Version, error) {
	m := versionLine.FindStringSubmatch(content)
	if m == nil {
		return nil, errors.NewMalformedVersion("no __version__ assignment found")
	}
	literal := m[2]
	if !strictTriple.MatchString(literal) {
		return nil, errors.NewMalformedVersion("version %q does not match major.minor.patch", literal)
	}
	v, err := semver.StrictNewVersion(literal)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedVersion, err.Error())
	}
	return v, nil
}

// BumpPatch computes the next version: patch+1, major and minor untouched.
func BumpPatch(v *semver.Version) semver.Version {
	return v.IncPatch()
}

// Rewrite replaces the version literal in the __version__ assignment with
// next, leaving the rest of the content byte-identical.
func Rewrite(content string, next *semver.Version) (string, error) {
	if versionLine.FindStringIndex(content) == nil {
		return "", errors.NewMalformedVersion("no __version__ assignment found")
	}
	replaced := false
	out := versionLine.ReplaceAllStringFunc(content, func(match string) string {
		if replaced {
			return match // only the first assignment is canonical
		}
		replaced = true
		m := versionLine.FindStringSubmatch(match)
		return m[1] + next.String() + m[3]
	})
	return out, nil
}

// Read parses the version from the file at path.
func Read(path string) (*semver.Version, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading version source %s", path)
	}
	return Parse(string(content))
}

// Write rewrites the version literal in the file at path to next.
// The file's permissions are preserved.
func Write(path string, next *semver.Version) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading version source %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "stat version source %s", path)
	}
	out, err := Rewrite(string(content), next)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "writing version source %s", path)
	}
	return nil
}
