package semver

import (
	"fmt"
	"regexp"
	"strings"

	sv "github.com/Masterminds/semver"
)

type Version = sv.Version

// releaseRegex matches the leading MAJOR[.MINOR[.PATCH]] of versions printed by docker and its plugins
var releaseRegex = regexp.MustCompile(`^v?([0-9]+(?:\.[0-9]+){0,2})`)

// Release parses the release part of s, ignoring pre-release, build and distro suffixes
// such as "2.24.5-desktop.1" or "20.10.21+dfsg1".
func Release(s string) (*Version, error) {
	m := releaseRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("parsing version %q: no release number", s)
	}

	v, err := sv.NewVersion(m[1])
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return v, nil
}

// Satisfies reports whether the release part of version meets constraint, e.g. ">= 2.0.0".
func Satisfies(constraint, version string) (bool, error) {
	c, err := sv.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parsing constraint %q: %w", constraint, err)
	}

	v, err := Release(version)
	if err != nil {
		return false, err
	}

	return c.Check(v), nil
}
