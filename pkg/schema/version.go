package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z\-\.]+))?(?:\+([0-9A-Za-z\-\.]+))?$`)

// SemanticVersion is a major.minor.patch version with optional pre-release
// and build metadata.
type SemanticVersion struct {
	Major      uint64
	Minor      uint64
	Patch      uint64
	PreRelease string
	Build      string
}

// InitialVersion is assigned to the first version of a subject.
var InitialVersion = SemanticVersion{Major: 1}

// NewVersion creates a release version.
func NewVersion(major, minor, patch uint64) SemanticVersion {
	return SemanticVersion{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion parses a semantic version string.
func ParseVersion(s string) (SemanticVersion, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return SemanticVersion{}, fmt.Errorf("invalid semantic version: %q", s)
	}

	var v SemanticVersion
	var err error
	if v.Major, err = strconv.ParseUint(m[1], 10, 64); err != nil {
		return SemanticVersion{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}
	if v.Minor, err = strconv.ParseUint(m[2], 10, 64); err != nil {
		return SemanticVersion{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
	}
	if v.Patch, err = strconv.ParseUint(m[3], 10, 64); err != nil {
		return SemanticVersion{}, fmt.Errorf("invalid patch version in %q: %w", s, err)
	}
	v.PreRelease = m[4]
	v.Build = m[5]
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) SemanticVersion {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v SemanticVersion) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// IsZero reports whether v is 0.0.0 with no suffixes.
func (v SemanticVersion) IsZero() bool {
	return v == SemanticVersion{}
}

// Compare returns -1, 0 or 1. Build metadata does not take part in ordering.
func (v SemanticVersion) Compare(other SemanticVersion) int {
	if c := compareUint(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareUint(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := compareUint(v.Patch, other.Patch); c != 0 {
		return c
	}
	return comparePreRelease(v.PreRelease, other.PreRelease)
}

// Less reports whether v orders before other.
func (v SemanticVersion) Less(other SemanticVersion) bool {
	return v.Compare(other) < 0
}

// BumpMajor returns the next major release.
func (v SemanticVersion) BumpMajor() SemanticVersion {
	return SemanticVersion{Major: v.Major + 1}
}

// BumpMinor returns the next minor release.
func (v SemanticVersion) BumpMinor() SemanticVersion {
	return SemanticVersion{Major: v.Major, Minor: v.Minor + 1}
}

// BumpPatch returns the next patch release.
func (v SemanticVersion) BumpPatch() SemanticVersion {
	return SemanticVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// MarshalText encodes the version as a string.
func (v SemanticVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a version string.
func (v *SemanticVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// comparePreRelease orders pre-release tags: no tag sorts above any tag,
// identifiers compare left to right, numeric identifiers compare numerically
// and sort below alphanumeric ones, and a shorter prefix sorts first.
func comparePreRelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.ParseUint(as[i], 10, 64)
		bn, bErr := strconv.ParseUint(bs[i], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			if c := compareUint(an, bn); c != 0 {
				return c
			}
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return compareUint(uint64(len(as)), uint64(len(bs)))
}

// SortVersions sorts versions ascending in place.
func SortVersions(versions []SemanticVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Less(versions[j])
	})
}
