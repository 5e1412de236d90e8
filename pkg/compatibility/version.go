package compatibility

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// ErrVersionNotIncreasing is returned when a manual version does not sort
// above the latest registered version.
var ErrVersionNotIncreasing = errors.New("version must be greater than the latest registered version")

// InitialVersion is assigned to the first version of a subject
var InitialVersion = schema.NewVersion(1, 0, 0)

// Diff is the backward-direction classification of a new schema against
// the latest registered version.
type Diff struct {
	Violations []Violation
}

// ComputeDiff classifies the changes from latest to next
func ComputeDiff(next, latest *schema.NormalizedSchema) *Diff {
	return &Diff{Violations: CompareSchemas(next, latest, DirectionBackward)}
}

// HasBreaking reports whether any change is breaking
func (d *Diff) HasBreaking() bool {
	if d == nil {
		return false
	}
	for _, v := range d.Violations {
		if v.IsBreaking() {
			return true
		}
	}
	return false
}

// HasAdditive reports whether any change widens the schema
func (d *Diff) HasAdditive() bool {
	if d == nil {
		return false
	}
	for _, v := range d.Violations {
		if v.Kind.IsAdditive() {
			return true
		}
	}
	return false
}

// NextVersion derives the version that follows current for the given diff:
// breaking changes bump major, additive changes bump minor, anything else
// bumps patch.
func NextVersion(current schema.SemanticVersion, diff *Diff) schema.SemanticVersion {
	switch {
	case diff.HasBreaking():
		return current.BumpMajor()
	case diff.HasAdditive():
		return current.BumpMinor()
	default:
		return current.BumpPatch()
	}
}

// ResolveVersion picks the version for a new registration. A manual
// override wins when it sorts above latest; otherwise the version is
// derived from the diff. A subject without versions starts at 1.0.0.
func ResolveVersion(latest, override *schema.SemanticVersion, diff *Diff) (schema.SemanticVersion, error) {
	if override != nil {
		if latest != nil && override.Compare(*latest) <= 0 {
			return schema.SemanticVersion{}, fmt.Errorf("%w: %s is not greater than %s", ErrVersionNotIncreasing, override, latest)
		}
		return *override, nil
	}
	if latest == nil {
		return InitialVersion, nil
	}
	return NextVersion(*latest, diff), nil
}
