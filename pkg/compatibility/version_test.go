package compatibility

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/schema"
)

func TestNextVersion(t *testing.T) {
	current := schema.MustParseVersion("1.4.2")

	tests := []struct {
		name string
		diff *Diff
		want string
	}{
		{"nil diff", nil, "1.4.3"},
		{"no changes", &Diff{}, "1.4.3"},
		{"warning only", &Diff{Violations: []Violation{NewViolationBuilder(KindNameChanged).WithSeverity(SeverityWarning).Build()}}, "1.4.3"},
		{"additive", &Diff{Violations: []Violation{NewViolationBuilder(KindFieldAdded).WithSeverity(SeverityInfo).Build()}}, "1.5.0"},
		{"breaking wins", &Diff{Violations: []Violation{
			NewViolationBuilder(KindEnumValueAdded).WithSeverity(SeverityInfo).Build(),
			NewViolationBuilder(KindFieldRemoved).Build(),
		}}, "2.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextVersion(current, tt.diff).String())
		})
	}
}

func TestNextVersion_DropsPreRelease(t *testing.T) {
	current := schema.MustParseVersion("2.0.0-rc.1+build.5")
	assert.Equal(t, "2.0.1", NextVersion(current, nil).String())
}

func TestComputeDiff_Scenario(t *testing.T) {
	v1 := mustNormalize(t, schema.FormatJSON, userV1)
	v2 := mustNormalize(t, schema.FormatJSON, userV2)
	v3 := mustNormalize(t, schema.FormatJSON, userV3)

	diff := ComputeDiff(v2, v1)
	assert.False(t, diff.HasBreaking())
	assert.True(t, diff.HasAdditive())
	assert.Equal(t, "1.1.0", NextVersion(InitialVersion, diff).String())

	diff = ComputeDiff(v3, v2)
	assert.True(t, diff.HasBreaking())
	assert.Equal(t, "2.0.0", NextVersion(schema.MustParseVersion("1.1.0"), diff).String())

	diff = ComputeDiff(v1, v1.Clone())
	assert.Empty(t, diff.Violations)
}

func TestResolveVersion(t *testing.T) {
	latest := schema.MustParseVersion("1.3.0")
	additive := &Diff{Violations: []Violation{NewViolationBuilder(KindFieldAdded).WithSeverity(SeverityInfo).Build()}}

	got, err := ResolveVersion(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.String())

	got, err = ResolveVersion(&latest, nil, additive)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", got.String())

	override := schema.MustParseVersion("3.0.0")
	got, err = ResolveVersion(&latest, &override, additive)
	require.NoError(t, err)
	assert.Equal(t, "3.0.0", got.String())

	first := schema.MustParseVersion("0.1.0")
	got, err = ResolveVersion(nil, &first, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", got.String())

	for _, s := range []string{"1.3.0", "1.2.9", "1.3.0-beta"} {
		bad := schema.MustParseVersion(s)
		_, err = ResolveVersion(&latest, &bad, nil)
		assert.True(t, errors.Is(err, ErrVersionNotIncreasing), "override %s", s)
	}
}
