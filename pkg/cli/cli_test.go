package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/validation"
)

const (
	userV1       = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"}},"required":["id","email"]}`
	userV2       = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"},"locale":{"type":"string","default":"en"}},"required":["id","email"]}`
	userBreaking = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"},"phone":{"type":"string"}},"required":["id","email","phone"]}`
	userInvalid  = `{"type":"object","properties":{"id":{"type":"string"},"age":{"type":"integer","minimum":10,"maximum":5}}}`

	userAvro = `{"type":"record","name":"User","namespace":"com.acme","fields":[{"name":"id","type":"string"}]}`
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	err := NewRootCommand(&out).Execute(args)
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	out, err := execute()
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: lineage-check <command> [args]")
	assert.Contains(t, out, "validate")
	assert.Contains(t, out, "check")
	assert.Contains(t, out, "normalize")

	_, err = execute("--help")
	assert.NoError(t, err)

	_, err = execute("publish")
	assert.EqualError(t, err, "unknown command: publish")
}

func TestValidateCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"user.json":    userV1,
		"invalid.json": userInvalid,
		"user.avsc":    userAvro,
		"broken.json":  `{"type":`,
		"rules.yaml":   "fail_fast: true\n",
	})
	path := func(name string) string { return filepath.Join(dir, name) }

	tests := []struct {
		name     string
		args     []string
		wantErr  error
		contains []string
	}{
		{
			name:    "no files",
			args:    []string{"validate"},
			wantErr: assert.AnError,
		},
		{
			name:     "valid json schema",
			args:     []string{"validate", path("user.json")},
			contains: []string{"user.json: VALID"},
		},
		{
			name:     "avro by extension",
			args:     []string{"validate", path("user.avsc")},
			contains: []string{"user.avsc: VALID"},
		},
		{
			name:     "conflicting constraints",
			args:     []string{"validate", path("user.json"), path("invalid.json")},
			wantErr:  ErrCheckFailed,
			contains: []string{"user.json: VALID", "invalid.json: INVALID"},
		},
		{
			name:     "parse error",
			args:     []string{"validate", "--format", "JSON", path("broken.json")},
			wantErr:  ErrCheckFailed,
			contains: []string{validation.RuleParseError},
		},
		{
			name:     "rules file",
			args:     []string{"validate", "--rules", path("rules.yaml"), path("user.json")},
			contains: []string{"VALID"},
		},
		{
			name:    "missing rules file",
			args:    []string{"validate", "--rules", path("nope.yaml"), path("user.json")},
			wantErr: assert.AnError,
		},
		{
			name:    "unknown format",
			args:    []string{"validate", "--format", "xml", path("user.json")},
			wantErr: assert.AnError,
		},
		{
			name:    "unknown output",
			args:    []string{"validate", "--output", "yaml", path("user.json")},
			wantErr: assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(tt.args...)
			switch tt.wantErr {
			case nil:
				require.NoError(t, err)
			case assert.AnError:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrCheckFailed)
			default:
				require.ErrorIs(t, err, tt.wantErr)
			}
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestValidateCommand_JSONOutput(t *testing.T) {
	dir := writeFiles(t, map[string]string{"invalid.json": userInvalid})
	path := filepath.Join(dir, "invalid.json")

	out, err := execute("validate", "--output", "json", path)
	require.ErrorIs(t, err, ErrCheckFailed)

	var reports map[string]validation.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Contains(t, reports, path)
	assert.False(t, reports[path].Valid)
	assert.NotEmpty(t, reports[path].Errors)
}

func TestCheckCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"v1.json":       userV1,
		"v2.json":       userV2,
		"breaking.json": userBreaking,
		"user.avsc":     userAvro,
	})
	path := func(name string) string { return filepath.Join(dir, name) }

	t.Run("compatible", func(t *testing.T) {
		out, err := execute("check", "--previous", path("v1.json"), path("v2.json"))
		require.NoError(t, err)
		assert.Contains(t, out, "Result:  COMPATIBLE")
		assert.Contains(t, out, "Checked: 1.0.0")
	})

	t.Run("breaking", func(t *testing.T) {
		out, err := execute("check", "--previous", path("v1.json"), path("breaking.json"))
		require.ErrorIs(t, err, ErrCheckFailed)
		assert.Contains(t, out, "Result:  INCOMPATIBLE")
		assert.Contains(t, out, "REQUIRED_ADDED")
		assert.Contains(t, out, "vs 1.0.0")
	})

	t.Run("mode none", func(t *testing.T) {
		_, err := execute("check", "--mode", "NONE", "--previous", path("v1.json"), path("breaking.json"))
		assert.NoError(t, err)
	})

	t.Run("transitive checks every previous version", func(t *testing.T) {
		out, err := execute("check", "--mode", "backward_transitive", "--output", "json",
			"--previous", path("v1.json")+","+path("v2.json"), path("v2.json"))
		require.NoError(t, err)

		var result compatibility.Result
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.True(t, result.Compatible)
		assert.Equal(t, compatibility.ModeBackwardTransitive, result.Mode)
		require.Len(t, result.CheckedVersions, 2)
		assert.Equal(t, "2.0.0", result.CheckedVersions[0].String())
		assert.Equal(t, "1.0.0", result.CheckedVersions[1].String())
	})

	t.Run("format mismatch", func(t *testing.T) {
		_, err := execute("check", "--previous", path("user.avsc"), path("v2.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is AVRO but the new schema is JSON")
	})

	t.Run("usage errors", func(t *testing.T) {
		_, err := execute("check", path("v2.json"))
		assert.EqualError(t, err, "--previous is required")

		_, err = execute("check", "--previous", path("v1.json"))
		assert.EqualError(t, err, "exactly one new schema file is required")

		_, err = execute("check", "--mode", "SIDEWAYS", "--previous", path("v1.json"), path("v2.json"))
		assert.Error(t, err)
	})
}

func TestNormalizeCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.json": userV1,
		// same document, different key order and whitespace
		"b.json": `{ "required": ["id","email"], "properties": {"email": {"type":"string"}, "id": {"type":"string"}}, "type": "object" }`,
	})

	a, err := execute("normalize", "--fingerprint", filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	b, err := execute("normalize", "--fingerprint", filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)

	out, err := execute("normalize", filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "format:      JSON")
	assert.Contains(t, out, "fingerprint: ")

	_, err = execute("normalize", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
