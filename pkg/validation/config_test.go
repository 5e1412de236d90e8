package validation

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.Limits.MaxDepth)
	assert.Equal(t, 1<<20, cfg.Limits.MaxSizeBytes)
	assert.False(t, cfg.FailFast)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
version: v1
limits:
  max_depth: 12
disabled_rules:
  - NAMING_FIELD_CASE
severity_overrides:
  AVRO_RESERVED_FIELD_NAME: ERROR
fail_fast: true
`))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Limits.MaxDepth)
	assert.Equal(t, DefaultMaxSizeBytes, cfg.Limits.MaxSizeBytes)
	assert.True(t, cfg.IsDisabled("NAMING_FIELD_CASE"))
	assert.False(t, cfg.IsDisabled("SEMANTIC_MAX_SIZE"))
	assert.True(t, cfg.FailFast)

	sev, ok := cfg.SeverityFor(&stubRule{name: "AVRO_RESERVED_FIELD_NAME", category: CategoryFormat})
	assert.True(t, ok)
	assert.Equal(t, SeverityError, sev)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("severity_overrides:\n  X: FATAL\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("limits: [1, 2"))
	assert.Error(t, err)
}

func TestSeverityFor_NamingClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeverityOverrides["NAMING_RECORD_CASE"] = SeverityError
	cfg.SeverityOverrides["NAMING_FIELD_CASE"] = SeverityInfo

	sev, ok := cfg.SeverityFor(&stubRule{name: "NAMING_RECORD_CASE", category: CategoryNaming})
	assert.True(t, ok)
	assert.Equal(t, SeverityWarning, sev)

	sev, _ = cfg.SeverityFor(&stubRule{name: "NAMING_FIELD_CASE", category: CategoryNaming})
	assert.Equal(t, SeverityInfo, sev)

	_, ok = cfg.SeverityFor(&stubRule{name: "OTHER", category: CategorySemantic})
	assert.False(t, ok)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "validation.yaml")
	cfg := DefaultConfig()
	cfg.FailFast = true
	cfg.DisabledRules = []string{"SEMANTIC_MAX_DEPTH"}

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	clone := loaded.Clone()
	clone.DisabledRules[0] = "changed"
	assert.Equal(t, "SEMANTIC_MAX_DEPTH", loaded.DisabledRules[0])
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" warning ")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, sev)

	_, err = ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestConfigWatcher_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fail_fast: false\n"), 0o644))

	w, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close(context.Background()) }()

	assert.False(t, w.Config().FailFast)

	writeConfigFile(t, path, "fail_fast: true\n")
	assert.Eventually(t, func() bool {
		return w.Config().FailFast
	}, 5*time.Second, 20*time.Millisecond)

	// a broken file keeps the previous config
	writeConfigFile(t, path, "limits: [oops")
	time.Sleep(100 * time.Millisecond)
	assert.True(t, w.Config().FailFast)
}

func TestConfigWatcher_DrivesValidator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("disabled_rules: []\n"), 0o644))

	w, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close(context.Background()) }()

	var reloads int32
	w.OnReload(func(*Config) { atomic.AddInt32(&reloads, 1) })

	registry := NewRegistry()
	registry.Register(errorRule("A"))
	v := NewValidator(registry, WithConfigWatcher(w))
	assert.Equal(t, []string{"A"}, v.Validate(context.Background(), testSchema(t), Options{}).RulesRun)

	writeConfigFile(t, path, "disabled_rules: [A]\n")
	assert.Eventually(t, func() bool {
		return len(v.Validate(context.Background(), testSchema(t), Options{}).RulesRun) == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Positive(t, atomic.LoadInt32(&reloads))
}

func TestConfigWatcher_ReloadNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fail_fast: true\n"), 0o644))

	w, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close(context.Background()) }()

	var first, second *Config
	w.OnReload(func(c *Config) { first = c })
	w.OnReload(func(c *Config) { second = c })

	require.NoError(t, w.Reload())
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Same(t, w.Config(), first)
	assert.True(t, first.FailFast)
}

func TestNewConfigWatcher_MissingFile(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

// writeConfigFile replaces path atomically so the watcher never sees a
// truncated file
func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}
