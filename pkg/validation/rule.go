package validation

import (
	"path"
	"strings"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// Rule is a single validation check
type Rule interface {
	Name() string
	Category() Category
	Severity() Severity
	Description() string
	Check(ns *schema.NormalizedSchema, rc *RuleContext) []Finding
}

// RuleContext carries per-run inputs to rules
type RuleContext struct {
	Config *Config
	// References are names of schemas the caller declared as available.
	References []string
	// Examples are JSON-encoded sample payloads.
	Examples []string
}

// Limits returns the configured limits, falling back to defaults
func (rc *RuleContext) Limits() Limits {
	if rc == nil || rc.Config == nil {
		return DefaultConfig().Limits
	}
	return rc.Config.Limits
}

// KnowsReference reports whether ref was declared by the caller. A reference
// matches a declared name exactly, by path or package suffix, or by its file
// name without extension: "common/address.proto" is satisfied by
// "address.proto", "com.acme.Address" by "Address" and
// "https://x.io/address.json#/defs/a" by "address".
func (rc *RuleContext) KnowsReference(ref string) bool {
	if rc == nil {
		return false
	}
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
	}
	base := path.Base(ref)
	stem := strings.TrimSuffix(base, path.Ext(base))

	for _, known := range rc.References {
		if known == "" {
			continue
		}
		switch {
		case ref == known,
			strings.HasSuffix(ref, "/"+known),
			strings.HasSuffix(ref, "."+known),
			strings.HasSuffix(known, "/"+ref),
			strings.HasSuffix(known, "."+ref),
			stem != "" && stem == known:
			return true
		}
	}
	return false
}
