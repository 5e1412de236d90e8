package validation

import (
	"fmt"
	"strings"
	"time"
)

// Severity indicates how serious a finding is
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity parses a severity name case-insensitively
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Category groups related rules
type Category string

const (
	CategoryStructural Category = "structural"
	CategorySemantic   Category = "semantic"
	CategoryNaming     Category = "naming"
	CategoryFormat     Category = "format"
	CategoryExamples   Category = "examples"
)

// Rule names emitted by the validator itself rather than by a rule
const (
	RuleParseError  = "PARSE_ERROR"
	RuleRuleFailure = "RULE_FAILURE"
)

// Finding is a single problem reported by a rule
type Finding struct {
	Rule       string   `json:"rule"`
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Location   string   `json:"location,omitempty"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (f Finding) String() string {
	if f.Location == "" {
		return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Rule, f.Message)
	}
	return fmt.Sprintf("[%s] %s at %s: %s", f.Severity, f.Rule, f.Location, f.Message)
}

// Report is the outcome of a validation run
type Report struct {
	Valid    bool          `json:"valid"`
	Errors   []Finding     `json:"errors"`
	Warnings []Finding     `json:"warnings"`
	Infos    []Finding     `json:"infos,omitempty"`
	RulesRun []string      `json:"rules_run"`
	Duration time.Duration `json:"duration"`
}

func newReport() *Report {
	return &Report{
		Errors:   make([]Finding, 0),
		Warnings: make([]Finding, 0),
		RulesRun: make([]string, 0),
	}
}

func (r *Report) add(f Finding) {
	switch f.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, f)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f)
	default:
		r.Infos = append(r.Infos, f)
	}
}

// Findings returns errors, then warnings, then infos
func (r *Report) Findings() []Finding {
	out := make([]Finding, 0, len(r.Errors)+len(r.Warnings)+len(r.Infos))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	return append(out, r.Infos...)
}

// HasRule reports whether any finding was produced by the named rule
func (r *Report) HasRule(name string) bool {
	for _, f := range r.Findings() {
		if f.Rule == name {
			return true
		}
	}
	return false
}

// Summary renders a one-line description of the errors, used in rejections
func (r *Report) Summary() string {
	if len(r.Errors) == 0 {
		return "valid"
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, f := range r.Errors {
		msgs = append(msgs, f.String())
	}
	return strings.Join(msgs, "; ")
}
