package schema

import (
	"fmt"
	"strings"
	"time"
)

const subjectReserved = "/:@ \t\r\n"

// Subject identifies a schema lineage across versions.
type Subject struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (s Subject) String() string {
	return s.Namespace + "/" + s.Name
}

// Validate checks that both parts of the subject are present and well formed.
func (s Subject) Validate() error {
	if strings.TrimSpace(s.Namespace) == "" {
		return fmt.Errorf("namespace is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	// ':' separates the parts of lock and cache keys, '/' and '@' the parts of a ref.
	if strings.ContainsAny(s.Namespace, subjectReserved) || strings.ContainsAny(s.Name, subjectReserved) {
		return fmt.Errorf("namespace and name must not contain whitespace or any of %q", "/:@")
	}
	return nil
}

// Version returns the Ref of this subject at version v.
func (s Subject) Version(v SemanticVersion) Ref {
	return Ref{Namespace: s.Namespace, Name: s.Name, Version: v}
}

// Ref identifies one schema version.
type Ref struct {
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	Version   SemanticVersion `json:"version"`
}

// Subject returns the lineage this version belongs to.
func (r Ref) Subject() Subject {
	return Subject{Namespace: r.Namespace, Name: r.Name}
}

func (r Ref) String() string {
	return r.Namespace + "/" + r.Name + "@" + r.Version.String()
}

// Key is the lock and cache key for this version.
func (r Ref) Key() string {
	return r.Namespace + ":" + r.Name + ":" + r.Version.String()
}

// ParseRef parses "namespace/name@version".
func ParseRef(s string) (Ref, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return Ref{}, fmt.Errorf("invalid schema ref %q: missing version", s)
	}
	slash := strings.Index(s[:at], "/")
	if slash < 0 {
		return Ref{}, fmt.Errorf("invalid schema ref %q: missing namespace", s)
	}
	v, err := ParseVersion(s[at+1:])
	if err != nil {
		return Ref{}, fmt.Errorf("invalid schema ref %q: %w", s, err)
	}
	ref := Ref{Namespace: s[:slash], Name: s[slash+1 : at], Version: v}
	if err := ref.Subject().Validate(); err != nil {
		return Ref{}, fmt.Errorf("invalid schema ref %q: %w", s, err)
	}
	return ref, nil
}

// Schema is an immutable, registered schema version.
type Schema struct {
	Ref               Ref               `json:"ref"`
	Format            Format            `json:"format"`
	Content           []byte            `json:"content"`
	Canonical         []byte            `json:"canonical"`
	Fingerprint       string            `json:"fingerprint"`
	Description       string            `json:"description,omitempty"`
	CompatibilityMode string            `json:"compatibility_mode"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	Examples          []string          `json:"examples,omitempty"`
	References        []Ref             `json:"references,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	CreatedBy         string            `json:"created_by"`
}

// SchemaInput is a registration request.
type SchemaInput struct {
	Namespace         string            `json:"namespace"`
	Name              string            `json:"name"`
	Format            Format            `json:"format"`
	Content           string            `json:"content"`
	Version           *SemanticVersion  `json:"version,omitempty"`
	Description       string            `json:"description,omitempty"`
	CompatibilityMode string            `json:"compatibility_mode,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	Examples          []string          `json:"examples,omitempty"`
	References        []Ref             `json:"references,omitempty"`
	AutoActivate      bool              `json:"auto_activate,omitempty"`
}

// Subject returns the lineage the input registers into.
func (in SchemaInput) Subject() Subject {
	return Subject{Namespace: in.Namespace, Name: in.Name}
}

// DeprecationInfo is recorded when a version is deprecated.
type DeprecationInfo struct {
	Reason         string    `json:"reason"`
	DeprecatedAt   time.Time `json:"deprecated_at"`
	DeprecatedBy   string    `json:"deprecated_by"`
	SunsetDate     time.Time `json:"sunset_date"`
	MigrationGuide string    `json:"migration_guide,omitempty"`
	Replacement    *Ref      `json:"replacement,omitempty"`
}

// Due reports whether the sunset date has been reached at now.
func (d *DeprecationInfo) Due(now time.Time) bool {
	return d != nil && !now.Before(d.SunsetDate)
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	out.Content = append([]byte(nil), s.Content...)
	out.Canonical = append([]byte(nil), s.Canonical...)
	out.Tags = append([]string(nil), s.Tags...)
	out.Examples = append([]string(nil), s.Examples...)
	out.References = append([]Ref(nil), s.References...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// DependsOn reports whether s lists ref among its references.
func (s *Schema) DependsOn(ref Ref) bool {
	for _, r := range s.References {
		if r.Namespace == ref.Namespace && r.Name == ref.Name && r.Version.Compare(ref.Version) == 0 {
			return true
		}
	}
	return false
}
