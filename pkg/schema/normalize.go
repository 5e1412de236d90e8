package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ParseError reports malformed schema text.
type ParseError struct {
	Format  Format
	Line    int
	Column  int
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s parse error at %d:%d: %s", e.Format, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// NormalizedSchema is the canonical in-memory form of a schema.
type NormalizedSchema struct {
	Format Format
	// Root is the field tree. For Avro and JSON Schema it is the top-level
	// type; for Protobuf it is a file node whose fields are the top-level
	// messages and enums.
	Root *Node
	// Canonical is the byte-stable serialization the fingerprint is taken
	// over.
	Canonical   []byte
	Fingerprint string
	// Source is re-parseable content: the canonical document for JSON-based
	// formats and the original text for Protobuf.
	Source []byte
	// RawSize is the length of the submitted text.
	RawSize int
	// References are external type references (imports, remote $refs,
	// unknown named types).
	References []string
	// Definitions are the fully qualified named types defined locally.
	Definitions []string
}

// Clone returns a copy that shares the immutable tree.
func (n *NormalizedSchema) Clone() *NormalizedSchema {
	out := *n
	return &out
}

// Defines reports whether a named type is defined in the schema itself.
func (n *NormalizedSchema) Defines(name string) bool {
	i := sort.SearchStrings(n.Definitions, name)
	return i < len(n.Definitions) && n.Definitions[i] == name
}

// NormalizationConfig controls tree construction.
type NormalizationConfig struct {
	// MaxExpansionDepth bounds how deep named types are expanded inline
	// before a reference node is emitted instead.
	MaxExpansionDepth int
}

// DefaultNormalizationConfig returns default normalization settings.
func DefaultNormalizationConfig() *NormalizationConfig {
	return &NormalizationConfig{
		MaxExpansionDepth: 64,
	}
}

// Normalizer turns raw schema text into a NormalizedSchema. It is stateless
// and safe for concurrent use.
type Normalizer struct {
	config *NormalizationConfig
}

// NewNormalizer creates a normalizer; nil config means defaults.
func NewNormalizer(config *NormalizationConfig) *Normalizer {
	if config == nil {
		config = DefaultNormalizationConfig()
	}
	return &Normalizer{config: config}
}

// Normalize parses raw in the given format using default settings.
func Normalize(raw []byte, format Format) (*NormalizedSchema, error) {
	return NewNormalizer(nil).Normalize(raw, format)
}

// Normalize parses raw text into a canonical field tree. It either returns
// a complete schema or a *ParseError, never a partial result.
func (n *Normalizer) Normalize(raw []byte, format Format) (*NormalizedSchema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Format: format, Message: "schema content is empty"}
	}

	var (
		ns  *NormalizedSchema
		err error
	)
	switch format {
	case FormatJSON:
		ns, err = n.normalizeJSONSchema(raw)
	case FormatAvro:
		ns, err = n.normalizeAvro(raw)
	case FormatProtobuf:
		ns, err = n.normalizeProtobuf(raw)
	default:
		return nil, &ParseError{Format: format, Message: fmt.Sprintf("unsupported format %s", format)}
	}
	if err != nil {
		return nil, err
	}

	ns.Format = format
	ns.RawSize = len(raw)
	ns.Fingerprint = Fingerprint(ns.Canonical)
	ns.References = dedupeSorted(ns.References)
	ns.Definitions = dedupeSorted(ns.Definitions)
	return ns, nil
}

// FromSchema re-normalizes a stored schema.
func (n *Normalizer) FromSchema(s *Schema) (*NormalizedSchema, error) {
	ns, err := n.Normalize(s.Content, s.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize stored schema %s: %w", s.Ref, err)
	}
	return ns, nil
}

// jsonSyntaxError converts encoding/json errors into a positioned ParseError.
func jsonSyntaxError(format Format, raw []byte, err error) *ParseError {
	pe := &ParseError{Format: format, Message: err.Error(), Cause: err}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		pe.Line, pe.Column = lineColumn(raw, syn.Offset)
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		pe.Line, pe.Column = lineColumn(raw, typ.Offset)
	}
	return pe
}

func lineColumn(raw []byte, offset int64) (int, int) {
	if offset > int64(len(raw)) {
		offset = int64(len(raw))
	}
	line, col := 1, 1
	for _, b := range raw[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// withContext prefixes the message of a ParseError with where it occurred.
func withContext(err error, format string, args ...any) error {
	var pe *ParseError
	if !errors.As(err, &pe) {
		return err
	}
	out := *pe
	out.Message = fmt.Sprintf(format, args...) + ": " + pe.Message
	return &out
}
