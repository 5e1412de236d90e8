package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Format is the serialization format of a schema. The set is closed: every
// switch over Format handles all three variants.
type Format int

const (
	FormatJSON Format = iota + 1
	FormatAvro
	FormatProtobuf
)

var formatNames = map[Format]string{
	FormatJSON:     "JSON",
	FormatAvro:     "AVRO",
	FormatProtobuf: "PROTOBUF",
}

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatAvro, FormatProtobuf}
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JSON", "JSON_SCHEMA", "JSONSCHEMA":
		return FormatJSON, nil
	case "AVRO":
		return FormatAvro, nil
	case "PROTOBUF", "PROTO", "PROTO3":
		return FormatProtobuf, nil
	}
	return 0, fmt.Errorf("unknown schema format: %q", s)
}

// MarshalText encodes the format by name.
func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid schema format %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes a format name.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// DetectFormat guesses the format of raw schema content.
func DetectFormat(raw []byte) (Format, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, fmt.Errorf("cannot detect format of empty content")
	}

	if trimmed[0] != '{' && trimmed[0] != '[' && trimmed[0] != '"' {
		text := string(trimmed)
		if strings.Contains(text, "syntax") || strings.Contains(text, "message ") ||
			strings.Contains(text, "enum ") || strings.HasPrefix(text, "package ") {
			return FormatProtobuf, nil
		}
		return 0, fmt.Errorf("cannot detect format: content is neither JSON nor protobuf")
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return 0, fmt.Errorf("cannot detect format: %w", err)
	}

	switch v := doc.(type) {
	case string, []any:
		// Avro allows a bare primitive name or a top-level union.
		return FormatAvro, nil
	case map[string]any:
		if _, ok := v["$schema"]; ok {
			return FormatJSON, nil
		}
		if t, ok := v["type"].(string); ok {
			switch t {
			case "record", "enum", "fixed", "map":
				return FormatAvro, nil
			}
		}
		if _, ok := v["fields"]; ok {
			return FormatAvro, nil
		}
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("cannot detect format")
}
