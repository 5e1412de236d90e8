package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// readSchema reads a schema file. An empty formatName picks the format from
// the file extension, then from the content.
func readSchema(path, formatName string) ([]byte, schema.Format, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if formatName != "" {
		format, err := schema.ParseFormat(formatName)
		if err != nil {
			return nil, 0, err
		}
		return raw, format, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".avsc":
		return raw, schema.FormatAvro, nil
	case ".proto":
		return raw, schema.FormatProtobuf, nil
	}
	format, err := schema.DetectFormat(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w (use --format)", path, err)
	}
	return raw, format, nil
}

func parseOutput(s string) (string, error) {
	switch s {
	case "text", "json":
		return s, nil
	}
	return "", fmt.Errorf("unknown output format %q: expected text or json", s)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
