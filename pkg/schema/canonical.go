package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize re-encodes a JSON document with sorted object keys, no
// insignificant whitespace and normalized number literals.
func Canonicalize(doc []byte) ([]byte, error) {
	v, err := decodeJSON(doc)
	if err != nil {
		return nil, err
	}
	return canonicalValue(v)
}

// Fingerprint returns the lowercase hex SHA-256 digest of canonical bytes.
func Fingerprint(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func decodeJSON(doc []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

// canonicalValue encodes any JSON-compatible value canonically. Structs are
// routed through encoding/json first so their tags decide the key names.
func canonicalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case json.Number:
		n, err := normalizeNumber(string(val))
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case float64:
		buf.WriteString(formatFloat(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to encode %T: %w", v, err)
		}
		decoded, err := decodeJSON(raw)
		if err != nil {
			return err
		}
		return writeCanonical(buf, decoded)
	}
	return nil
}

// maxNumberBits is the binary exponent of the largest finite float64
const maxNumberBits = 1024

// normalizeNumber rewrites a JSON number literal so that equal values have
// equal text: integral values print without fraction or exponent.
func normalizeNumber(lit string) (string, error) {
	if !strings.ContainsAny(lit, ".eE") {
		i, ok := new(big.Int).SetString(lit, 10)
		if !ok {
			return "", fmt.Errorf("invalid number literal %q", lit)
		}
		return i.String(), nil
	}

	f, ok := new(big.Float).SetPrec(256).SetString(lit)
	if !ok {
		return "", fmt.Errorf("invalid number literal %q", lit)
	}
	// Magnitudes beyond float64 are rejected before an exponent can expand
	// into an arbitrarily long digit string.
	if f.IsInf() || f.MantExp(nil) > maxNumberBits {
		return "", fmt.Errorf("number literal %q is out of range", lit)
	}
	if f.IsInt() {
		i, _ := f.Int(nil)
		return i.String(), nil
	}
	f64, _ := f.Float64()
	return formatFloat(f64), nil
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// normalizeDefault converts decoded default values so they encode
// canonically and compare with reflect.DeepEqual.
func normalizeDefault(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := normalizeNumber(string(val)); err == nil {
			return json.Number(n)
		}
		return val
	case float64:
		return json.Number(formatFloat(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeDefault(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeDefault(item)
		}
		return out
	}
	return v
}

// canonicalLiteral renders a scalar value as canonical JSON text; used for
// enum members so values of any JSON type compare as strings.
func canonicalLiteral(v any) string {
	b, err := canonicalValue(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
