package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// jsonSchemaBuilder turns a decoded JSON Schema document into a field tree.
type jsonSchemaBuilder struct {
	root     any
	maxDepth int
	// resolving holds the local $ref pointers currently being expanded.
	resolving   map[string]bool
	references  []string
	definitions []string
}

func (n *Normalizer) normalizeJSONSchema(raw []byte) (*NormalizedSchema, error) {
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, jsonSyntaxError(FormatJSON, raw, err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		if b, isBool := doc.(bool); isBool {
			// true and false are valid schemas that accept everything or nothing
			obj = map[string]any{}
			if !b {
				obj["not"] = map[string]any{}
			}
		} else {
			return nil, &ParseError{Format: FormatJSON, Message: "JSON Schema document must be an object or boolean"}
		}
	}

	canonical, err := canonicalValue(doc)
	if err != nil {
		return nil, &ParseError{Format: FormatJSON, Message: err.Error(), Cause: err}
	}

	b := &jsonSchemaBuilder{
		root:      doc,
		maxDepth:  n.config.MaxExpansionDepth,
		resolving: make(map[string]bool),
	}
	for _, key := range []string{"definitions", "$defs"} {
		if defs, ok := obj[key].(map[string]any); ok {
			for name := range defs {
				b.definitions = append(b.definitions, "#/"+key+"/"+name)
			}
		}
	}

	root, err := b.build(obj, 0)
	if err != nil {
		return nil, err
	}

	return &NormalizedSchema{
		Root:        root,
		Canonical:   canonical,
		Source:      canonical,
		References:  b.references,
		Definitions: b.definitions,
	}, nil
}

func (b *jsonSchemaBuilder) build(obj map[string]any, depth int) (*Node, error) {
	if ref, ok := obj["$ref"].(string); ok {
		return b.buildRef(ref, obj, depth)
	}

	node := &Node{Kind: KindAny, Type: "any"}
	if def, ok := obj["default"]; ok {
		node.HasDefault = true
		node.Default = normalizeDefault(def)
	}
	node.Constraints = jsonConstraints(obj)

	types, nullable, err := jsonTypes(obj)
	if err != nil {
		return nil, err
	}
	node.Nullable = nullable

	switch {
	case len(types) > 1:
		node.Kind = KindUnion
		node.Type = "union"
		for _, t := range types {
			variant, err := b.buildTyped(t, obj, depth)
			if err != nil {
				return nil, err
			}
			node.Variants = append(node.Variants, variant)
		}
		return node, nil
	case len(types) == 1:
		typed, err := b.buildTyped(types[0], obj, depth)
		if err != nil {
			return nil, err
		}
		typed.HasDefault, typed.Default, typed.Nullable = node.HasDefault, node.Default, node.Nullable
		return typed, nil
	}

	for _, key := range []string{"oneOf", "anyOf"} {
		if alts, ok := obj[key].([]any); ok {
			node.Kind = KindUnion
			node.Type = "union"
			for i, alt := range alts {
				altObj, ok := alt.(map[string]any)
				if !ok {
					return nil, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("%s[%d] must be an object", key, i)}
				}
				variant, err := b.build(altObj, depth+1)
				if err != nil {
					return nil, err
				}
				if variant.Type == "null" {
					node.Nullable = true
				}
				node.Variants = append(node.Variants, variant)
			}
			return node, nil
		}
	}

	if all, ok := obj["allOf"].([]any); ok {
		return b.buildAllOf(all, node, depth)
	}
	return node, nil
}

// buildTyped builds a node for one concrete JSON Schema type keyword.
func (b *jsonSchemaBuilder) buildTyped(t string, obj map[string]any, depth int) (*Node, error) {
	node := &Node{Kind: KindScalar, Type: t, Constraints: jsonConstraints(obj)}
	switch t {
	case "object":
		props, hasProps := obj["properties"].(map[string]any)
		if extra, ok := obj["additionalProperties"].(map[string]any); ok && !hasProps {
			values, err := b.build(extra, depth+1)
			if err != nil {
				return nil, err
			}
			node.Kind = KindMap
			node.Type = "map"
			node.Keys = &Node{Kind: KindScalar, Type: "string"}
			node.Values = values
			return node, nil
		}
		node.Kind = KindRecord
		fields, err := b.buildProperties(props, requiredSet(obj), depth)
		if err != nil {
			return nil, err
		}
		node.Fields = fields
	case "array":
		node.Kind = KindArray
		switch items := obj["items"].(type) {
		case map[string]any:
			item, err := b.build(items, depth+1)
			if err != nil {
				return nil, err
			}
			node.Items = item
		case []any:
			tuple := &Node{Kind: KindUnion, Type: "tuple"}
			for i, it := range items {
				itObj, ok := it.(map[string]any)
				if !ok {
					return nil, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("items[%d] must be an object", i)}
				}
				variant, err := b.build(itObj, depth+1)
				if err != nil {
					return nil, err
				}
				variant.Name = strconv.Itoa(i)
				tuple.Variants = append(tuple.Variants, variant)
			}
			node.Items = tuple
		default:
			node.Items = &Node{Kind: KindAny, Type: "any"}
		}
	}
	return node, nil
}

func (b *jsonSchemaBuilder) buildProperties(props map[string]any, required map[string]bool, depth int) ([]*Node, error) {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]*Node, 0, len(names))
	for _, name := range names {
		propObj, ok := props[name].(map[string]any)
		if !ok {
			if bv, isBool := props[name].(bool); isBool {
				propObj = map[string]any{}
				if !bv {
					propObj["not"] = map[string]any{}
				}
			} else {
				return nil, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("property %q must be an object", name)}
			}
		}
		field, err := b.build(propObj, depth+1)
		if err != nil {
			return nil, err
		}
		field.Name = name
		field.Required = required[name]
		fields = append(fields, field)
	}
	return fields, nil
}

// buildAllOf merges the properties of every sub-schema into one record.
func (b *jsonSchemaBuilder) buildAllOf(all []any, base *Node, depth int) (*Node, error) {
	merged := &Node{Kind: KindRecord, Type: "object", HasDefault: base.HasDefault, Default: base.Default, Constraints: base.Constraints}
	for i, part := range all {
		partObj, ok := part.(map[string]any)
		if !ok {
			return nil, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("allOf[%d] must be an object", i)}
		}
		sub, err := b.build(partObj, depth+1)
		if err != nil {
			return nil, err
		}
		if sub.Kind != KindRecord {
			if len(all) == 1 {
				return sub, nil
			}
			continue
		}
		for _, f := range sub.Fields {
			if existing := merged.Field(f.Name); existing != nil {
				existing.Required = existing.Required || f.Required
				continue
			}
			merged.Fields = append(merged.Fields, f)
		}
	}
	sort.Slice(merged.Fields, func(i, j int) bool { return merged.Fields[i].Name < merged.Fields[j].Name })
	return merged, nil
}

func (b *jsonSchemaBuilder) buildRef(ref string, obj map[string]any, depth int) (*Node, error) {
	if !strings.HasPrefix(ref, "#") {
		b.references = append(b.references, ref)
		return &Node{Kind: KindRef, Type: "ref", Ref: ref}, nil
	}
	if b.resolving[ref] || depth >= b.maxDepth {
		return &Node{Kind: KindRef, Type: "ref", Ref: ref}, nil
	}

	target, ok := resolvePointer(b.root, strings.TrimPrefix(ref, "#"))
	if !ok {
		// dangling local pointer; left for the validator to report
		b.references = append(b.references, ref)
		return &Node{Kind: KindRef, Type: "ref", Ref: ref}, nil
	}
	targetObj, ok := target.(map[string]any)
	if !ok {
		return nil, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("$ref %q does not point at a schema object", ref)}
	}

	b.resolving[ref] = true
	defer delete(b.resolving, ref)

	node, err := b.build(targetObj, depth+1)
	if err != nil {
		return nil, err
	}
	if def, ok := obj["default"]; ok {
		node.HasDefault = true
		node.Default = normalizeDefault(def)
	}
	return node, nil
}

// resolvePointer walks a JSON pointer (RFC 6901) through a decoded document.
func resolvePointer(doc any, pointer string) (any, bool) {
	if pointer == "" || pointer == "/" {
		return doc, true
	}
	cur := doc
	for _, token := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[token]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(token)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// jsonTypes returns the declared non-null types and whether null is allowed.
func jsonTypes(obj map[string]any) ([]string, bool, error) {
	var types []string
	nullable := false
	switch t := obj["type"].(type) {
	case nil:
		if _, ok := obj["properties"]; ok {
			types = []string{"object"}
		} else if _, ok := obj["items"]; ok {
			types = []string{"array"}
		}
	case string:
		if t == "null" {
			return []string{"null"}, true, nil
		}
		types = []string{t}
	case []any:
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false, &ParseError{Format: FormatJSON, Message: fmt.Sprintf("type[%d] must be a string", i)}
			}
			if s == "null" {
				nullable = true
				continue
			}
			types = append(types, s)
		}
		sort.Strings(types)
		if len(types) == 0 && nullable {
			types = []string{"null"}
		}
	default:
		return nil, false, &ParseError{Format: FormatJSON, Message: "type must be a string or an array of strings"}
	}
	return types, nullable, nil
}

func requiredSet(obj map[string]any) map[string]bool {
	out := make(map[string]bool)
	if list, ok := obj["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func jsonConstraints(obj map[string]any) *Constraints {
	c := &Constraints{
		Minimum:   jsonFloat(obj["minimum"]),
		Maximum:   jsonFloat(obj["maximum"]),
		MinLength: jsonInt(obj["minLength"]),
		MaxLength: jsonInt(obj["maxLength"]),
		MinItems:  jsonInt(obj["minItems"]),
		MaxItems:  jsonInt(obj["maxItems"]),
	}

	// draft-04 expresses exclusivity as a boolean modifier on minimum/maximum
	switch v := obj["exclusiveMinimum"].(type) {
	case bool:
		if v && c.Minimum != nil {
			c.ExclusiveMinimum, c.Minimum = c.Minimum, nil
		}
	default:
		c.ExclusiveMinimum = jsonFloat(v)
	}
	switch v := obj["exclusiveMaximum"].(type) {
	case bool:
		if v && c.Maximum != nil {
			c.ExclusiveMaximum, c.Maximum = c.Maximum, nil
		}
	default:
		c.ExclusiveMaximum = jsonFloat(v)
	}

	if p, ok := obj["pattern"].(string); ok {
		c.Pattern = p
	}
	if f, ok := obj["format"].(string); ok {
		c.Format = f
	}
	if values, ok := obj["enum"].([]any); ok {
		for _, v := range values {
			c.Enum = append(c.Enum, canonicalLiteral(v))
		}
		c.Enum = dedupeSorted(c.Enum)
	}
	if v, ok := obj["const"]; ok {
		c.Enum = []string{canonicalLiteral(v)}
	}

	if c.IsZero() {
		return nil
	}
	return c
}

func jsonFloat(v any) *float64 {
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func jsonInt(v any) *int64 {
	f := jsonFloat(v)
	if f == nil {
		return nil
	}
	i := int64(*f)
	return &i
}
