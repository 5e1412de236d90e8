package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

var avroPrimitives = map[string]bool{
	"null": true, "boolean": true, "int": true, "long": true,
	"float": true, "double": true, "bytes": true, "string": true,
}

// avroBuilder turns a decoded Avro schema into a field tree. Named types are
// expanded inline at every use; a recursive use becomes a reference node.
type avroBuilder struct {
	named      map[string]map[string]any
	expanding  map[string]bool
	maxDepth   int
	references []string
}

func (n *Normalizer) normalizeAvro(raw []byte) (*NormalizedSchema, error) {
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, jsonSyntaxError(FormatAvro, raw, err)
	}

	canonical, err := canonicalValue(doc)
	if err != nil {
		return nil, &ParseError{Format: FormatAvro, Message: err.Error(), Cause: err}
	}

	b := &avroBuilder{
		named:     make(map[string]map[string]any),
		expanding: make(map[string]bool),
		maxDepth:  n.config.MaxExpansionDepth,
	}
	if err := b.collectNamed(doc, ""); err != nil {
		return nil, err
	}

	root, err := b.build(doc, "", 0)
	if err != nil {
		return nil, err
	}

	defs := make([]string, 0, len(b.named))
	for name := range b.named {
		defs = append(defs, name)
	}

	return &NormalizedSchema{
		Root:        root,
		Canonical:   canonical,
		Source:      canonical,
		References:  b.references,
		Definitions: defs,
	}, nil
}

// collectNamed records every named type definition with its full name so
// references that appear before or after the definition both resolve.
func (b *avroBuilder) collectNamed(t any, namespace string) error {
	switch v := t.(type) {
	case []any:
		for _, item := range v {
			if err := b.collectNamed(item, namespace); err != nil {
				return err
			}
		}
	case map[string]any:
		typ, _ := v["type"].(string)
		switch typ {
		case "record", "error", "enum", "fixed":
			name, ok := v["name"].(string)
			if !ok || name == "" {
				return &ParseError{Format: FormatAvro, Message: fmt.Sprintf("%s type requires a name", typ)}
			}
			full, ns := avroFullName(name, stringField(v, "namespace"), namespace)
			b.named[full] = v
			if typ == "record" || typ == "error" {
				fields, _ := v["fields"].([]any)
				for _, f := range fields {
					if fobj, ok := f.(map[string]any); ok {
						if err := b.collectNamed(fobj["type"], ns); err != nil {
							return err
						}
					}
				}
			}
		case "array":
			return b.collectNamed(v["items"], namespace)
		case "map":
			return b.collectNamed(v["values"], namespace)
		default:
			if nested, ok := v["type"].(map[string]any); ok {
				return b.collectNamed(nested, namespace)
			}
		}
	}
	return nil
}

func (b *avroBuilder) build(t any, namespace string, depth int) (*Node, error) {
	switch v := t.(type) {
	case string:
		return b.buildName(v, namespace, depth)
	case []any:
		return b.buildUnion(v, namespace, depth)
	case map[string]any:
		return b.buildComplex(v, namespace, depth)
	case nil:
		return nil, &ParseError{Format: FormatAvro, Message: "missing type"}
	}
	return nil, &ParseError{Format: FormatAvro, Message: fmt.Sprintf("invalid type declaration of kind %T", t)}
}

func (b *avroBuilder) buildName(name, namespace string, depth int) (*Node, error) {
	if avroPrimitives[name] {
		return &Node{Kind: KindScalar, Type: name}, nil
	}

	full := b.resolveName(name, namespace)
	def, ok := b.named[full]
	if !ok {
		b.references = append(b.references, full)
		return &Node{Kind: KindRef, Type: full, Ref: full}, nil
	}
	if b.expanding[full] || depth >= b.maxDepth {
		return &Node{Kind: KindRef, Type: full, Ref: full}, nil
	}
	return b.buildComplex(def, namespace, depth)
}

func (b *avroBuilder) resolveName(name, namespace string) string {
	if strings.Contains(name, ".") {
		return name
	}
	if namespace != "" {
		if _, ok := b.named[namespace+"."+name]; ok {
			return namespace + "." + name
		}
	}
	return name
}

func (b *avroBuilder) buildUnion(branches []any, namespace string, depth int) (*Node, error) {
	node := &Node{Kind: KindUnion, Type: "union"}
	for _, branch := range branches {
		variant, err := b.build(branch, namespace, depth+1)
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

func (b *avroBuilder) buildComplex(obj map[string]any, namespace string, depth int) (*Node, error) {
	typ, ok := obj["type"]
	if !ok {
		return nil, &ParseError{Format: FormatAvro, Message: "type object is missing the \"type\" attribute"}
	}
	typName, isString := typ.(string)
	if !isString {
		// {"type": {...}} or {"type": [...]} wraps another declaration
		return b.build(typ, namespace, depth)
	}

	switch typName {
	case "record", "error":
		return b.buildRecord(obj, namespace, depth)
	case "enum":
		full, _ := avroFullName(stringField(obj, "name"), stringField(obj, "namespace"), namespace)
		node := &Node{Kind: KindEnum, Type: full, Constraints: &Constraints{}}
		symbols, _ := obj["symbols"].([]any)
		for _, s := range symbols {
			if str, ok := s.(string); ok {
				node.Constraints.Enum = append(node.Constraints.Enum, str)
			}
		}
		sort.Strings(node.Constraints.Enum)
		if def, ok := obj["default"]; ok {
			node.HasDefault = true
			node.Default = normalizeDefault(def)
		}
		return node, nil
	case "fixed":
		full, _ := avroFullName(stringField(obj, "name"), stringField(obj, "namespace"), namespace)
		node := &Node{Kind: KindScalar, Type: "fixed", Ref: full}
		if size, ok := obj["size"].(json.Number); ok {
			if n, err := size.Int64(); err == nil {
				node.Constraints = &Constraints{Size: &n}
			}
		}
		return node, nil
	case "array":
		items, err := b.build(obj["items"], namespace, depth+1)
		if err != nil {
			return nil, withContext(err, "array items")
		}
		return &Node{Kind: KindArray, Type: "array", Items: items}, nil
	case "map":
		values, err := b.build(obj["values"], namespace, depth+1)
		if err != nil {
			return nil, withContext(err, "map values")
		}
		return &Node{Kind: KindMap, Type: "map", Keys: &Node{Kind: KindScalar, Type: "string"}, Values: values}, nil
	}

	node, err := b.buildName(typName, namespace, depth)
	if err != nil {
		return nil, err
	}
	if logical, ok := obj["logicalType"].(string); ok {
		c := &Constraints{Format: logical}
		if node.Constraints != nil {
			copied := *node.Constraints
			copied.Format = logical
			c = &copied
		}
		node.Constraints = c
	}
	return node, nil
}

func (b *avroBuilder) buildRecord(obj map[string]any, namespace string, depth int) (*Node, error) {
	name := stringField(obj, "name")
	full, ns := avroFullName(name, stringField(obj, "namespace"), namespace)

	b.expanding[full] = true
	defer delete(b.expanding, full)

	node := &Node{Kind: KindRecord, Type: full}
	rawFields, ok := obj["fields"].([]any)
	if !ok {
		return nil, &ParseError{Format: FormatAvro, Message: fmt.Sprintf("record %q requires a fields array", full)}
	}

	for i, rf := range rawFields {
		fobj, ok := rf.(map[string]any)
		if !ok {
			return nil, &ParseError{Format: FormatAvro, Message: fmt.Sprintf("record %q field %d must be an object", full, i)}
		}
		field, err := b.build(fobj["type"], ns, depth+1)
		if err != nil {
			return nil, withContext(err, "record %q field %d", full, i)
		}
		// copy so an expanded named type shared by several fields keeps its
		// own name and default per use
		f := *field
		f.Name = stringField(fobj, "name")
		f.HasDefault = false
		f.Default = nil
		if def, ok := fobj["default"]; ok {
			f.HasDefault = true
			f.Default = normalizeDefault(def)
		}
		f.Required = !f.HasDefault
		node.Fields = append(node.Fields, &f)
	}
	return node, nil
}

// avroFullName applies Avro namespace rules and returns the full name and
// the namespace that nested definitions inherit.
func avroFullName(name, explicitNS, enclosingNS string) (string, string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name, name[:i]
	}
	ns := explicitNS
	if ns == "" {
		ns = enclosingNS
	}
	if ns == "" {
		return name, ""
	}
	return ns + "." + name, ns
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
