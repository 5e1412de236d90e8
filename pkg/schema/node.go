package schema

import "strings"

// Kind is the structural shape of a node in the field tree.
type Kind string

const (
	KindScalar Kind = "scalar"
	KindRecord Kind = "record"
	KindArray  Kind = "array"
	KindMap    Kind = "map"
	KindUnion  Kind = "union"
	KindEnum   Kind = "enum"
	// KindRef is a named type that is not expanded: either an external
	// reference or a recursive use of an enclosing type.
	KindRef Kind = "ref"
	KindAny Kind = "any"
)

// Node is one element of a normalized field tree. Records hold Fields,
// arrays hold Items, maps hold Keys and Values, unions hold Variants. Type is
// the type name in the schema's own format vocabulary (for example "long" for
// Avro, "int64" for Protobuf, "integer" for JSON Schema).
type Node struct {
	Name        string       `json:"name,omitempty"`
	Kind        Kind         `json:"kind"`
	Type        string       `json:"type"`
	Number      int32        `json:"number,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Nullable    bool         `json:"nullable,omitempty"`
	HasDefault  bool         `json:"has_default,omitempty"`
	Default     any          `json:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
	Fields      []*Node      `json:"fields,omitempty"`
	Items       *Node        `json:"items,omitempty"`
	Keys        *Node        `json:"keys,omitempty"`
	Values      *Node        `json:"values,omitempty"`
	Variants    []*Node      `json:"variants,omitempty"`
	Ref         string       `json:"ref,omitempty"`
	Reserved    *Reserved    `json:"reserved,omitempty"`
}

// Constraints are value restrictions attached to a node.
type Constraints struct {
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusive_minimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusive_maximum,omitempty"`
	MinLength        *int64   `json:"min_length,omitempty"`
	MaxLength        *int64   `json:"max_length,omitempty"`
	MinItems         *int64   `json:"min_items,omitempty"`
	MaxItems         *int64   `json:"max_items,omitempty"`
	Pattern          string   `json:"pattern,omitempty"`
	Enum             []string `json:"enum,omitempty"`
	Format           string   `json:"format,omitempty"`
	Size             *int64   `json:"size,omitempty"`
}

// IsZero reports whether no constraint is set.
func (c *Constraints) IsZero() bool {
	return c == nil || (c.Minimum == nil && c.Maximum == nil &&
		c.ExclusiveMinimum == nil && c.ExclusiveMaximum == nil &&
		c.MinLength == nil && c.MaxLength == nil &&
		c.MinItems == nil && c.MaxItems == nil &&
		c.Pattern == "" && len(c.Enum) == 0 && c.Format == "" && c.Size == nil)
}

// Reserved lists protobuf field numbers and names that may not be reused.
type Reserved struct {
	Ranges []ReservedRange `json:"ranges,omitempty"`
	Names  []string        `json:"names,omitempty"`
}

// ReservedRange is an inclusive range of field numbers.
type ReservedRange struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

// Contains reports whether n falls inside any reserved range.
func (r *Reserved) Contains(n int32) bool {
	if r == nil {
		return false
	}
	for _, rg := range r.Ranges {
		if n >= rg.Start && n <= rg.End {
			return true
		}
	}
	return false
}

// HasName reports whether name is reserved.
func (r *Reserved) HasName(name string) bool {
	if r == nil {
		return false
	}
	for _, n := range r.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Field returns the direct child field with the given name.
func (n *Node) Field(name string) *Node {
	for _, f := range n.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldByNumber returns the direct child field with the given protobuf number.
func (n *Node) FieldByNumber(number int32) *Node {
	if number == 0 {
		return nil
	}
	for _, f := range n.Fields {
		if f.Number == number {
			return f
		}
	}
	return nil
}

// Walk visits n and every descendant depth first. The path of the root is
// empty; child paths are joined with dots, array items use "[]" and map
// values use "{}".
func (n *Node) Walk(fn func(path string, node *Node) bool) {
	n.walk("", fn)
}

func (n *Node) walk(path string, fn func(string, *Node) bool) {
	if n == nil || !fn(path, n) {
		return
	}
	for _, f := range n.Fields {
		f.walk(JoinPath(path, f.Name), fn)
	}
	if n.Items != nil {
		n.Items.walk(path+"[]", fn)
	}
	if n.Values != nil {
		n.Values.walk(path+"{}", fn)
	}
	for _, v := range n.Variants {
		v.walk(path+"|"+v.Type, fn)
	}
}

// Depth returns the maximum nesting depth below and including n.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	children := make([]*Node, 0, len(n.Fields)+len(n.Variants)+2)
	children = append(children, n.Fields...)
	children = append(children, n.Variants...)
	if n.Items != nil {
		children = append(children, n.Items)
	}
	if n.Keys != nil {
		children = append(children, n.Keys)
	}
	if n.Values != nil {
		children = append(children, n.Values)
	}
	for _, c := range children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// JoinPath appends name to a dotted field path.
func JoinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// SplitPath splits a dotted field path.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// AllowsValue reports whether v is a member of the node's enumeration.
// Nodes without an enumeration allow every value. Enum-kind nodes hold bare
// symbol names; enum constraints on other kinds hold canonical JSON literals.
func (n *Node) AllowsValue(v any) bool {
	if n.Constraints == nil || len(n.Constraints.Enum) == 0 {
		return true
	}
	want := canonicalLiteral(v)
	if n.Kind == KindEnum {
		if s, ok := v.(string); ok {
			want = s
		}
	}
	for _, e := range n.Constraints.Enum {
		if e == want {
			return true
		}
	}
	return false
}
