package compatibility

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// Comparator walks two field trees and classifies every difference from the
// reader's point of view: the new tree reads data written with the old one.
type Comparator struct {
	format     schema.Format
	direction  Direction
	violations []Violation
}

// NewComparator creates a new comparator
func NewComparator(format schema.Format, direction Direction) *Comparator {
	return &Comparator{
		format:     format,
		direction:  direction,
		violations: make([]Violation, 0),
	}
}

// Compare runs the comparison. oldRoot is the writer, newRoot the reader.
func (c *Comparator) Compare(oldRoot, newRoot *schema.Node) []Violation {
	c.violations = make([]Violation, 0)
	c.compareNode("", oldRoot, newRoot, KindTypeChanged)
	return c.violations
}

// CompareSchemas classifies the changes between two normalized schemas in one
// direction. Backward treats newSchema as the reader; forward swaps roles.
func CompareSchemas(newSchema, oldSchema *schema.NormalizedSchema, direction Direction) []Violation {
	if newSchema.Fingerprint != "" && newSchema.Fingerprint == oldSchema.Fingerprint {
		return nil
	}
	if newSchema.Format != oldSchema.Format {
		return []Violation{NewViolationBuilder(KindFormatChanged).
			WithChange(oldSchema.Format.String(), newSchema.Format.String()).
			WithDirection(direction).
			WithMessage("schema format changed from %s to %s", oldSchema.Format, newSchema.Format).
			Build()}
	}

	reader, writer := newSchema, oldSchema
	if direction == DirectionForward {
		reader, writer = oldSchema, newSchema
	}
	return NewComparator(newSchema.Format, direction).Compare(writer.Root, reader.Root)
}

func (c *Comparator) add(b *ViolationBuilder) {
	c.violations = append(c.violations, b.WithDirection(c.direction).Build())
}

func isAny(n *schema.Node) bool {
	return n == nil || n.Kind == schema.KindAny
}

func (c *Comparator) compareNode(path string, oldNode, newNode *schema.Node, changed Kind) {
	switch {
	case isAny(newNode):
		return
	case isAny(oldNode):
		c.typeChanged(path, oldNode, newNode, changed)
		return
	case oldNode.Kind == schema.KindUnion || newNode.Kind == schema.KindUnion:
		c.compareUnion(path, oldNode, newNode, changed)
		return
	case oldNode.Kind != newNode.Kind:
		c.typeChanged(path, oldNode, newNode, changed)
		return
	}

	switch oldNode.Kind {
	case schema.KindScalar:
		if oldNode.Type != newNode.Type {
			if !Widens(c.format, oldNode.Type, newNode.Type) {
				c.typeChanged(path, oldNode, newNode, changed)
				return
			}
			c.add(NewViolationBuilder(KindTypeWidened).
				WithSeverity(SeverityInfo).
				WithPath(path).
				WithChange(oldNode.Type, newNode.Type).
				WithMessage("type widened from %s to %s", oldNode.Type, newNode.Type))
		}
		if size(oldNode) != size(newNode) {
			c.typeChanged(path, oldNode, newNode, changed)
			return
		}
		c.compareConstraints(path, oldNode, newNode)
	case schema.KindRecord:
		if oldNode.Type != newNode.Type {
			c.typeChanged(path, oldNode, newNode, changed)
			return
		}
		c.compareFields(path, oldNode, newNode)
	case schema.KindArray:
		c.compareNode(path+"[]", oldNode.Items, newNode.Items, KindArrayItemsChanged)
		c.compareConstraints(path, oldNode, newNode)
	case schema.KindMap:
		if oldNode.Keys != nil || newNode.Keys != nil {
			c.compareNode(path+"{key}", oldNode.Keys, newNode.Keys, KindMapValuesChanged)
		}
		c.compareNode(path+"{}", oldNode.Values, newNode.Values, KindMapValuesChanged)
		c.compareConstraints(path, oldNode, newNode)
	case schema.KindEnum:
		if oldNode.Type != newNode.Type {
			c.typeChanged(path, oldNode, newNode, changed)
			return
		}
		c.compareConstraints(path, oldNode, newNode)
	case schema.KindRef:
		if oldNode.Ref != newNode.Ref {
			c.typeChanged(path, oldNode, newNode, changed)
		}
	}
}

func size(n *schema.Node) int64 {
	if n.Constraints == nil || n.Constraints.Size == nil {
		return 0
	}
	return *n.Constraints.Size
}

func (c *Comparator) typeChanged(path string, oldNode, newNode *schema.Node, kind Kind) {
	c.add(NewViolationBuilder(kind).
		WithPath(path).
		WithChange(describe(oldNode), describe(newNode)).
		WithMessage("type changed from %s to %s", describe(oldNode), describe(newNode)))
}

// describe renders a node's declared type for messages
func describe(n *schema.Node) string {
	if isAny(n) {
		return "any"
	}
	switch n.Kind {
	case schema.KindArray:
		return "array<" + describe(n.Items) + ">"
	case schema.KindMap:
		return "map<" + describe(n.Values) + ">"
	case schema.KindUnion:
		parts := make([]string, 0, len(n.Variants))
		for _, v := range n.Variants {
			parts = append(parts, describe(v))
		}
		return "union[" + strings.Join(parts, ",") + "]"
	case schema.KindScalar:
		if s := size(n); s > 0 {
			return fmt.Sprintf("%s(%d)", n.Type, s)
		}
	}
	return n.Type
}

func (c *Comparator) compareFields(path string, oldNode, newNode *schema.Node) {
	if c.format == schema.FormatProtobuf && oldNode.Type != "file" {
		c.compareFieldsByNumber(path, oldNode, newNode)
		return
	}
	for _, of := range oldNode.Fields {
		fieldPath := schema.JoinPath(path, of.Name)
		nf := newNode.Field(of.Name)
		if nf == nil {
			c.fieldRemoved(fieldPath, of)
			continue
		}
		c.compareField(fieldPath, of, nf)
	}
	for _, nf := range newNode.Fields {
		if oldNode.Field(nf.Name) == nil {
			c.fieldAdded(schema.JoinPath(path, nf.Name), nf)
		}
	}
}

// compareFieldsByNumber matches protobuf fields by number, the identity the
// wire format uses.
func (c *Comparator) compareFieldsByNumber(path string, oldNode, newNode *schema.Node) {
	for _, of := range oldNode.Fields {
		fieldPath := schema.JoinPath(path, of.Name)
		nf := newNode.FieldByNumber(of.Number)
		if nf == nil {
			c.fieldRemoved(fieldPath, of)
			continue
		}
		if nf.Name != of.Name {
			if !c.sameShape(of, nf) {
				c.add(NewViolationBuilder(KindFieldNumberReused).
					WithPath(fieldPath).
					WithChange(fmt.Sprintf("%s %s = %d", describe(of), of.Name, of.Number),
						fmt.Sprintf("%s %s = %d", describe(nf), nf.Name, nf.Number)).
					WithMessage("field number %d now carries %s of type %s", of.Number, nf.Name, describe(nf)))
				continue
			}
			c.add(NewViolationBuilder(KindNameChanged).
				WithSeverity(SeverityWarning).
				WithPath(fieldPath).
				WithChange(of.Name, nf.Name).
				WithMessage("field %d renamed from %s to %s; JSON and text encodings change", of.Number, of.Name, nf.Name))
		}
		c.compareField(fieldPath, of, nf)
	}
	for _, nf := range newNode.Fields {
		if oldNode.FieldByNumber(nf.Number) == nil {
			c.fieldAdded(schema.JoinPath(path, nf.Name), nf)
		}
	}
}

func (c *Comparator) sameShape(a, b *schema.Node) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case schema.KindScalar:
		return a.Type == b.Type || Widens(c.format, a.Type, b.Type)
	case schema.KindArray:
		if isAny(a.Items) || isAny(b.Items) {
			return isAny(a.Items) == isAny(b.Items)
		}
		return c.sameShape(a.Items, b.Items)
	case schema.KindMap:
		if isAny(a.Values) || isAny(b.Values) {
			return isAny(a.Values) == isAny(b.Values)
		}
		return c.sameShape(a.Values, b.Values)
	}
	return a.Type == b.Type
}

func (c *Comparator) fieldRemoved(path string, field *schema.Node) {
	if field.HasDefault {
		b := NewViolationBuilder(KindFieldRemovedWithDefault).
			WithSeverity(SeverityWarning).
			WithPath(path).
			WithChange(describe(field), "")
		if c.format == schema.FormatProtobuf {
			b.WithMessage("field %s (%d) removed; reserve its name and number", field.Name, field.Number)
		} else {
			b.WithMessage("field %s removed; readers fall back to its default", field.Name)
		}
		c.add(b)
		return
	}
	c.add(NewViolationBuilder(KindFieldRemoved).
		WithPath(path).
		WithChange(describe(field), "").
		WithMessage("field %s removed without a default value", field.Name))
}

func (c *Comparator) fieldAdded(path string, field *schema.Node) {
	if field.Required && !field.HasDefault {
		c.add(NewViolationBuilder(KindRequiredAdded).
			WithPath(path).
			WithChange("", describe(field)).
			WithMessage("new required field %s added without a default", field.Name))
		return
	}
	c.add(NewViolationBuilder(KindFieldAdded).
		WithSeverity(SeverityInfo).
		WithPath(path).
		WithChange("", describe(field)).
		WithMessage("optional field %s added", field.Name))
}

func (c *Comparator) compareField(path string, oldField, newField *schema.Node) {
	switch {
	case !oldField.Required && newField.Required && !newField.HasDefault:
		// data without the field has nothing to fall back to
		c.add(NewViolationBuilder(KindRequiredAdded).
			WithPath(path).
			WithChange("optional", "required").
			WithMessage("field %s became required without a default", newField.Name))
	case !oldField.Required && newField.Required:
		c.add(NewViolationBuilder(KindFieldMadeRequired).
			WithPath(path).
			WithChange("optional", "required").
			WithMessage("field %s made required", newField.Name))
	case oldField.Required && !newField.Required:
		c.add(NewViolationBuilder(KindFieldMadeOptional).
			WithSeverity(SeverityInfo).
			WithPath(path).
			WithChange("required", "optional").
			WithMessage("field %s made optional", newField.Name))
	}
	c.compareNode(path, oldField, newField, KindTypeChanged)
}

func variants(n *schema.Node) []*schema.Node {
	if n.Kind == schema.KindUnion {
		return n.Variants
	}
	return []*schema.Node{n}
}

func variantKey(n *schema.Node) string {
	switch n.Kind {
	case schema.KindArray, schema.KindMap, schema.KindAny:
		return string(n.Kind)
	}
	return string(n.Kind) + ":" + n.Type
}

func findVariant(candidates []*schema.Node, key string) *schema.Node {
	for _, v := range candidates {
		if variantKey(v) == key {
			return v
		}
	}
	return nil
}

func (c *Comparator) widenedVariant(candidates []*schema.Node, from *schema.Node) *schema.Node {
	if from.Kind != schema.KindScalar {
		return nil
	}
	for _, v := range candidates {
		if v.Kind == schema.KindScalar && Widens(c.format, from.Type, v.Type) {
			return v
		}
	}
	return nil
}

// compareUnion requires every old variant to be readable by some new
// variant. A non-union side is treated as a single-variant union.
func (c *Comparator) compareUnion(path string, oldNode, newNode *schema.Node, changed Kind) {
	oldVariants, newVariants := variants(oldNode), variants(newNode)
	singleOld := oldNode.Kind != schema.KindUnion

	matched := make(map[*schema.Node]bool, len(newVariants))
	for _, ov := range oldVariants {
		if nv := findVariant(newVariants, variantKey(ov)); nv != nil {
			matched[nv] = true
			c.compareNode(path, ov, nv, changed)
			continue
		}
		if nv := c.widenedVariant(newVariants, ov); nv != nil {
			matched[nv] = true
			c.add(NewViolationBuilder(KindTypeWidened).
				WithSeverity(SeverityInfo).
				WithPath(path).
				WithChange(ov.Type, nv.Type).
				WithMessage("union member %s widened to %s", ov.Type, nv.Type))
			continue
		}
		if singleOld {
			c.typeChanged(path, oldNode, newNode, changed)
			return
		}
		c.add(NewViolationBuilder(KindUnionVariantRemoved).
			WithPath(path).
			WithChange(describe(ov), "").
			WithMessage("union member %s removed", describe(ov)))
	}
	for _, nv := range newVariants {
		if matched[nv] || findVariant(oldVariants, variantKey(nv)) != nil {
			continue
		}
		c.add(NewViolationBuilder(KindUnionVariantAdded).
			WithSeverity(SeverityInfo).
			WithPath(path).
			WithChange("", describe(nv)).
			WithMessage("union member %s added", describe(nv)))
	}
}

func (c *Comparator) compareConstraints(path string, oldNode, newNode *schema.Node) {
	if c.format == schema.FormatJSON && oldNode.Nullable != newNode.Nullable {
		if oldNode.Nullable {
			c.tightened(path, "nullable", "true", "false")
		} else {
			c.relaxed(path, "nullable", "false", "true")
		}
	}

	oc, nc := oldNode.Constraints, newNode.Constraints
	if oc == nil {
		oc = &schema.Constraints{}
	}
	if nc == nil {
		nc = &schema.Constraints{}
	}

	c.compareEnum(path, oc.Enum, nc.Enum)
	compareBound(c, path, "minimum", oc.Minimum, nc.Minimum, true)
	compareBound(c, path, "exclusiveMinimum", oc.ExclusiveMinimum, nc.ExclusiveMinimum, true)
	compareBound(c, path, "maximum", oc.Maximum, nc.Maximum, false)
	compareBound(c, path, "exclusiveMaximum", oc.ExclusiveMaximum, nc.ExclusiveMaximum, false)
	compareBound(c, path, "minLength", oc.MinLength, nc.MinLength, true)
	compareBound(c, path, "maxLength", oc.MaxLength, nc.MaxLength, false)
	compareBound(c, path, "minItems", oc.MinItems, nc.MinItems, true)
	compareBound(c, path, "maxItems", oc.MaxItems, nc.MaxItems, false)
	c.compareText(path, "pattern", oc.Pattern, nc.Pattern)
	c.compareText(path, "format", oc.Format, nc.Format)
}

func (c *Comparator) compareEnum(path string, oldValues, newValues []string) {
	switch {
	case len(oldValues) == 0 && len(newValues) == 0:
		return
	case len(oldValues) == 0:
		c.tightened(path, "enum", "", strings.Join(newValues, ","))
		return
	case len(newValues) == 0:
		c.relaxed(path, "enum", strings.Join(oldValues, ","), "")
		return
	}

	newSet := make(map[string]bool, len(newValues))
	for _, v := range newValues {
		newSet[v] = true
	}
	oldSet := make(map[string]bool, len(oldValues))
	for _, v := range oldValues {
		oldSet[v] = true
		if !newSet[v] {
			c.add(NewViolationBuilder(KindEnumValueRemoved).
				WithPath(path).
				WithChange(v, "").
				WithMessage("enum value %s removed", v))
		}
	}
	for _, v := range newValues {
		if !oldSet[v] {
			c.add(NewViolationBuilder(KindEnumValueAdded).
				WithSeverity(SeverityInfo).
				WithPath(path).
				WithChange("", v).
				WithMessage("enum value %s added", v))
		}
	}
}

// compareBound classifies a change to a numeric bound. For lower bounds a
// larger value is tighter; for upper bounds a smaller one.
func compareBound[T int64 | float64](c *Comparator, path, name string, oldBound, newBound *T, lower bool) {
	switch {
	case oldBound == nil && newBound == nil:
		return
	case oldBound == nil:
		c.tightened(path, name, "", fmt.Sprint(*newBound))
	case newBound == nil:
		c.relaxed(path, name, fmt.Sprint(*oldBound), "")
	case *oldBound == *newBound:
		return
	case (*newBound > *oldBound) == lower:
		c.tightened(path, name, fmt.Sprint(*oldBound), fmt.Sprint(*newBound))
	default:
		c.relaxed(path, name, fmt.Sprint(*oldBound), fmt.Sprint(*newBound))
	}
}

// compareText treats any change to a pattern or format as tightening
// unless it was dropped.
func (c *Comparator) compareText(path, name, oldValue, newValue string) {
	switch {
	case oldValue == newValue:
		return
	case newValue == "":
		c.relaxed(path, name, oldValue, newValue)
	default:
		c.tightened(path, name, oldValue, newValue)
	}
}

func (c *Comparator) tightened(path, name, oldValue, newValue string) {
	c.add(NewViolationBuilder(KindConstraintTightened).
		WithPath(path).
		WithChange(oldValue, newValue).
		WithMessage("%s tightened from %q to %q", name, oldValue, newValue))
}

func (c *Comparator) relaxed(path, name, oldValue, newValue string) {
	c.add(NewViolationBuilder(KindConstraintRelaxed).
		WithSeverity(SeverityInfo).
		WithPath(path).
		WithChange(oldValue, newValue).
		WithMessage("%s relaxed from %q to %q", name, oldValue, newValue))
}
