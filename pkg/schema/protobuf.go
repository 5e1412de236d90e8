package schema

import (
	"bytes"
	"errors"
	"sort"
	"strings"

	"github.com/bufbuild/protocompile/parser"
	"github.com/bufbuild/protocompile/reporter"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ProtoFilename is the virtual file name protobuf sources are parsed under.
const ProtoFilename = "schema.proto"

// protoBuilder turns an unlinked file descriptor into a field tree. Type
// names are resolved against the file's own messages and enums using
// protobuf scoping rules; anything else is an external reference.
type protoBuilder struct {
	pkg        string
	messages   map[string]*descriptorpb.DescriptorProto
	enums      map[string]*descriptorpb.EnumDescriptorProto
	expanding  map[string]bool
	maxDepth   int
	references []string
}

func (n *Normalizer) normalizeProtobuf(raw []byte) (*NormalizedSchema, error) {
	fd, err := ParseProtoFile(raw)
	if err != nil {
		return nil, err
	}

	b := &protoBuilder{
		pkg:       fd.GetPackage(),
		messages:  make(map[string]*descriptorpb.DescriptorProto),
		enums:     make(map[string]*descriptorpb.EnumDescriptorProto),
		expanding: make(map[string]bool),
		maxDepth:  n.config.MaxExpansionDepth,
	}
	b.index(fd.GetPackage(), fd.GetMessageType(), fd.GetEnumType())
	b.references = append(b.references, fd.GetDependency()...)

	root := &Node{Kind: KindRecord, Type: "file", Ref: fd.GetPackage()}
	for _, msg := range fd.GetMessageType() {
		node := b.buildMessage(qualify(fd.GetPackage(), msg.GetName()), msg, 0)
		node.Name = msg.GetName()
		root.Fields = append(root.Fields, node)
	}
	for _, en := range fd.GetEnumType() {
		node := buildProtoEnum(qualify(fd.GetPackage(), en.GetName()), en)
		node.Name = en.GetName()
		root.Fields = append(root.Fields, node)
	}

	canonical, err := canonicalValue(root)
	if err != nil {
		return nil, &ParseError{Format: FormatProtobuf, Message: err.Error(), Cause: err}
	}

	defs := make([]string, 0, len(b.messages)+len(b.enums))
	for name := range b.messages {
		defs = append(defs, name)
	}
	for name := range b.enums {
		defs = append(defs, name)
	}

	return &NormalizedSchema{
		Root:        root,
		Canonical:   canonical,
		Source:      bytes.TrimSpace(raw),
		References:  b.references,
		Definitions: defs,
	}, nil
}

// ParseProtoFile parses protobuf source without linking, so unresolved
// types or duplicate numbers are left for validation rules to report.
func ParseProtoFile(raw []byte) (*descriptorpb.FileDescriptorProto, error) {
	handler := reporter.NewHandler(nil)
	fileNode, err := parser.Parse(ProtoFilename, bytes.NewReader(raw), handler)
	if err != nil {
		return nil, protoParseError(err)
	}
	result, err := parser.ResultFromAST(fileNode, false, handler)
	if err != nil {
		return nil, protoParseError(err)
	}
	return result.FileDescriptorProto(), nil
}

func protoParseError(err error) *ParseError {
	pe := &ParseError{Format: FormatProtobuf, Message: err.Error(), Cause: err}
	var posErr reporter.ErrorWithPos
	if errors.As(err, &posErr) {
		pos := posErr.GetPosition()
		pe.Line, pe.Column = pos.Line, pos.Col
		pe.Message = posErr.Unwrap().Error()
	}
	return pe
}

func (b *protoBuilder) index(scope string, msgs []*descriptorpb.DescriptorProto, enums []*descriptorpb.EnumDescriptorProto) {
	for _, msg := range msgs {
		full := qualify(scope, msg.GetName())
		b.messages[full] = msg
		b.index(full, msg.GetNestedType(), msg.GetEnumType())
	}
	for _, en := range enums {
		b.enums[qualify(scope, en.GetName())] = en
	}
}

// resolve finds the full name a type reference inside scope refers to.
func (b *protoBuilder) resolve(name, scope string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		full := strings.TrimPrefix(name, ".")
		return full, b.defined(full)
	}
	for {
		candidate := qualify(scope, name)
		if b.defined(candidate) {
			return candidate, true
		}
		if scope == "" {
			return name, false
		}
		if i := strings.LastIndex(scope, "."); i >= 0 {
			scope = scope[:i]
		} else {
			scope = ""
		}
	}
}

func (b *protoBuilder) defined(full string) bool {
	if _, ok := b.messages[full]; ok {
		return true
	}
	_, ok := b.enums[full]
	return ok
}

func (b *protoBuilder) buildMessage(full string, msg *descriptorpb.DescriptorProto, depth int) *Node {
	b.expanding[full] = true
	defer delete(b.expanding, full)

	node := &Node{Kind: KindRecord, Type: full}
	if rr := msg.GetReservedRange(); len(rr) > 0 || len(msg.GetReservedName()) > 0 {
		node.Reserved = &Reserved{Names: append([]string(nil), msg.GetReservedName()...)}
		for _, r := range rr {
			// descriptor ranges are end-exclusive
			node.Reserved.Ranges = append(node.Reserved.Ranges, ReservedRange{Start: r.GetStart(), End: r.GetEnd() - 1})
		}
		sort.Strings(node.Reserved.Names)
	}

	for _, fd := range msg.GetField() {
		node.Fields = append(node.Fields, b.buildField(full, fd, depth))
	}
	sort.SliceStable(node.Fields, func(i, j int) bool { return node.Fields[i].Number < node.Fields[j].Number })
	return node
}

func (b *protoBuilder) buildField(scope string, fd *descriptorpb.FieldDescriptorProto, depth int) *Node {
	var node *Node
	if entry, ok := b.mapEntry(scope, fd); ok {
		node = &Node{Kind: KindMap, Type: "map"}
		for _, ef := range entry.GetField() {
			switch ef.GetNumber() {
			case 1:
				node.Keys = b.buildElement(scope, ef, depth+1)
			case 2:
				node.Values = b.buildElement(scope, ef, depth+1)
			}
		}
	} else {
		elem := b.buildElement(scope, fd, depth+1)
		if fd.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REPEATED {
			node = &Node{Kind: KindArray, Type: "repeated", Items: elem}
		} else {
			node = elem
		}
	}

	node.Name = fd.GetName()
	node.Number = fd.GetNumber()
	node.Required = fd.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REQUIRED
	node.Nullable = fd.GetProto3Optional() || fd.OneofIndex != nil
	if !node.Required {
		// absent non-required fields decode to their zero value
		node.HasDefault = true
	}
	if fd.DefaultValue != nil {
		node.HasDefault = true
		node.Default = fd.GetDefaultValue()
	}
	return node
}

// buildElement builds the node for a field's value type, ignoring its label.
func (b *protoBuilder) buildElement(scope string, fd *descriptorpb.FieldDescriptorProto, depth int) *Node {
	if fd.Type != nil {
		switch fd.GetType() {
		case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP,
			descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		default:
			return &Node{Kind: KindScalar, Type: protoScalarName(fd.GetType())}
		}
	}

	full, ok := b.resolve(fd.GetTypeName(), scope)
	if !ok {
		b.references = append(b.references, full)
		return &Node{Kind: KindRef, Type: full, Ref: full}
	}
	if en, isEnum := b.enums[full]; isEnum {
		return buildProtoEnum(full, en)
	}
	if b.expanding[full] || depth >= b.maxDepth {
		return &Node{Kind: KindRef, Type: full, Ref: full}
	}
	return b.buildMessage(full, b.messages[full], depth)
}

func (b *protoBuilder) mapEntry(scope string, fd *descriptorpb.FieldDescriptorProto) (*descriptorpb.DescriptorProto, bool) {
	if fd.GetLabel() != descriptorpb.FieldDescriptorProto_LABEL_REPEATED || fd.GetTypeName() == "" {
		return nil, false
	}
	full, ok := b.resolve(fd.GetTypeName(), scope)
	if !ok {
		return nil, false
	}
	msg, ok := b.messages[full]
	if !ok || !msg.GetOptions().GetMapEntry() {
		return nil, false
	}
	return msg, true
}

func buildProtoEnum(full string, en *descriptorpb.EnumDescriptorProto) *Node {
	node := &Node{Kind: KindEnum, Type: full, Constraints: &Constraints{}}
	for _, v := range en.GetValue() {
		node.Constraints.Enum = append(node.Constraints.Enum, v.GetName())
	}
	sort.Strings(node.Constraints.Enum)
	return node
}

// protoScalarName maps TYPE_INT32 to "int32" and so on.
func protoScalarName(t descriptorpb.FieldDescriptorProto_Type) string {
	return strings.ToLower(strings.TrimPrefix(t.String(), "TYPE_"))
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}
