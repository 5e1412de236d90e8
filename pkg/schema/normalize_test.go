package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userJSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "email": {"type": "string", "format": "email", "maxLength": 320},
    "age": {"type": ["integer", "null"], "minimum": 0},
    "tags": {"type": "array", "items": {"type": "string"}},
    "address": {"$ref": "#/definitions/Address"}
  },
  "required": ["id", "email"],
  "definitions": {
    "Address": {
      "type": "object",
      "properties": {"city": {"type": "string"}, "zip": {"type": "string", "pattern": "^[0-9]{5}$"}}
    }
  }
}`

// Same document with keys reordered, different whitespace and equivalent
// number literals.
const userJSONSchemaReordered = `{"required":["id","email"],"definitions":{"Address":{"properties":{"zip":{"pattern":"^[0-9]{5}$","type":"string"},"city":{"type":"string"}},"type":"object"}},
"properties":{"tags":{"items":{"type":"string"},"type":"array"},"address":{"$ref":"#/definitions/Address"},
"age":{"minimum":0.0,"type":["integer","null"]},"email":{"maxLength":3.2e2,"format":"email","type":"string"},"id":{"type":"string"}},
"type":"object","$schema":"http://json-schema.org/draft-07/schema#"}`

func TestNormalize_JSONSchemaFingerprintIsStable(t *testing.T) {
	a, err := Normalize([]byte(userJSONSchema), FormatJSON)
	require.NoError(t, err)
	b, err := Normalize([]byte(userJSONSchemaReordered), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, string(a.Canonical), string(b.Canonical))
	assert.Len(t, a.Fingerprint, 64)
	assert.NotContains(t, string(a.Canonical), "\n")
}

func TestNormalize_JSONSchemaTree(t *testing.T) {
	ns, err := Normalize([]byte(userJSONSchema), FormatJSON)
	require.NoError(t, err)

	root := ns.Root
	require.Equal(t, KindRecord, root.Kind)
	require.Len(t, root.Fields, 5)

	id := root.Field("id")
	require.NotNil(t, id)
	assert.True(t, id.Required)
	assert.Equal(t, "string", id.Type)

	age := root.Field("age")
	require.NotNil(t, age)
	assert.False(t, age.Required)
	assert.True(t, age.Nullable)
	assert.Equal(t, "integer", age.Type)
	require.NotNil(t, age.Constraints)
	assert.Equal(t, 0.0, *age.Constraints.Minimum)

	tags := root.Field("tags")
	require.NotNil(t, tags)
	assert.Equal(t, KindArray, tags.Kind)
	assert.Equal(t, "string", tags.Items.Type)

	address := root.Field("address")
	require.NotNil(t, address)
	assert.Equal(t, KindRecord, address.Kind)
	zip := address.Field("zip")
	require.NotNil(t, zip)
	assert.Equal(t, "^[0-9]{5}$", zip.Constraints.Pattern)

	assert.True(t, ns.Defines("#/definitions/Address"))
	assert.Empty(t, ns.References)
}

func TestNormalize_JSONSchemaRecursiveRef(t *testing.T) {
	doc := `{"type":"object","properties":{"name":{"type":"string"},"children":{"type":"array","items":{"$ref":"#"}}}}`
	ns, err := Normalize([]byte(doc), FormatJSON)
	require.NoError(t, err)

	children := ns.Root.Field("children")
	require.NotNil(t, children)
	require.NotNil(t, children.Items)
	assert.Equal(t, KindRecord, children.Items.Kind)
	inner := children.Items.Field("children")
	require.NotNil(t, inner)
	assert.Equal(t, KindRef, inner.Items.Kind)
}

func TestNormalize_JSONSchemaExternalRef(t *testing.T) {
	doc := `{"type":"object","properties":{"money":{"$ref":"https://schemas.example.com/money.json"}}}`
	ns, err := Normalize([]byte(doc), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://schemas.example.com/money.json"}, ns.References)
	assert.Equal(t, KindRef, ns.Root.Field("money").Kind)
}

func TestNormalize_JSONSyntaxError(t *testing.T) {
	_, err := Normalize([]byte("{\n  \"type\": \"object\",\n  \"properties\": {\n}"), FormatJSON)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FormatJSON, pe.Format)
	assert.True(t, IsParseError(err))
}

func TestNormalize_EmptyContent(t *testing.T) {
	for _, f := range Formats() {
		_, err := Normalize([]byte("   \n"), f)
		assert.True(t, IsParseError(err), f.String())
	}
}

const userAvro = `{
  "type": "record",
  "name": "User",
  "namespace": "com.example",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "age", "type": "int", "default": 0},
    {"name": "nickname", "type": ["null", "string"], "default": null},
    {"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["ACTIVE", "INACTIVE"]}},
    {"name": "previous", "type": ["null", "User"], "default": null},
    {"name": "scores", "type": {"type": "map", "values": "long"}},
    {"name": "created", "type": {"type": "long", "logicalType": "timestamp-millis"}}
  ]
}`

func TestNormalize_AvroTree(t *testing.T) {
	ns, err := Normalize([]byte(userAvro), FormatAvro)
	require.NoError(t, err)

	root := ns.Root
	assert.Equal(t, KindRecord, root.Kind)
	assert.Equal(t, "com.example.User", root.Type)
	require.Len(t, root.Fields, 7)

	id := root.Field("id")
	assert.True(t, id.Required)
	assert.False(t, id.HasDefault)

	age := root.Field("age")
	assert.True(t, age.HasDefault)
	assert.False(t, age.Required)
	assert.Equal(t, "int", age.Type)

	nickname := root.Field("nickname")
	assert.Equal(t, KindUnion, nickname.Kind)
	assert.True(t, nickname.Nullable)
	assert.Len(t, nickname.Variants, 2)

	status := root.Field("status")
	assert.Equal(t, KindEnum, status.Kind)
	assert.Equal(t, []string{"ACTIVE", "INACTIVE"}, status.Constraints.Enum)

	previous := root.Field("previous")
	require.Len(t, previous.Variants, 2)
	assert.Equal(t, KindRef, previous.Variants[1].Kind)
	assert.Equal(t, "com.example.User", previous.Variants[1].Ref)

	scores := root.Field("scores")
	assert.Equal(t, KindMap, scores.Kind)
	assert.Equal(t, "long", scores.Values.Type)

	created := root.Field("created")
	assert.Equal(t, "long", created.Type)
	assert.Equal(t, "timestamp-millis", created.Constraints.Format)

	assert.True(t, ns.Defines("com.example.User"))
	assert.True(t, ns.Defines("com.example.Status"))
}

func TestNormalize_AvroUnknownNamedType(t *testing.T) {
	doc := `{"type":"record","name":"Order","fields":[{"name":"total","type":"Money"}]}`
	ns, err := Normalize([]byte(doc), FormatAvro)
	require.NoError(t, err)
	assert.Equal(t, []string{"Money"}, ns.References)
}

func TestNormalize_AvroMissingType(t *testing.T) {
	doc := `{"type":"record","name":"Order","fields":[{"name":"total"}]}`
	_, err := Normalize([]byte(doc), FormatAvro)
	require.Error(t, err)
	assert.True(t, IsParseError(err))
	assert.Contains(t, err.Error(), "field 0")
}

const userProto = `syntax = "proto3";
package acme.users.v1;

import "google/protobuf/timestamp.proto";

message User {
  string id = 1;
  string email = 2;
  optional int32 age = 3;
  repeated string tags = 4;
  map<string, int64> counters = 5;
  Status status = 6;
  Address address = 7;
  reserved 10 to 12;
  reserved "legacy";

  message Address {
    string city = 1;
  }
}

enum Status {
  STATUS_UNSPECIFIED = 0;
  STATUS_ACTIVE = 1;
}
`

func TestNormalize_ProtobufTree(t *testing.T) {
	ns, err := Normalize([]byte(userProto), FormatProtobuf)
	require.NoError(t, err)

	root := ns.Root
	assert.Equal(t, "acme.users.v1", root.Ref)
	user := root.Field("User")
	require.NotNil(t, user)
	assert.Equal(t, "acme.users.v1.User", user.Type)
	require.Len(t, user.Fields, 7)

	age := user.Field("age")
	assert.Equal(t, int32(3), age.Number)
	assert.Equal(t, "int32", age.Type)
	assert.True(t, age.Nullable)
	assert.True(t, age.HasDefault)

	tags := user.Field("tags")
	assert.Equal(t, KindArray, tags.Kind)
	assert.Equal(t, "string", tags.Items.Type)

	counters := user.Field("counters")
	assert.Equal(t, KindMap, counters.Kind)
	assert.Equal(t, "string", counters.Keys.Type)
	assert.Equal(t, "int64", counters.Values.Type)

	status := user.Field("status")
	assert.Equal(t, KindEnum, status.Kind)
	assert.Equal(t, []string{"STATUS_ACTIVE", "STATUS_UNSPECIFIED"}, status.Constraints.Enum)

	address := user.Field("address")
	assert.Equal(t, KindRecord, address.Kind)
	assert.Equal(t, "acme.users.v1.User.Address", address.Type)

	require.NotNil(t, user.Reserved)
	assert.True(t, user.Reserved.Contains(11))
	assert.False(t, user.Reserved.Contains(13))
	assert.True(t, user.Reserved.HasName("legacy"))

	assert.Contains(t, ns.References, "google/protobuf/timestamp.proto")
	assert.NotNil(t, root.Field("Status"))
}

func TestNormalize_ProtobufIgnoresFormatting(t *testing.T) {
	compact := `syntax="proto3";package acme.users.v1;import "google/protobuf/timestamp.proto";
enum Status{STATUS_UNSPECIFIED=0;STATUS_ACTIVE=1;}
message User{
// comments are not part of the canonical form
string id=1;string email=2;optional int32 age=3;repeated string tags=4;map<string,int64> counters=5;
Status status=6;Address address=7;reserved 10 to 12;reserved "legacy";message Address{string city=1;}}`

	a, err := Normalize([]byte(userProto), FormatProtobuf)
	require.NoError(t, err)
	b, err := Normalize([]byte(compact), FormatProtobuf)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestNormalize_ProtobufSyntaxError(t *testing.T) {
	_, err := Normalize([]byte("syntax = \"proto3\";\nmessage User {\n  string id = ;\n}\n"), FormatProtobuf)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FormatProtobuf, pe.Format)
	assert.Equal(t, 3, pe.Line)
}

func TestNormalize_ProtobufKeepsDuplicateNumbersForValidation(t *testing.T) {
	doc := "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  string email = 1;\n}\n"
	ns, err := Normalize([]byte(doc), FormatProtobuf)
	require.NoError(t, err)
	assert.Len(t, ns.Root.Field("User").Fields, 2)
}

func TestNormalize_UnsupportedFormat(t *testing.T) {
	_, err := Normalize([]byte("{}"), Format(42))
	assert.True(t, IsParseError(err))
}

func TestCanonicalize_Numbers(t *testing.T) {
	tests := map[string]string{
		`{"a":1.0}`:           `{"a":1}`,
		`{"a":1e2}`:           `{"a":100}`,
		`{"a":0.50}`:          `{"a":0.5}`,
		`{"b":2,"a":[1,2.5]}`: `{"a":[1,2.5],"b":2}`,
		`{"a":-0}`:            `{"a":0}`,
	}
	for in, want := range tests {
		got, err := Canonicalize([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, string(got), in)
	}
}

func TestCanonicalize_NumberRange(t *testing.T) {
	// the float64 range still expands exactly
	got, err := Canonicalize([]byte(`{"a":1e308,"b":-1.5e300,"c":1e-400}`))
	require.NoError(t, err)
	assert.Less(t, len(got), 700)

	got, err = Canonicalize([]byte(`{"a":1e20}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":100000000000000000000}`, string(got))

	for _, lit := range []string{"1e309", "-2e308", "1e1000000", "1e5000000", "9.9e99999999999"} {
		start := time.Now()
		_, err := Canonicalize([]byte(`{"maximum":` + lit + `}`))
		assert.Error(t, err, lit)
		assert.Less(t, time.Since(start), time.Second, lit)
	}

	_, err = Normalize([]byte(`{"type":"integer","maximum":1e1000000}`), FormatJSON)
	assert.True(t, IsParseError(err))
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		raw  string
		want Format
	}{
		{userJSONSchema, FormatJSON},
		{userAvro, FormatAvro},
		{userProto, FormatProtobuf},
		{`"string"`, FormatAvro},
		{`{"type":"object","properties":{}}`, FormatJSON},
	}
	for _, tt := range tests {
		got, err := DetectFormat([]byte(tt.raw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := DetectFormat([]byte("   "))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("proto")
	require.NoError(t, err)
	assert.Equal(t, FormatProtobuf, f)

	f, err = ParseFormat("json_schema")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	text, err := FormatAvro.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "AVRO", string(text))
}
