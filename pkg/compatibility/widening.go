package compatibility

import "github.com/platinummonkey/lineage/pkg/schema"

type typePair struct {
	from, to string
}

// Widening tables list scalar type changes that keep every value written
// with the old type readable with the new one. Protobuf pairs are wire
// compatible in both directions.
var (
	jsonWidening = map[typePair]bool{
		{"integer", "number"}: true,
	}

	avroWidening = map[typePair]bool{
		{"int", "long"}:     true,
		{"int", "float"}:    true,
		{"int", "double"}:   true,
		{"long", "float"}:   true,
		{"long", "double"}:  true,
		{"float", "double"}: true,
		{"string", "bytes"}: true,
		{"bytes", "string"}: true,
	}

	protobufWidening = symmetric(
		[]string{"int32", "uint32", "int64", "uint64", "bool"},
		[]string{"sint32", "sint64"},
		[]string{"string", "bytes"},
		[]string{"fixed32", "sfixed32"},
		[]string{"fixed64", "sfixed64"},
	)
)

func symmetric(groups ...[]string) map[typePair]bool {
	table := make(map[typePair]bool)
	for _, group := range groups {
		for _, a := range group {
			for _, b := range group {
				if a != b {
					table[typePair{a, b}] = true
				}
			}
		}
	}
	return table
}

// Widens reports whether changing a scalar from type from to type to is on
// the format's widening table.
func Widens(format schema.Format, from, to string) bool {
	pair := typePair{from, to}
	switch format {
	case schema.FormatJSON:
		return jsonWidening[pair]
	case schema.FormatAvro:
		return avroWidening[pair]
	case schema.FormatProtobuf:
		return protobufWidening[pair]
	default:
		return false
	}
}
