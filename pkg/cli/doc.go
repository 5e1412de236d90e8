// Package cli implements lineage-check, the offline companion of the
// registry. It runs the same normalizer, validation rules and compatibility
// checker as the server against local files, so schema changes can be
// checked in CI before they are registered.
//
// # Commands
//
// validate: run the structural and naming rules
//
//	lineage-check validate --rules rules.yaml user.avsc order.proto
//
// check: compare a new schema with previous versions, oldest first
//
//	lineage-check check --mode BACKWARD_TRANSITIVE \
//		--previous v1/user.avsc,v2/user.avsc \
//		v3/user.avsc
//
// normalize: print the canonical form and fingerprint
//
//	lineage-check normalize --fingerprint user.json
//
// The format is taken from --format, then from the file extension (.avsc,
// .proto) and finally detected from the content. validate and check exit
// non-zero when a schema is invalid or incompatible; --output json prints
// the full report.
package cli
