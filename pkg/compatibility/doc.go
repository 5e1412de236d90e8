// Package compatibility decides whether a new schema version may replace
// older ones and derives the version number it should receive.
//
// # Compatibility Modes
//
// NONE: No compatibility checking. Any change is allowed.
//
// BACKWARD: The new schema can read data written with the latest version.
// Consumers can upgrade before producers.
//
// FORWARD: The latest version can read data written with the new schema.
// Producers can upgrade before consumers.
//
// FULL: Both of the above. Violations carry the direction they were found in.
//
// The _TRANSITIVE variants check every registered version (bounded by
// MaxTransitiveVersions, newest first) instead of only the latest.
//
// # Classification
//
// The Comparator walks two normalized field trees. Records are matched by
// field name, Protobuf messages by field number. Every difference becomes a
// Violation with a Kind and a Severity; only BREAKING violations make a check
// fail. Scalar type changes are allowed when they appear on the format's
// widening table (see Widens).
//
// # Usage Example
//
//	checker := compatibility.NewChecker()
//	result, err := checker.Check(ctx, next, []compatibility.Candidate{
//		{Version: latestVersion, Schema: latest},
//	}, compatibility.ModeBackward)
//	if err != nil {
//		return err
//	}
//	if !result.Compatible {
//		for _, v := range result.Breaking() {
//			fmt.Println(v)
//		}
//	}
//
// # Versioning
//
// NextVersion bumps major for breaking diffs, minor for additive ones and
// patch otherwise. ResolveVersion applies a manual override, which must sort
// above the latest version.
package compatibility
