// Package api exposes the lifecycle coordinator over HTTP.
//
// # Endpoints
//
// Registration and checks:
//
//	POST /v1/schemas                 register a version (201, or 200 when deduplicated)
//	POST /v1/validate                run the validation rules, nothing is stored
//	POST /v1/compatibility           check content against a subject's versions
//
// Subjects and versions:
//
//	GET  /v1/schemas/{namespace}/{name}/versions
//	POST /v1/schemas/{namespace}/{name}/rollback[?dry_run=true]
//	GET  /v1/schemas/{namespace}/{name}/versions/{version}
//	GET  /v1/schemas/{namespace}/{name}/versions/{version}/lifecycle
//	PUT  /v1/schemas/{namespace}/{name}/versions/{version}/metadata
//	POST /v1/schemas/{namespace}/{name}/versions/{version}/{activate,deprecate,reactivate,archive,sunset,abandon,resubmit}
//
// The acting principal is read from the X-Lineage-Actor header and recorded
// in every transition. A sunset blocked by active consumers answers 202 with
// the retry time.
//
// # Errors
//
// Errors are JSON bodies {"error", "code", "details"}. Parse failures are
// 400 PARSE_ERROR, failed validation 422 VALIDATION_FAILED with the report,
// incompatible changes 409 INCOMPATIBLE with the compatibility result and
// illegal transitions 409 INVALID_STATE. A version whose lock is held by
// another request answers 503 with Retry-After.
package api
