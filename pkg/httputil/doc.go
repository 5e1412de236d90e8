// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing and the middleware stack shared by the lineage HTTP server.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteDetailedError(w, http.StatusConflict, "INCOMPATIBLE", err, result)
//	httputil.WriteServiceUnavailable(w, "schema version is busy", time.Second)
//
// # Request Parsing
//
//	var req DeprecateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	name, err := httputil.ParsePathString(r, "name")
//	dryRun, ok := httputil.ParseQueryBoolOrError(w, r, "dry_run", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.ActorMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(4<<20),
//	)(handler)
package httputil
