// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/lineage/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.ActorKey, "alice")
//	actor, _ := ctx.Value(contextkeys.ActorKey).(string)
//
// Most callers should use the typed helpers in pkg/observability
// (WithActor, GetActor, WithRequestID, ...) rather than the raw keys.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, webhook delivery headers
	// Type: string
	RequestIDKey Key = "request_id"

	// ActorKey contains the acting principal
	// Set by: httputil.ActorMiddleware from the X-Lineage-Actor header
	// Used by: lifecycle.ContextIdentity, recorded in transition history
	// Type: string
	ActorKey Key = "actor"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)
