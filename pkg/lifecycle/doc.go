// Package lifecycle coordinates every mutating operation on the registry.
//
// A Coordinator owns the state machine of each schema version. Registration
// normalizes the content, deduplicates it by fingerprint, assigns a version,
// persists a DRAFT and walks it through VALIDATING and COMPATIBILITY_CHECK
// to REGISTERED (or to VALIDATION_FAILED / INCOMPATIBLE_REJECTED, from where
// it can be resubmitted). Later operations move registered versions through
// ACTIVE, DEPRECATED and ARCHIVED, and Rollback moves traffic back to an
// earlier version.
//
// # Locking
//
// Transitions on one version are serialized by a lock keyed on
// "namespace:name:version". Registration and rollback also take the subject
// lock "namespace:name:*" first, so version assignment never races. Locks
// are always taken subject first, then versions in ascending order. A lock
// that cannot be acquired within Options.LockTimeout fails with ErrBusy.
//
// # Events
//
// Events are handed to the Sink in the background after the transition has
// committed and the locks are released. A failing sink is logged and never
// undoes a transition.
//
// # Usage Example
//
//	coord, err := lifecycle.New(lifecycle.Deps{
//		Store:  store,
//		Sink:   sink,
//		Locker: lock.NewRedisLocker(client, lock.RedisConfig{}, metrics),
//	}, lifecycle.Options{DefaultMode: "BACKWARD"})
//	if err != nil {
//		return err
//	}
//	rs, err := coord.Register(ctx, schema.SchemaInput{
//		Namespace: "com.acme",
//		Name:      "users",
//		Format:    schema.FormatJSON,
//		Content:   content,
//	})
package lifecycle
