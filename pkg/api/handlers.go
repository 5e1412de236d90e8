package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/httputil"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/schema"
)

// registerSchema handles POST /v1/schemas
func (s *Server) registerSchema(w http.ResponseWriter, r *http.Request) {
	var in schema.SchemaInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if in.Format == 0 {
		format, err := schema.DetectFormat([]byte(in.Content))
		if err != nil {
			httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
			return
		}
		in.Format = format
	}

	rs, err := s.registry.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rs.Deduplicated {
		httputil.WriteSuccess(w, rs)
		return
	}
	httputil.WriteCreated(w, rs)
}

// validateSchema handles POST /v1/validate
func (s *Server) validateSchema(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	format, err := req.format()
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return
	}

	report, err := s.registry.ValidateStructure(r.Context(), []byte(req.Content), format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// checkCompatibility handles POST /v1/compatibility. Nothing is registered.
func (s *Server) checkCompatibility(w http.ResponseWriter, r *http.Request) {
	var req CompatibilityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	subject := schema.Subject{Namespace: req.Namespace, Name: req.Name}
	if err := subject.Validate(); err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return
	}
	format, err := req.format()
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return
	}
	mode := s.registry.DefaultMode()
	if req.Mode != "" {
		if mode, err = compatibility.ParseMode(req.Mode); err != nil {
			httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
			return
		}
	}

	result, err := s.registry.CheckCompatibility(r.Context(), []byte(req.Content), format, subject, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// listVersions handles GET /v1/schemas/{namespace}/{name}/versions
func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	versions, err := s.registry.Versions(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(versions) == 0 {
		httputil.WriteDetailedError(w, http.StatusNotFound, CodeNotFound,
			fmt.Errorf("subject %s has no versions", subject), nil)
		return
	}
	httputil.WriteSuccess(w, VersionsResponse{Subject: subject, Versions: versions})
}

// getVersion handles GET /v1/schemas/{namespace}/{name}/versions/{version}
func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	rs, err := s.registry.Get(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rs)
}

// getLifecycle handles GET .../versions/{version}/lifecycle
func (s *Server) getLifecycle(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	lc, err := s.registry.Lifecycle(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, lc)
}

// transition serves the lifecycle operations that take no body
func (s *Server) transition(op func(Registry, context.Context, schema.Ref) (*schema.Lifecycle, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := s.ref(w, r)
		if !ok {
			return
		}
		lc, err := op(s.registry, r.Context(), ref)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, lc)
	}
}

// deprecate handles POST .../versions/{version}/deprecate
func (s *Server) deprecate(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	var req lifecycle.DeprecateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	lc, err := s.registry.Deprecate(r.Context(), ref, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, lc)
}

// sunset handles POST .../versions/{version}/sunset. A deferred sunset is
// not an error: the result carries the retry time.
func (s *Server) sunset(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	result, err := s.registry.Sunset(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Deferred {
		httputil.WriteJSON(w, http.StatusAccepted, result)
		return
	}
	httputil.WriteSuccess(w, result)
}

// abandon handles POST .../versions/{version}/abandon
func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	var req AbandonRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	lc, err := s.registry.Abandon(r.Context(), ref, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, lc)
}

// resubmit handles POST .../versions/{version}/resubmit
func (s *Server) resubmit(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	var req ResubmitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Content == "" {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("content is required"), nil)
		return
	}
	rs, err := s.registry.Resubmit(r.Context(), ref, []byte(req.Content))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rs)
}

// updateMetadata handles PUT .../versions/{version}/metadata
func (s *Server) updateMetadata(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.ref(w, r)
	if !ok {
		return
	}
	var metadata map[string]string
	if !httputil.ParseJSONOrError(w, r, &metadata) {
		return
	}
	lc, err := s.registry.UpdateMetadata(r.Context(), ref, metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, lc)
}

// rollback handles POST /v1/schemas/{namespace}/{name}/rollback. With
// ?dry_run=true only the plan is returned.
func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	dryRun, ok := httputil.ParseQueryBoolOrError(w, r, "dry_run", false)
	if !ok {
		return
	}
	var req RollbackRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	rb, err := req.toLifecycle(subject)
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return
	}

	run := s.registry.Rollback
	if dryRun {
		run = s.registry.PlanRollback
	}
	plan, err := run(r.Context(), rb)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// subject reads {namespace} and {name} from the path
func (s *Server) subject(w http.ResponseWriter, r *http.Request) (schema.Subject, bool) {
	namespace, err := httputil.ParsePathString(r, "namespace")
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return schema.Subject{}, false
	}
	name, err := httputil.ParsePathString(r, "name")
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return schema.Subject{}, false
	}
	subject := schema.Subject{Namespace: namespace, Name: name}
	if err := subject.Validate(); err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return schema.Subject{}, false
	}
	return subject, true
}

// ref reads {namespace}, {name} and {version} from the path
func (s *Server) ref(w http.ResponseWriter, r *http.Request) (schema.Ref, bool) {
	subject, ok := s.subject(w, r)
	if !ok {
		return schema.Ref{}, false
	}
	raw, err := httputil.ParsePathString(r, "version")
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return schema.Ref{}, false
	}
	version, err := schema.ParseVersion(raw)
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
		return schema.Ref{}, false
	}
	return subject.Version(version), true
}
