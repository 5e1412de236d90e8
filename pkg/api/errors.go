package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/lineage/pkg/httputil"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
)

// Error codes returned in the "code" field of error responses
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeParseError         = "PARSE_ERROR"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeIncompatible       = "INCOMPATIBLE"
	CodeVersionConflict    = "VERSION_CONFLICT"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidDeprecation = "INVALID_DEPRECATION"
	CodeActiveConsumers    = "ACTIVE_CONSUMERS"
	CodeRollbackFailed     = "ROLLBACK_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

// writeError maps a coordinator error to a status code and a structured body.
// Validation reports, compatibility results and rollback plans are returned
// as details so clients can show what was rejected.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		regErr   *lifecycle.RegistrationError
		rbErr    *lifecycle.RollbackError
		stateErr *lifecycle.StateError
		depErr   *lifecycle.DeprecationError
		parseErr *schema.ParseError
	)

	switch {
	case errors.Is(err, lifecycle.ErrBusy):
		httputil.WriteServiceUnavailable(w, err.Error(), s.retryAfter)
	case errors.As(err, &regErr):
		s.writeRegistrationError(w, r, regErr)
	case errors.As(err, &rbErr):
		if errors.Is(err, lifecycle.ErrIncompatible) {
			httputil.WriteDetailedError(w, http.StatusConflict, CodeIncompatible, err, rbErr.Plan)
			return
		}
		s.logError(r, err)
		httputil.WriteDetailedError(w, http.StatusInternalServerError, CodeRollbackFailed, err, rbErr.Plan)
	case errors.As(err, &parseErr):
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeParseError, err, nil)
	case errors.As(err, &stateErr):
		httputil.WriteDetailedError(w, http.StatusConflict, CodeInvalidState, err, nil)
	case errors.As(err, &depErr):
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidDeprecation, err, nil)
	case errors.Is(err, lifecycle.ErrActiveConsumers):
		httputil.WriteDetailedError(w, http.StatusConflict, CodeActiveConsumers, err, nil)
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		httputil.WriteDetailedError(w, http.StatusBadRequest, CodeInvalidRequest, err, nil)
	case errors.Is(err, storage.ErrNotFound):
		httputil.WriteDetailedError(w, http.StatusNotFound, CodeNotFound, err, nil)
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, storage.ErrConflict),
		errors.Is(err, lifecycle.ErrVersionNotIncreasing):
		httputil.WriteDetailedError(w, http.StatusConflict, CodeVersionConflict, err, nil)
	default:
		s.logError(r, err)
		httputil.WriteDetailedError(w, http.StatusInternalServerError, CodeInternal, err, nil)
	}
}

func (s *Server) writeRegistrationError(w http.ResponseWriter, r *http.Request, err *lifecycle.RegistrationError) {
	switch err.Stage {
	case lifecycle.StageParse:
		code := CodeInvalidRequest
		var parseErr *schema.ParseError
		if errors.As(err, &parseErr) {
			code = CodeParseError
		}
		httputil.WriteDetailedError(w, http.StatusBadRequest, code, err, nil)
	case lifecycle.StageVersion:
		httputil.WriteDetailedError(w, http.StatusConflict, CodeVersionConflict, err, nil)
	case lifecycle.StageValidation:
		if err.Report == nil {
			httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, CodeValidationFailed, err, nil)
			return
		}
		httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, CodeValidationFailed, err, err.Report)
	case lifecycle.StageCompatibility:
		if errors.Is(err, lifecycle.ErrIncompatible) {
			httputil.WriteDetailedError(w, http.StatusConflict, CodeIncompatible, err, err.Result)
			return
		}
		s.logError(r, err)
		httputil.WriteDetailedError(w, http.StatusInternalServerError, CodeInternal, err, nil)
	default:
		s.logError(r, err)
		httputil.WriteDetailedError(w, http.StatusInternalServerError, CodeInternal, err, nil)
	}
}

func (s *Server) logError(r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("Request failed")
}
