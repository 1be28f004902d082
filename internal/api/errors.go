package api

import (
	"errors"
	"net/http"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// statusFor maps a failure kind onto an HTTP status.
func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.ResourceLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case failure.InvalidInput, failure.ForbiddenContent, failure.NestingTooDeep:
		return http.StatusUnprocessableEntity
	case failure.Overload:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err in full and answers with its sanitized form only.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	id := uuid.NewString()
	var pe *convert.PublicError
	if errors.As(err, &pe) {
		id = pe.CorrelationID
	}
	pub := convert.SanitizeWithID(err, id)
	kind := failure.KindOf(err)

	log := s.log.With("correlation_id", pub.CorrelationID, "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path)
	if kind == failure.Internal {
		log.Error("conversion failed", "error", err)
	} else {
		log.Warn("conversion rejected", "kind", kind.String(), "error", err)
	}

	if kind == failure.Overload {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(kind), map[string]any{"error": pub})
}
