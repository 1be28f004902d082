package convert

import (
	"errors"

	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/google/uuid"
)

// PublicError is the only error shape that leaves the process. It carries
// the coarse kind, a fixed message and an id for matching server logs.
type PublicError struct {
	Kind          string   `json:"kind"`
	Message       string   `json:"message"`
	CorrelationID string   `json:"correlation_id"`
	Issues        []string `json:"issues,omitempty"`
}

func (e *PublicError) Error() string {
	return e.Kind + ": " + e.Message + " (" + e.CorrelationID + ")"
}

// Sanitize maps any error to a PublicError with a fresh correlation id.
// Offsets, codes and wrapped messages are dropped; validation issue kinds
// are kept because they are a closed set.
func Sanitize(err error) *PublicError {
	return SanitizeWithID(err, uuid.NewString())
}

// SanitizeWithID is Sanitize with a caller-chosen correlation id, so the id
// logged next to the full error matches the one returned.
func SanitizeWithID(err error, id string) *PublicError {
	var pe *PublicError
	if errors.As(err, &pe) {
		return pe
	}
	kind := failure.KindOf(err)
	out := &PublicError{Kind: kind.String(), Message: kind.Message(), CorrelationID: id}
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Code == failure.CodeUnresolvedIssues {
		out.Issues = append([]string(nil), fe.Issues...)
	}
	return out
}
