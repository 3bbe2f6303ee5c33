package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/review"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts the first validator failure into an ErrValidation.
func validationError(err error) *ErrValidation {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		msg := ve.Tag()
		if ve.Param() != "" {
			msg += "=" + ve.Param()
		}
		return &ErrValidation{Field: ve.Field(), Message: msg}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var ve *ErrValidation
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, intake.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, intake.ErrEmptyUpload),
		errors.Is(err, intake.ErrUnknownKind),
		errors.Is(err, intake.ErrMissingOwner),
		errors.Is(err, review.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrDocumentNotFound), errors.Is(err, intake.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrNotReviewable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
