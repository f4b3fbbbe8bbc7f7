package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"blastd/internal/dispatch"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// errorHandler is the global error handler for echo.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, apiErr := s.mapError(err)
	if jsonErr := c.JSON(status, Envelope{Error: &apiErr}); jsonErr != nil {
		s.log.Error("failed to send error response", logx.Err(jsonErr))
	}
}

func (s *Server) mapError(err error) (int, APIError) {
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, APIError{Code: http.StatusText(echoErr.Code), Message: msg}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field:   fe.Field(),
				Message: "failed on '" + fe.Tag() + "' validation",
			})
		}
		return http.StatusBadRequest, APIError{
			Code: "validation_error", Message: "Validation failed", Details: details,
		}
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code: "not_found", Message: "The requested resource was not found",
		}
	case errors.Is(err, dispatch.ErrRunActive):
		return http.StatusConflict, APIError{
			Code: "run_active", Message: "The project already has an active run",
		}
	case errors.Is(err, dispatch.ErrNoActiveRun):
		return http.StatusConflict, APIError{
			Code: "no_active_run", Message: "The project has no active run",
		}
	case errors.Is(err, dispatch.ErrMissingConfiguration):
		return http.StatusBadRequest, APIError{
			Code: "missing_configuration", Message: "The project needs at least one session and one message",
		}
	case errors.Is(err, dispatch.ErrNoDeliverableTargets):
		return http.StatusBadRequest, APIError{
			Code: "no_targets", Message: "The project has no channels to deliver to",
		}
	default:
		s.log.Error("unhandled api error", logx.Err(err))
		return http.StatusInternalServerError, APIError{
			Code: "internal_error", Message: "An unexpected error occurred",
		}
	}
}
