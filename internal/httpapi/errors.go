package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/runtimelab/lam/contracts"
)

// ErrorCode represents an API error code.
type ErrorCode string

const (
	CodeInvalidInput  ErrorCode = "invalid_input"
	CodeNotFound      ErrorCode = "not_found"
	CodeInternalError ErrorCode = "internal_error"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MapError maps a domain error to an HTTPError.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, contracts.ErrInvalidInput):
		return &HTTPError{http.StatusBadRequest, CodeInvalidInput, err}
	default:
		return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
	}
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response to the HTTP response writer.
func writeError(w http.ResponseWriter, err error) {
	httpErr := MapError(err)
	writeJSON(w, httpErr.StatusCode, ErrorDTO{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	})
}
