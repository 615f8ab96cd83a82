package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrAlreadyExists          = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnsupportedMediaType   = errors.New("unsupported media type")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrForbidden              = errors.New("forbidden")
	ErrForbiddenInEnvironment = errors.New("forbidden in this environment")
	ErrAssetStore             = errors.New("asset store failure")
	ErrPersistence            = errors.New("persistence failure")
	ErrInternal               = errors.New("internal error")
	ErrServiceUnavail         = errors.New("service unavailable")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// UnsupportedMediaType creates a 415 error for a payload whose MIME type is not accepted.
func UnsupportedMediaType(mimeType string) *AppError {
	return &AppError{
		Code:    "UNSUPPORTED_MEDIA_TYPE",
		Message: fmt.Sprintf("content type %q is not an image", mimeType),
		Status:  http.StatusUnsupportedMediaType,
		Err:     ErrUnsupportedMediaType,
	}
}

// PayloadTooLarge creates a 413 error for a payload above the configured
// limit. A negative size means the size is unknown, as with chunked bodies.
func PayloadTooLarge(size, limit int64) *AppError {
	message := fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", size, limit)
	if size < 0 {
		message = fmt.Sprintf("payload exceeds limit of %d bytes", limit)
	}
	return &AppError{
		Code:    "PAYLOAD_TOO_LARGE",
		Message: message,
		Status:  http.StatusRequestEntityTooLarge,
		Err:     ErrPayloadTooLarge,
	}
}

// ForbiddenInEnvironment creates a 403 error for an operation the running
// environment does not permit.
func ForbiddenInEnvironment(operation, environment string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN_IN_ENVIRONMENT",
		Message: fmt.Sprintf("%s is not allowed in %s", operation, environment),
		Status:  http.StatusForbidden,
		Err:     ErrForbiddenInEnvironment,
	}
}

// AssetStore creates a 502 error for a failed call to the binary asset backend.
// The cause stays reachable through errors.Is / errors.As.
func AssetStore(err error) *AppError {
	return &AppError{
		Code:    "ASSET_STORE_ERROR",
		Message: "asset storage is unavailable",
		Status:  http.StatusBadGateway,
		Err:     fmt.Errorf("%w: %w", ErrAssetStore, err),
	}
}

// AssetRejected creates a 400 error for an upload the asset backend refused
// to accept. It counts as a validation failure.
func AssetRejected(err error) *AppError {
	return &AppError{
		Code:    "ASSET_REJECTED",
		Message: "image was rejected by asset storage",
		Status:  http.StatusBadRequest,
		Err:     fmt.Errorf("%w: %w", ErrInvalidInput, err),
	}
}

// Persistence creates a 500 error for a failed database write.
func Persistence(err error) *AppError {
	return &AppError{
		Code:    "PERSISTENCE_ERROR",
		Message: "failed to persist record",
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %w", ErrPersistence, err),
	}
}

// IsValidation reports whether err is any kind of rejected input: missing or
// invalid fields, a disallowed MIME type, or an oversized payload.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrPayloadTooLarge)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrForbiddenInEnvironment):
		return http.StatusForbidden
	case errors.Is(err, ErrAssetStore):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
