package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can branch on it programmatically.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindDuplicateKey      Kind = "DUPLICATE_KEY"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindStorageFailure    Kind = "STORAGE_FAILURE"
	KindUnavailable       Kind = "SERVICE_UNAVAILABLE"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Metadata describes how a kind is exposed over HTTP.
type Metadata struct {
	StatusCode    int
	PublicMessage string
	// Exposed reports whether the error's own message and details may be sent to clients.
	Exposed bool
}

var metadataByKind = map[Kind]Metadata{
	KindNotFound:          {StatusCode: http.StatusNotFound, PublicMessage: "Resource not found", Exposed: true},
	KindDuplicateKey:      {StatusCode: http.StatusConflict, PublicMessage: "Resource already exists", Exposed: true},
	KindInsufficientStock: {StatusCode: http.StatusBadRequest, PublicMessage: "Insufficient stock", Exposed: true},
	KindInvalidInput:      {StatusCode: http.StatusBadRequest, PublicMessage: "Validation failed", Exposed: true},
	KindStorageFailure:    {StatusCode: http.StatusInternalServerError, PublicMessage: "Storage failure"},
	KindUnavailable:       {StatusCode: http.StatusServiceUnavailable, PublicMessage: "Service temporarily unavailable"},
	KindInternal:          {StatusCode: http.StatusInternalServerError, PublicMessage: "An unexpected error occurred"},
}

// MetadataFor returns the HTTP metadata of kind, falling back to KindInternal.
func MetadataFor(kind Kind) Metadata {
	if meta, ok := metadataByKind[kind]; ok {
		return meta
	}
	return metadataByKind[KindInternal]
}

// Error represents a structured error raised by the ledger or its storage.
type Error struct {
	Kind    Kind
	Message string
	Details []FieldError
	cause   error
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind, so errors.Is(err, apierror.NotFound("")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// StatusCode returns the HTTP status for the error's kind.
func (e *Error) StatusCode() int {
	return MetadataFor(e.Kind).StatusCode
}

// ToJSON converts the error to the public JSON envelope.
func (e *Error) ToJSON() []byte {
	meta := MetadataFor(e.Kind)
	message := meta.PublicMessage
	if meta.Exposed && e.Message != "" {
		message = e.Message
	}

	body := map[string]interface{}{
		"code":    e.Kind,
		"message": message,
	}
	if meta.Exposed && len(e.Details) > 0 {
		body["details"] = e.Details
	}

	data, _ := json.Marshal(map[string]interface{}{
		"success": false,
		"error":   body,
	})
	return data
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for untyped errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindInternal
}

// NotFound creates a NOT_FOUND error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return New(KindNotFound, message)
}

// DuplicateKey creates a DUPLICATE_KEY error.
func DuplicateKey(message string) *Error {
	return New(KindDuplicateKey, message)
}

// InsufficientStock creates an INSUFFICIENT_STOCK error.
func InsufficientStock(message string) *Error {
	return New(KindInsufficientStock, message)
}

// InvalidInput creates an INVALID_INPUT error with optional field details.
func InvalidInput(message string, details ...FieldError) *Error {
	return &Error{Kind: KindInvalidInput, Message: message, Details: details}
}

// StorageFailure wraps a storage-layer fault.
func StorageFailure(cause error, message string) *Error {
	return Wrap(KindStorageFailure, cause, message)
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return New(KindUnavailable, message)
}

// InternalError creates a 500 error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return New(KindInternal, message)
}
