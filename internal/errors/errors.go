package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// GatewayError represents an error that can be returned to clients.
// ErrorCode is a stable machine-readable token; Message is for humans.
type GatewayError struct {
	Status        int    `json:"-"`
	ErrorCode     string `json:"error"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	RetryAfter    int    `json:"retryAfter,omitempty"`
	underlying    error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// Base error singletons use pre-serialized JSON to avoid allocations.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.WriteHeader(e.Status)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNotFound = &GatewayError{
		Status:    http.StatusNotFound,
		ErrorCode: "not_found",
		Message:   "No route matched the request",
	}

	ErrUnauthorized = &GatewayError{
		Status:    http.StatusUnauthorized,
		ErrorCode: "unauthorized",
		Message:   "Missing API key",
	}

	ErrForbidden = &GatewayError{
		Status:    http.StatusForbidden,
		ErrorCode: "forbidden",
		Message:   "Invalid API key",
	}

	ErrTooManyRequests = &GatewayError{
		Status:    http.StatusTooManyRequests,
		ErrorCode: "too_many_requests",
		Message:   "Rate limit exceeded. Please retry later.",
	}

	ErrServiceUnavailable = &GatewayError{
		Status:    http.StatusServiceUnavailable,
		ErrorCode: "SERVICE_UNAVAILABLE",
		Message:   "The requested service is temporarily unavailable.",
	}

	ErrPayloadTooLarge = &GatewayError{
		Status:    http.StatusRequestEntityTooLarge,
		ErrorCode: "payload_too_large",
		Message:   "Request body exceeds the maximum allowed size",
	}

	ErrBadRequest = &GatewayError{
		Status:    http.StatusBadRequest,
		ErrorCode: "bad_request",
		Message:   "Bad Request",
	}

	ErrInternalServer = &GatewayError{
		Status:    http.StatusInternalServerError,
		ErrorCode: "internal_error",
		Message:   "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrNotFound, ErrUnauthorized, ErrForbidden, ErrTooManyRequests,
		ErrServiceUnavailable, ErrPayloadTooLarge, ErrBadRequest,
		ErrInternalServer,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new GatewayError.
func New(status int, errorCode, message string) *GatewayError {
	return &GatewayError{
		Status:    status,
		ErrorCode: errorCode,
		Message:   message,
	}
}

// Wrap wraps an error with a client-visible status and message.
func Wrap(err error, status int, errorCode, message string) *GatewayError {
	return &GatewayError{
		Status:     status,
		ErrorCode:  errorCode,
		Message:    message,
		underlying: err,
	}
}

// WithDetails returns a copy of the error with details attached.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	clone := *e
	clone.Details = details
	return &clone
}

// WithCorrelationID returns a copy of the error carrying the correlation id.
func (e *GatewayError) WithCorrelationID(id string) *GatewayError {
	clone := *e
	clone.CorrelationID = id
	return &clone
}

// WithMessage returns a copy of the error with a different human message.
func (e *GatewayError) WithMessage(message string) *GatewayError {
	clone := *e
	clone.Message = message
	return &clone
}

// WithRetryAfter returns a copy of the error carrying a retry hint in seconds.
func (e *GatewayError) WithRetryAfter(seconds int) *GatewayError {
	clone := *e
	clone.RetryAfter = seconds
	return &clone
}

// IsGatewayError checks if an error is a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
