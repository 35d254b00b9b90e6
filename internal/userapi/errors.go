package userapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeUnknown is reported when an error response carries no parseable envelope.
const CodeUnknown = "UNKNOWN"

// Error codes issued by the service that callers commonly branch on.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "RESOURCE_NOT_FOUND"
	CodeAccessDenied          = "RESOURCE_ACCESS_DENIED"
	CodeAuthRequired          = "AUTH_REQUIRED"
	CodeClientHasHashlists    = "CLIENT_HAS_HASHLISTS"
	CodeHashlistHasActiveJobs = "HASHLIST_HAS_ACTIVE_JOBS"
	CodeClientRequired        = "CLIENT_REQUIRED"
	CodeAgentNotFound         = "AGENT_NOT_FOUND"
)

// ErrInvalidArgument is matched by every ValidationError.
var ErrInvalidArgument = errors.New("invalid argument")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	// Status is the raw status line, e.g. "409 Conflict".
	Status  string
	Code    string
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Method == "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", msg, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s (%s, HTTP %d)", e.Method, e.Path, msg, e.Code, e.StatusCode)
}

// TransportError means no HTTP response was received.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("request %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError rejects an argument locally, before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidArg(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// errorEnvelope accepts both the documented {"error","code"} shape and the
// {"message","code"} shape some handlers emit.
type errorEnvelope struct {
	Error   *string `json:"error"`
	Message *string `json:"message"`
	Code    *string `json:"code"`
}

// parseAPIError classifies an error response in two steps: a structured
// envelope when the body is a JSON object carrying one, else the raw text.
func parseAPIError(method, path string, statusCode int, status string, data []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Status:     status,
		Method:     method,
		Path:       path,
	}
	if env, ok := decodeEnvelope(data); ok {
		apiErr.Code = CodeUnknown
		if env.Code != nil && strings.TrimSpace(*env.Code) != "" {
			apiErr.Code = *env.Code
		}
		switch {
		case env.Error != nil:
			apiErr.Message = *env.Error
		case env.Message != nil:
			apiErr.Message = *env.Message
		default:
			apiErr.Message = "Unknown error"
		}
		return apiErr
	}
	apiErr.Code = CodeUnknown
	if strings.TrimSpace(apiErr.Status) == "" {
		apiErr.Status = fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
	}
	apiErr.Message = string(data)
	if strings.TrimSpace(apiErr.Message) == "" {
		apiErr.Message = apiErr.Status
	}
	return apiErr
}

func decodeEnvelope(data []byte) (errorEnvelope, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return errorEnvelope{}, false
	}
	var env errorEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return errorEnvelope{}, false
	}
	if env.Error == nil && env.Message == nil && env.Code == nil {
		return errorEnvelope{}, false
	}
	return env, true
}

// StatusCode returns the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ErrorCode returns the service code of an APIError in err's chain, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsTransport reports whether err is a no-response failure.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
