package backend

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the API rejected the credential (401/403).
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrNotFound means the requested entity does not exist (404).
	ErrNotFound = errors.New("backend: not found")
	// ErrServerError covers 5xx responses.
	ErrServerError = errors.New("backend: server error")
	// ErrNetwork wraps transport failures; callers do not retry.
	ErrNetwork = errors.New("backend: network error")
	// ErrInvalidInput reports a bad argument before any request is made.
	ErrInvalidInput = errors.New("backend: invalid input")
)

// APIError is a non-success response from the content API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend api error (status %d): %s", e.StatusCode, e.Message)
}

// Is maps status codes to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		return target == ErrNotFound
	}
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return target == ErrServerError
	}
	return false
}

func newAPIError(status int, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body), RequestID: requestID}
	var errResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
	}
	return apiErr
}
