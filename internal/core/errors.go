// Package core provides the shared types and error taxonomy of the caching layer.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why a fetch or cache operation failed
type ErrorKind string

const (
	// KindNetworkFailure indicates a transport-level failure, including timeouts
	KindNetworkFailure ErrorKind = "network_failure"
	// KindHTTPFailure indicates the upstream answered with a non-success status
	KindHTTPFailure ErrorKind = "http_failure"
	// KindMalformedResponse indicates the body failed structural validation
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindStorageUnavailable indicates the durable cache tier could not be used
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	// KindSuperseded indicates the request was cancelled because a newer one started
	KindSuperseded ErrorKind = "superseded"
)

// FetchError is the base error type for all failures of the fetching layer
type FetchError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	// Original error for debugging
	Err error `json:"-"`
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Resource, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a later attempt could succeed.
// Client errors (4xx other than 408 and 429) and malformed bodies are permanent.
func (e *FetchError) IsRetryable() bool {
	switch e.Kind {
	case KindNetworkFailure, KindStorageUnavailable:
		return true
	case KindHTTPFailure:
		return e.StatusCode >= 500 ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}

// NewNetworkError creates a transport-level failure
func NewNetworkError(resource string, err error) *FetchError {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return &FetchError{
		Kind:     KindNetworkFailure,
		Message:  msg,
		Resource: resource,
		Err:      err,
	}
}

// NewHTTPError creates a non-success status failure
func NewHTTPError(resource string, statusCode int, message string) *FetchError {
	return &FetchError{
		Kind:       KindHTTPFailure,
		Message:    message,
		StatusCode: statusCode,
		Resource:   resource,
	}
}

// NewMalformedError creates a structural validation failure
func NewMalformedError(resource string, message string, err error) *FetchError {
	return &FetchError{
		Kind:     KindMalformedResponse,
		Message:  message,
		Resource: resource,
		Err:      err,
	}
}

// NewStorageError creates a durable tier failure
func NewStorageError(op string, err error) *FetchError {
	return &FetchError{
		Kind:    KindStorageUnavailable,
		Message: op + " failed",
		Err:     err,
	}
}

// NewSupersededError creates the error carried by a request replaced by a newer one
func NewSupersededError(resource string) *FetchError {
	return &FetchError{
		Kind:     KindSuperseded,
		Message:  "request superseded by a newer request",
		Resource: resource,
		Err:      context.Canceled,
	}
}

// KindOf returns the kind of err, or "" when err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsSuperseded reports whether err marks a superseded request
func IsSuperseded(err error) bool {
	return KindOf(err) == KindSuperseded
}

// ParseUpstreamError maps a non-success upstream response to a FetchError.
// A JSON body of the form {"error": {"message": "..."}} or {"message": "..."}
// provides the message; otherwise the raw body is used.
func ParseUpstreamError(resource string, statusCode int, body []byte) *FetchError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Error.Message != "":
			message = errorResponse.Error.Message
		case errorResponse.Message != "":
			message = errorResponse.Message
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return NewHTTPError(resource, statusCode, message)
}
