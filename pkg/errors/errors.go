package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a scrape failure. Every expected failure path maps to
// exactly one kind, and every kind maps to a retry-after policy.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindHTTPError        Kind = "HTTP_ERROR"
	KindNetworkError     Kind = "NETWORK_ERROR"
	KindTimeout          Kind = "TIMEOUT"
	KindUnsupportedWorld Kind = "UNSUPPORTED_WORLD"
	KindInsufficientData Kind = "INSUFFICIENT_DATA"
	KindInternal         Kind = "INTERNAL_ERROR"
)

type ScrapeError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ScrapeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ScrapeError) Unwrap() error {
	return e.Cause
}

func NewNotFound(message string) *ScrapeError {
	return &ScrapeError{Kind: KindNotFound, StatusCode: 404, Message: message}
}

func NewHTTPError(statusCode int, message string) *ScrapeError {
	return &ScrapeError{Kind: KindHTTPError, StatusCode: statusCode, Message: message}
}

func NewNetworkError(message string, cause error) *ScrapeError {
	return &ScrapeError{Kind: KindNetworkError, Message: message, Cause: cause}
}

func NewTimeout(message string, cause error) *ScrapeError {
	return &ScrapeError{Kind: KindTimeout, Message: message, Cause: cause}
}

func NewUnsupportedWorld(world string) *ScrapeError {
	return &ScrapeError{Kind: KindUnsupportedWorld, Message: fmt.Sprintf("world %q is not supported", world)}
}

func NewInsufficientData(message string) *ScrapeError {
	return &ScrapeError{Kind: KindInsufficientData, Message: message}
}

func NewInternal(message string, cause error) *ScrapeError {
	return &ScrapeError{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the classification from err, or KindInternal when err is
// not a ScrapeError.
func KindOf(err error) Kind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

type CacheError struct {
	Operation string
	Key       string
	Cause     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed for %q: %v", e.Operation, e.Key, e.Cause)
}

func (e *CacheError) Unwrap() error {
	return e.Cause
}

func NewCacheError(operation, key string, cause error) *CacheError {
	return &CacheError{Operation: operation, Key: key, Cause: cause}
}
