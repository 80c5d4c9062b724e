package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and the executor.
var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPersist           = errors.New("persist job state")
)

// NetworkError signals a transport, timeout or HTTP error-range failure. It is
// transient and retried by WithRetry.
type NetworkError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error (status %d): %s", e.StatusCode, msg)
	}
	return "network error: " + msg
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ContentError signals that the page loaded but the expected content was missing.
// It is permanent.
type ContentError struct {
	Message string
	URL     string
	Err     error
}

func (e *ContentError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("content error: %s (url %s)", e.Message, e.URL)
	}
	return "content error: " + e.Message
}

func (e *ContentError) Unwrap() error { return e.Err }

// ConfigurationError signals a caller or programming error such as an unknown
// method selector. It is permanent.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// StatusCode extracts the HTTP status carried by a NetworkError, or 0.
func StatusCode(err error) int {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.StatusCode
	}
	return 0
}

// Kind names the failure class of err for logs and metrics.
func Kind(err error) string {
	var (
		netErr     *NetworkError
		contentErr *ContentError
		cfgErr     *ConfigurationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &contentErr):
		return "content"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "internal"
	}
}

// Describe renders err as the message persisted on an errored job. Classified
// errors already carry their kind prefix; anything else is labelled internal.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if Kind(err) == "internal" {
		return "internal error: " + err.Error()
	}
	return err.Error()
}
