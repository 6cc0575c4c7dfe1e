package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrEmptyResponse  = errors.New("empty response body")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrEmptySelectors = errors.New("selector map is empty")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotRunning  = errors.New("job is not running")
	ErrTooManyJobs    = errors.New("too many concurrent jobs")
	ErrNotReentrant   = errors.New("runner already used for a job")
)

// FetchErrorKind classifies why a page could not be fetched.
type FetchErrorKind string

const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchConnectionFailed FetchErrorKind = "connection_failed"
	FetchHTTPError        FetchErrorKind = "http_error"
	FetchOther            FetchErrorKind = "other"
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int // set when Kind is FetchHTTPError
	Err        error
	Retryable  bool
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPError {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchErrorKindOf returns the kind of a fetch error, or FetchOther when err
// is not a *FetchError.
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchOther
}

// ConfigError reports a job that cannot be started as submitted: an empty
// selector map, a reserved or empty field name, or a malformed seed URL.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid job configuration (%s): %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid job configuration (%s): %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
