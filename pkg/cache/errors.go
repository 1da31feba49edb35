package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss is returned by Get when the key does not exist
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable matches every UnavailableError
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrUnknownCacheType is returned by the factory for unsupported backends
	ErrUnknownCacheType = errors.New("unknown cache type")
)

// UnavailableError reports that the cache service could not be reached
// or failed while serving a request. It lets callers tell a missing
// resource apart from an unreachable resource service.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func NewUnavailableError(backend, op string, err error) error {
	return &UnavailableError{
		Backend: backend,
		Op:      op,
		Err:     err,
	}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s cache unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCacheUnavailable
}

// TokenError is returned when a Token issued by another backend is passed
// to CompareAndSwap
type TokenError struct {
	Backend string
	Token   Token
}

func (e TokenError) Error() string {
	return fmt.Sprintf("invalid %s cas token: %T", e.Backend, e.Token)
}
