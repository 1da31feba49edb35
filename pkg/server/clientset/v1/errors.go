package v1

import (
	"errors"
	"fmt"

	"github.com/f5qa/respool/pkg/cache"
	"github.com/f5qa/respool/pkg/respool"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a failure reported by the respool API. It matches the
// errors of the respool and cache packages the server got.
type APIError struct {
	StatusCode int
	Reason     string
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("respool api error (%d %s): %s", e.StatusCode, e.Reason, e.Msg)
}

func (e *APIError) Is(target error) bool {
	switch e.Reason {
	case ReasonExhausted:
		return target == respool.ErrPoolExhausted
	case ReasonConflict:
		return target == respool.ErrCASRetriesExhausted
	case ReasonUnavailable:
		return target == cache.ErrCacheUnavailable
	case ReasonNotFound:
		return target == ErrNotFound
	case ReasonUnauthorized:
		return target == ErrUnauthorized
	case ReasonInvalid:
		return target == respool.ErrDecode || target == respool.ErrInvalidName
	}
	return false
}
