package respool

import (
	"errors"
	"fmt"
)

var (
	ErrPoolExhausted       = errors.New("pool exhausted")
	ErrCASRetriesExhausted = errors.New("compare-and-swap retries exhausted")
	ErrDecode              = errors.New("cannot decode item")
	ErrUnknownType         = errors.New("unknown type")
	ErrInvalidName         = errors.New("invalid item name")
)

// PoolExhaustedError is returned when no free value is left in a pool, or
// when its size ceiling has been reached
type PoolExhaustedError struct {
	Pool string
}

func NewPoolExhaustedError(pool string) error {
	return &PoolExhaustedError{
		Pool: pool,
	}
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool %s exhausted", e.Pool)
}

func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

type CASRetriesExhaustedError struct {
	Key      string
	Attempts int
}

func (e *CASRetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up updating %s after %d conflicting attempts", e.Key, e.Attempts)
}

func (e *CASRetriesExhaustedError) Is(target error) bool {
	return target == ErrCASRetriesExhausted
}

// DecodeError reports a malformed item, found in the cache or provided
// by a caller
type DecodeError struct {
	Key    string
	Reason string
}

func NewDecodeError(key, reason string) error {
	return &DecodeError{
		Key:    key,
		Reason: reason,
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode item %q: %s", e.Key, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
