package governor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCoolingDown is returned without any network attempt while the
	// endpoint family is in cooldown.
	ErrCoolingDown = errors.New("governor: endpoint cooling down")
	// ErrRateLimited is returned when the upstream answers 429, 403 or 412.
	ErrRateLimited = errors.New("governor: rate limited")
	// ErrUnexpectedStatus is returned for non-retryable statuses below 500.
	ErrUnexpectedStatus = errors.New("governor: unexpected status")
	// ErrAttemptsExhausted is returned after every attempt failed transiently.
	ErrAttemptsExhausted = errors.New("governor: attempts exhausted")
)

// StatusError describes a response that ended the call without retrying.
type StatusError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s: status %d", e.Err, e.Key, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// CooldownError reports a suppressed call and when the suppression ends.
type CooldownError struct {
	Key   string
	Until time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: %s for %s", ErrCoolingDown, e.Key, time.Until(e.Until).Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCoolingDown }
