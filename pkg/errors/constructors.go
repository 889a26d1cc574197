package errors

import (
	"errors"
	"fmt"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates an Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err with a code and message. If err is nil, Wrap returns nil.
//
// Example:
//
//	if err := cache.Put(ctx, key, data, ttl); err != nil {
//	    return errors.Wrap(err, errors.CodePersistenceCache, "cache write failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a code and formatted message. If err is nil, Wrapf
// returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// AgentNotFound creates a not-found error for the given agent id.
func AgentNotFound(agentID string) *Error {
	return New(CodeNotFoundAgent, "agent is not registered").
		WithDetail("agent_id", agentID)
}

// KeyNotFound creates a not-found error for a missing cache key or
// stored object.
func KeyNotFound(key string) *Error {
	return Newf(CodeNotFoundKey, "key %q not found", key)
}

// TransitionRejected creates a conflict error for a lifecycle transition
// that the current status does not allow.
func TransitionRejected(agentID string, from, to string) *Error {
	return Newf(CodeConflictTransition,
		"transition from %q to %q is not allowed", from, to).
		WithDetail("agent_id", agentID)
}

// Unavailable creates an unavailable error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError converts err to an *Error. An existing *Error anywhere in the
// chain is returned as-is; any other error is wrapped as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
