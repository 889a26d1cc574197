package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "" if
// there is none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries exactly the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsNotFound reports whether err is a not found error (NF_xxx).
//
// Example:
//
//	data, err := cache.Get(ctx, key)
//	if errors.IsNotFound(err) {
//	    // fall back to the durable store
//	}
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsConflict reports whether err is a conflict error (CONF_xxx).
func IsConflict(err error) bool { return hasCategory(err, "CONF") }

// IsPersistence reports whether err is a persistence error (PERSIST_xxx).
func IsPersistence(err error) bool { return hasCategory(err, "PERSIST") }

// IsRecovery reports whether err is a recovery budget error (RECOV_xxx).
func IsRecovery(err error) bool { return hasCategory(err, "RECOV") }

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports whether err is an unavailable error (UNAVAIL_xxx).
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsRetryable reports whether the operation that produced err may succeed
// if repeated. Timeout, unavailable, and persistence errors are retryable;
// validation, not found, and conflict errors are not.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL", "PERSIST":
		return true
	default:
		return false
	}
}
