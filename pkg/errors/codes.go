package errors

// Code is a machine-readable error code of the form CATEGORY_NNN, where
// CATEGORY is a short identifier (VAL, NF, PERSIST, ...) and NNN is a
// three-digit number. Codes never change meaning once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - invalid input or state documents
//	NF_xxx      - missing agents, keys, or files
//	CONF_xxx    - rejected lifecycle transitions
//	PERSIST_xxx - cache and durable store failures
//	CORRUPT_xxx - logically inconsistent agent state
//	RECOV_xxx   - recovery budget exhausted
//	INT_xxx     - unexpected internal failures
//	UNAVAIL_xxx - dependency unavailable
//	TIMEOUT_xxx - operation exceeded its deadline
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field is malformed, such as a
	// timestamp that does not parse as RFC 3339.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationStatus indicates an unknown agent status value.
	CodeValidationStatus Code = "VAL_004"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundAgent indicates the agent id is not registered.
	CodeNotFoundAgent Code = "NF_002"

	// CodeNotFoundKey indicates a cache key or stored object is absent.
	CodeNotFoundKey Code = "NF_003"

	// CodeConflict indicates a general conflict with current state.
	CodeConflict Code = "CONF_001"

	// CodeConflictTransition indicates a lifecycle transition that is not
	// allowed from the agent's current status.
	CodeConflictTransition Code = "CONF_002"

	// CodePersistence indicates a general persistence failure.
	CodePersistence Code = "PERSIST_001"

	// CodePersistenceCache indicates a cache store operation failed.
	CodePersistenceCache Code = "PERSIST_002"

	// CodePersistenceFile indicates a durable state file operation failed.
	CodePersistenceFile Code = "PERSIST_003"

	// CodeCorruption indicates agent state with contradictory fields.
	CodeCorruption Code = "CORRUPT_001"

	// CodeRecoveryExhausted indicates an agent reached its failure ceiling
	// and is no longer eligible for automatic recovery.
	CodeRecoveryExhausted Code = "RECOV_001"

	// CodeRecoveryCooldown indicates a recovery attempt came too soon
	// after the last failure.
	CodeRecoveryCooldown Code = "RECOV_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_002"

	// CodeUnavailable indicates a general unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a backing store cannot be reached
	// or its circuit breaker is open.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutStorage indicates a storage operation exceeded its deadline.
	CodeTimeoutStorage Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
