// Package errors provides the structured error type shared by the agent
// lifecycle packages and the storage adapters behind them. It defines
// machine-readable error codes grouped into categories, constructors for
// creating and wrapping errors, and predicates for inspecting them.
//
// # Error Categories
//
// The categories mirror the failure modes of agent lifecycle management:
//
//   - Validation errors: malformed input or a restored state document that
//     fails shape or timestamp checks
//   - NotFound errors: an operation targets an agent, cache key, or state
//     file that does not exist
//   - Conflict errors: a lifecycle transition that the current state does
//     not allow (for example resuming an agent that is not paused)
//   - Persistence errors: cache or durable store reads and writes that fail
//   - Corruption errors: logically impossible combinations of state fields
//   - Recovery errors: an agent has exhausted its recovery budget
//   - Internal, Unavailable, and Timeout errors: infrastructure failures
//
// # Error Codes
//
// Every error carries a code of the form CATEGORY_NNN (for example
// "PERSIST_002"). Codes are stable and may be used for alerting and log
// searches.
//
// # Usage
//
//	err := errors.New(errors.CodeNotFoundAgent, "agent is not registered")
//
//	if err := store.Put(ctx, path, data); err != nil {
//	    return errors.Wrap(err, errors.CodePersistenceFile, "failed to write state file")
//	}
//
//	if errors.IsNotFound(err) {
//	    // treat as a cache miss
//	}
package errors
