// Package errs holds the sentinel errors shared across the engine. Callers wrap
// them with fmt.Errorf("...: %w", err) and test with errors.Is.
package errs

import "errors"

var (
	// ErrWatcherTransient is a watcher cycle failure that will be retried with backoff
	ErrWatcherTransient = errors.New("watcher transient failure")

	// ErrWatcherFatal stops a watcher until it is restarted
	ErrWatcherFatal = errors.New("watcher fatal failure")

	// ErrOracleCall is returned when the decision oracle could not be reached
	ErrOracleCall = errors.New("oracle call failed")

	// ErrOracleTimeout is returned when the oracle did not answer within its deadline
	ErrOracleTimeout = errors.New("oracle timed out")

	// ErrOracleParse is returned when the oracle answered with an unusable proposal
	ErrOracleParse = errors.New("oracle response could not be parsed")

	// ErrApprovalExpired is returned when resolving an approval request past its deadline
	ErrApprovalExpired = errors.New("approval request expired")

	// ErrApprovalResolved is returned when resolving a request that already has a different resolution
	ErrApprovalResolved = errors.New("approval request already resolved")

	// ErrExecution wraps connector failures
	ErrExecution = errors.New("action execution failed")

	// ErrNotFound is returned when a task or record does not exist where expected
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when a task id already exists in some partition
	ErrDuplicateID = errors.New("duplicate task id")

	// ErrInvalidPartition is returned for partition names outside the known set
	ErrInvalidPartition = errors.New("invalid partition")
)
