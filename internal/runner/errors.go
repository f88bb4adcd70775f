package runner

import "errors"

var (
	// ErrUnknownAlias indicates a start was requested for an alias this
	// runner does not own.
	ErrUnknownAlias = errors.New("alias not owned by this runner")
	// ErrSpawnFailed indicates the subprocess could not be created.
	ErrSpawnFailed = errors.New("unable to spawn runner process")
	// ErrExitedBeforeReady indicates the child process exited before the
	// readiness probe succeeded.
	ErrExitedBeforeReady = errors.New("runner process exited before becoming ready")
	// ErrReadinessTimeout indicates the readiness probe budget was
	// exhausted without a successful TCP connect.
	ErrReadinessTimeout = errors.New("runner did not become ready in time")
)
