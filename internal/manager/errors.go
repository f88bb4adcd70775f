package manager

import "errors"

var (
	// ErrUnknownAlias indicates a request named an alias not present in the
	// loaded configuration. StartRunner and StopRunner also return it for a
	// runner name that is not configured.
	ErrUnknownAlias = errors.New("no runner available for alias")
	// ErrForwardFailed indicates the upstream request could not even be
	// issued (dial/connect failure), distinct from an upstream error status.
	ErrForwardFailed = errors.New("failed to reach upstream runner")
)
