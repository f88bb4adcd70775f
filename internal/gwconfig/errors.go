package gwconfig

import "errors"

// Sentinel configuration errors. All are fatal: the gateway refuses to start
// if config loading returns one of these.
var (
	ErrSchemaValidation  = errors.New("config failed schema validation")
	ErrUnknownRunner     = errors.New("model names a runner that does not exist")
	ErrDuplicatePort     = errors.New("port already in use")
	ErrDuplicateAlias    = errors.New("alias already in use")
	ErrInvalidRetryPolicy = errors.New("retry_config.max_delay_seconds must be >= base_delay_seconds")
	ErrNoModels          = errors.New("models must be a non-empty list")
	ErrInvalidPort       = errors.New("port must be a positive integer")
)
