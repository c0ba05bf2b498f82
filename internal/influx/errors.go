package influx

import "codeberg.org/mutker/serverpop/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig      = errors.ErrorCode("influx_invalid_config")
	ErrReadCredentials    = errors.ErrorCode("influx_read_credentials_failed")
	ErrInvalidCredentials = errors.ErrorCode("influx_invalid_credentials")

	// Write Errors
	ErrWriteRejected    = errors.ErrorCode("influx_write_rejected")
	ErrRetriesExhausted = errors.ErrorCode("influx_retries_exhausted")
	ErrWriteAborted     = errors.ErrorCode("influx_write_aborted")
)
