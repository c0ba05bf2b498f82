package collector

import "codeberg.org/mutker/serverpop/internal/errors"

const (
	ErrInvalidConfig     = errors.ErrorCode("collector_invalid_config")
	ErrAllQueriesFailed  = errors.ErrorCode("collector_all_queries_failed")
	ErrWriteMeasurements = errors.ErrWriteFailed
	ErrCycleAborted      = errors.ErrCycleAborted
)
