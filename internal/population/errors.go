package population

import "codeberg.org/mutker/serverpop/internal/errors"

const (
	ErrInvalidRegionTable = errors.ErrorCode("population_invalid_region_table")
)
