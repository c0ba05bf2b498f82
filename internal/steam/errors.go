package steam

import "codeberg.org/mutker/serverpop/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("steam_invalid_config")
	ErrReadAPIKey    = errors.ErrorCode("steam_read_api_key_failed")

	// Query Errors
	ErrRequestFailed     = errors.ErrorCode("steam_request_failed")
	ErrBadStatus         = errors.ErrorCode("steam_bad_status")
	ErrMalformedResponse = errors.ErrorCode("steam_malformed_response")
)
