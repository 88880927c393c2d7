package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrProviderFailure  = errors.New("provider failure")
)
