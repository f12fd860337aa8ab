package config

import "errors"

var (
	// ErrNilPointer is returned when Load is called with a nil destination.
	ErrNilPointer = errors.New("config: destination is nil")
	// ErrParsingConfig wraps env tag parsing failures, including missing
	// required variables.
	ErrParsingConfig = errors.New("config: failed to parse environment")
)
