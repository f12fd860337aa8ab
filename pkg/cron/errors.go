package cron

import "errors"

var (
	// ErrInvalidExpression is returned when an expression cannot be parsed.
	ErrInvalidExpression = errors.New("cron: invalid expression")
	// ErrNoUpcomingRun is returned when no matching time exists within the
	// two-year search horizon, e.g. "0 0 30 2 *".
	ErrNoUpcomingRun = errors.New("cron: no upcoming run within two years")
)
