// Package logger builds configured log/slog loggers.
//
// Three formats are supported: JSON for production aggregation, plain text,
// and a colorized development format. Level and format can come from code or
// from LOG_LEVEL / LOG_FORMAT environment variables via Config.
package logger
