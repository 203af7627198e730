// Package logger provides structured logging for LeapCache.
//
// It wraps log/slog with JSON or text output, an optional log file
// mirrored to the console, dynamic level adjustment, and automatic
// redaction of credential-bearing attributes (the AUTH secret never
// reaches the log).
package logger
