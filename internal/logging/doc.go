// Package logging builds the slog loggers used across relato: a pretty
// console handler for interactive use, a JSON handler for the daemon, and
// helpers that lift project/stage identifiers from context into attributes.
package logging
