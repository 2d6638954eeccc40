package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classifying failures across the ingest path and the
// pipeline. Wrap tags an error with one of these so callers can pick
// retry-vs-abort policy with errors.Is.
var (
	// ErrConflict signals a duplicate identifier (segment, photo).
	ErrConflict = errors.New("conflict")
	// ErrOutOfOrder signals a stale ingest sequence number.
	ErrOutOfOrder = errors.New("out of order")
	// ErrReadOnly signals a mutation against a project no longer recording.
	ErrReadOnly = errors.New("read only")
	// ErrQuotaExceeded signals the quota ledger cap was reached.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidMarkers signals the photo token contract was violated by the
	// generation step. Never retried automatically.
	ErrInvalidMarkers = errors.New("invalid markers")
	// ErrNotFound signals a missing project, user, or record.
	ErrNotFound = errors.New("not found")
	// ErrExpired signals the project passed its expiry horizon.
	ErrExpired = errors.New("expired")
	// ErrExternalCall signals a transient model/queue/storage failure,
	// retried per stage policy.
	ErrExternalCall = errors.New("external call failure")
	// ErrValidation signals input that can never succeed without remediation.
	ErrValidation = errors.New("validation error")
	// ErrFatal signals an unexpected internal failure surfaced as project error.
	ErrFatal = errors.New("fatal error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrFatal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should be retried by the
// orchestrator. Marker violations, validation failures, and quota rejections
// repeat without remediation, so only transient external failures qualify.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidMarkers),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, ErrExternalCall):
		return true
	default:
		return false
	}
}

// Message extracts the human-readable portion of a classified error, suitable
// for persisting as a project error_message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
