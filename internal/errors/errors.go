package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrDataQuality - malformed or zero-denominator snapshot fields (degrade to request_approval, never crash)
	ErrDataQuality = errors.New("data quality error")

	// ErrStateViolation - transition attempted on a terminal workflow, or a second amend on a record (bug signal, never retried)
	ErrStateViolation = errors.New("state violation")

	// ErrConfiguration - active rule set missing a required rule (skip and flag the cycle, never default silently)
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflict (retry with backoff in background, or overlap-policy rejection)
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrDuplicateEvent - duplicate human response detected (ignore silently)
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
