package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors to the Spendguard error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper implements Spendguard error taxonomy mapping
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// messageRule classifies an external error by substring match on its text.
// Rules are checked in declaration order; first hit wins.
type messageRule struct {
	needles  []string
	label    string
	sentinel error
}

var messageRules = []messageRule{
	{[]string{"not found", "does not exist"}, "resource not found", ErrNotFound},
	{[]string{"rate limit", "too many requests"}, "rate limited", ErrTransient},
	{[]string{"timeout", "deadline exceeded"}, "request timeout", ErrTransient},
	{[]string{"network", "connection", "unreachable"}, "network error", ErrTransient},
	{[]string{"conflict", "already exists"}, "conflict", ErrConflict},
	{[]string{"duplicate"}, "duplicate event", ErrDuplicateEvent},
}

// MapError maps external errors to Spendguard error categories
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context errors as-is
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	text := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return fmt.Errorf("%s: %w", rule.label, rule.sentinel)
			}
		}
	}
	return fmt.Errorf("internal error: %w", ErrInternal)
}

// IsRetryable determines if an error should trigger a retry.
// StateViolation and Configuration never retry: they signal bugs or
// deployment errors, not recoverable conditions.
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// categoryNames is checked in order; the most specific sentinels come first.
var categoryNames = []struct {
	sentinel error
	name     string
}{
	{ErrDataQuality, "ErrDataQuality"},
	{ErrStateViolation, "ErrStateViolation"},
	{ErrConfiguration, "ErrConfiguration"},
	{ErrNotFound, "ErrNotFound"},
	{ErrConflict, "ErrConflict"},
	{ErrTransient, "ErrTransient"},
	{ErrDuplicateEvent, "ErrDuplicateEvent"},
	{ErrInternal, "ErrInternal"},
}

// Category returns the Spendguard error category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range categoryNames {
		if errors.Is(err, c.sentinel) {
			return c.name
		}
	}
	return "Unknown"
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	return err != nil && errors.Is(err, category)
}

func categorized(message string, sentinel error) error {
	return fmt.Errorf("%s: %w", message, sentinel)
}

// DataQuality wraps error as data quality
func DataQuality(message string) error { return categorized(message, ErrDataQuality) }

// StateViolation wraps error as state violation
func StateViolation(message string) error { return categorized(message, ErrStateViolation) }

// Configuration wraps error as configuration
func Configuration(message string) error { return categorized(message, ErrConfiguration) }

// NotFound wraps error as not found
func NotFound(message string) error { return categorized(message, ErrNotFound) }

// Conflict wraps error as conflict
func Conflict(message string) error { return categorized(message, ErrConflict) }

// Transient wraps error as transient
func Transient(message string) error { return categorized(message, ErrTransient) }

// Internal wraps error as internal
func Internal(message string) error { return categorized(message, ErrInternal) }

// IsRetryable checks if an error is transient or conflict related, indicating it can be retried
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrStateViolation) || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
