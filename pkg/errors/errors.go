// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Fetch errors
var (
	// ErrNoData is returned by the workflow when the fetcher produced no payload.
	ErrNoData         = errors.New("no data fetched from source")
	ErrInvalidRequest = errors.New("invalid request")
)

// Submission errors
var (
	ErrEmitFailed          = errors.New("failed to submit transaction")
	ErrFinalityTimeout     = errors.New("timed out waiting for transaction finality")
	ErrFinalityRejected    = errors.New("transaction rejected by ledger")
	ErrSubscriptionFailed  = errors.New("failed to subscribe to completion events")
	ErrDuplicateSubmission = errors.New("submission already exists for request and payload")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrInvalidTransition   = errors.New("invalid submission status transition")
)

// Store errors
var (
	ErrCacheMiss        = errors.New("cache miss")
	ErrResourceNotFound = errors.New("resource not found")
	ErrFeedNotFound     = errors.New("feed not found")
)

// HTTP errors
var (
	ErrDuplicateRequest = errors.New("duplicate request in progress")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Join attaches a sentinel to a cause so both match with errors.Is.
func Join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func New(message string) error {
	return errors.New(message)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
