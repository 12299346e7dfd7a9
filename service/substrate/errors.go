package substrate

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy for the transfer flow. Every stage wraps exactly one of
// these with %w so callers can branch with errors.Is.
var (
	ErrInvalidPhrase       = errors.New("invalid secret phrase")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrNoReachableNode     = errors.New("no reachable node")
	ErrAccountNotFound     = errors.New("account not found")
	ErrQuery               = errors.New("chain query failed")
	ErrMetadata            = errors.New("metadata unavailable")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnsupportedCall     = errors.New("unsupported call")
	ErrSigning             = errors.New("signing failed")
	ErrSubmission          = errors.New("submission failed")
	ErrTimeout             = errors.New("timed out")

	// ErrExtrinsicReused is returned when a signed extrinsic is handed to
	// the submitter a second time. It also matches ErrSubmission.
	ErrExtrinsicReused = fmt.Errorf("%w: extrinsic already submitted", ErrSubmission)
)

// classify wraps err with stage, or with ErrTimeout when the failure was a
// deadline. The original error stays in the chain either way.
func classify(stage error, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s: %w", ErrTimeout, stage, msg, err)
	}
	return fmt.Errorf("%w: %s: %w", stage, msg, err)
}
