package pipeline

import (
	"context"
	"errors"

	"github.com/brojonat/voxpay/service/substrate"
)

var (
	ErrUserCancelled    = errors.New("cancelled by user")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrIntentNotReady   = errors.New("could not parse transaction details")
	ErrPipelineUsed     = errors.New("pipeline already ran")
)

// kinds is checked in order; wrapping errors come before the errors they
// commonly wrap.
var kinds = []struct {
	err  error
	kind string
}{
	{substrate.ErrTimeout, "timeout"},
	{ErrUserCancelled, "user_cancelled"},
	{ErrIntentNotReady, "intent_not_ready"},
	{ErrPipelineUsed, "pipeline_used"},
	{ErrInvalidRecipient, "invalid_recipient"},
	{substrate.ErrInvalidPhrase, "invalid_phrase"},
	{substrate.ErrNoReachableNode, "no_reachable_node"},
	{substrate.ErrInvalidAmount, "invalid_amount"},
	{substrate.ErrInsufficientBalance, "insufficient_balance"},
	{substrate.ErrAccountNotFound, "account_not_found"},
	{substrate.ErrUnsupportedCall, "unsupported_call"},
	{substrate.ErrMetadata, "metadata"},
	{substrate.ErrSigning, "signing"},
	{substrate.ErrExtrinsicReused, "extrinsic_reused"},
	{substrate.ErrSubmission, "submission"},
	{substrate.ErrQuery, "query"},
	{substrate.ErrInvalidAddress, "invalid_address"},
	{context.Canceled, "cancelled"},
	{context.DeadlineExceeded, "timeout"},
}

// Kind maps err to a stable snake_case label. It returns "" for nil and
// "internal" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
