package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brojonat/voxpay/service/substrate"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUserCancelled, "user_cancelled"},
		{fmt.Errorf("%w: %w", ErrInvalidRecipient, substrate.ErrInvalidAddress), "invalid_recipient"},
		{fmt.Errorf("%w: %w", substrate.ErrInsufficientBalance, substrate.ErrAccountNotFound), "insufficient_balance"},
		{fmt.Errorf("%w: %w: boom", substrate.ErrTimeout, substrate.ErrSubmission), "timeout"},
		{substrate.ErrExtrinsicReused, "extrinsic_reused"},
		{fmt.Errorf("submit: %w", substrate.ErrSubmission), "submission"},
		{fmt.Errorf("%w: all failed: %w", substrate.ErrNoReachableNode, context.DeadlineExceeded), "no_reachable_node"},
		{context.Canceled, "cancelled"},
		{errors.New("something else"), "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "Transaction sent. Block hash: 0xabc",
		statusLine(&Outcome{State: StateConfirmed, Receipt: &substrate.Receipt{BlockHash: "0xabc"}}))
	assert.Equal(t, "Transaction sent. Extrinsic hash: 0xdef",
		statusLine(&Outcome{State: StateConfirmed, Receipt: &substrate.Receipt{ExtrinsicHash: "0xdef"}}))
	assert.Equal(t, "Transaction failed [insufficient_balance]: insufficient balance",
		statusLine(&Outcome{State: StateFailed, ErrorKind: "insufficient_balance", Error: "insufficient balance"}))
	assert.Equal(t, "Transaction cancelled.",
		statusLine(&Outcome{State: StateFailed, ErrorKind: "user_cancelled"}))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateFailed.Terminal())
	for _, s := range []State{StateIdle, StateConnecting, StateValidating, StateConfirming, StateComposing, StateSigning, StateSubmitting} {
		assert.False(t, s.Terminal(), s)
	}
}
