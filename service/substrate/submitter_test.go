package substrate

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedExtrinsic(t *testing.T, conn *MockConnection) *SignedExtrinsic {
	t.Helper()
	id := testIdentity(t)
	call := &CallDescriptor{Module: "Balances", Function: "transfer", Dest: bobAddress, Value: big.NewInt(10)}
	ext, err := conn.SignExtrinsic(call, &SigningContext{Immortal: true}, id)
	require.NoError(t, err)
	return ext
}

func TestSubmit_WaitForInclusion(t *testing.T) {
	conn := NewMockConnection("wss://node")
	conn.Inclusion = &Inclusion{BlockHash: "0xblock", Finalized: true}
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(time.Second, nil, discardLogger())

	receipt, err := submitter.Submit(context.Background(), conn, ext, true)
	require.NoError(t, err)

	assert.Equal(t, "0xblock", receipt.BlockHash)
	assert.Equal(t, ext.Hash, receipt.ExtrinsicHash)
	assert.Equal(t, "wss://node", receipt.Endpoint)
	assert.True(t, receipt.Finalized)
	assert.True(t, ext.Submitted())
}

func TestSubmit_NoWait(t *testing.T) {
	conn := NewMockConnection("wss://node")
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(time.Second, nil, discardLogger())

	receipt, err := submitter.Submit(context.Background(), conn, ext, false)
	require.NoError(t, err)

	assert.Empty(t, receipt.BlockHash)
	assert.Equal(t, ext.Hash, receipt.ExtrinsicHash)
}

func TestSubmit_SingleUse(t *testing.T) {
	conn := NewMockConnection("wss://node")
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(time.Second, nil, discardLogger())

	_, err := submitter.Submit(context.Background(), conn, ext, true)
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), conn, ext, true)
	require.ErrorIs(t, err, ErrExtrinsicReused)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, 1, conn.SubmitCalls())
}

func TestSubmit_ConcurrentReuse(t *testing.T) {
	conn := NewMockConnection("wss://node")
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(time.Second, nil, discardLogger())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = submitter.Submit(context.Background(), conn, ext, true)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conn.SubmitCalls())
}

func TestSubmit_Timeout(t *testing.T) {
	conn := NewMockConnection("wss://node")
	conn.BlockSubmit = true
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(20*time.Millisecond, nil, discardLogger())

	_, err := submitter.Submit(context.Background(), conn, ext, true)
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrSubmission)

	// a timed-out extrinsic may still land, so it cannot be sent again
	_, err = submitter.Submit(context.Background(), conn, ext, true)
	assert.ErrorIs(t, err, ErrExtrinsicReused)
}

func TestSubmit_Rejected(t *testing.T) {
	conn := NewMockConnection("wss://node")
	conn.SubmitErr = errors.New("extrinsic rejected as invalid")
	ext := signedExtrinsic(t, conn)
	submitter := NewSubmitter(time.Second, nil, discardLogger())

	_, err := submitter.Submit(context.Background(), conn, ext, true)
	require.ErrorIs(t, err, ErrSubmission)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "rejected as invalid")
}

func TestSubmit_Nil(t *testing.T) {
	submitter := NewSubmitter(time.Second, nil, discardLogger())
	_, err := submitter.Submit(context.Background(), NewMockConnection("wss://node"), nil, true)
	assert.ErrorIs(t, err, ErrSubmission)
}
