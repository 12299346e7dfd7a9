package substrate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalance(t *testing.T) {
	conn := NewMockConnection("wss://node")
	require.NoError(t, conn.SetBalance(aliceAddress, big.NewInt(25_000_000_000)))
	reader := NewReader(time.Second, nil, discardLogger())

	balance, err := reader.GetBalance(context.Background(), conn, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, "25000000000", balance.String())
}

func TestGetBalance_NotCached(t *testing.T) {
	conn := NewMockConnection("wss://node")
	require.NoError(t, conn.SetBalance(aliceAddress, big.NewInt(1)))
	reader := NewReader(time.Second, nil, discardLogger())

	_, err := reader.GetBalance(context.Background(), conn, aliceAddress)
	require.NoError(t, err)
	require.NoError(t, conn.SetBalance(aliceAddress, big.NewInt(2)))

	balance, err := reader.GetBalance(context.Background(), conn, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance.Int64())
	assert.Equal(t, 2, conn.AccountCalls())
}

func TestGetBalance_Errors(t *testing.T) {
	reader := NewReader(time.Second, nil, discardLogger())

	t.Run("invalid address", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		_, err := reader.GetBalance(context.Background(), conn, "Alice")
		assert.ErrorIs(t, err, ErrInvalidAddress)
		assert.Zero(t, conn.AccountCalls())
	})

	t.Run("unknown account", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		_, err := reader.GetBalance(context.Background(), conn, bobAddress)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("node error", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		conn.AccountErr = errors.New("connection reset")
		_, err := reader.GetBalance(context.Background(), conn, bobAddress)
		assert.ErrorIs(t, err, ErrQuery)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("deadline", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		conn.AccountErr = context.DeadlineExceeded
		_, err := reader.GetBalance(context.Background(), conn, bobAddress)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, ErrQuery)
	})
}

func TestHasCallFunction(t *testing.T) {
	reader := NewReader(time.Second, nil, discardLogger())
	conn := NewMockConnection("wss://node")

	ok, specVersion, err := reader.HasCallFunction(context.Background(), conn, "Balances", "transfer")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(9430), specVersion)

	ok, _, err = reader.HasCallFunction(context.Background(), conn, "Balances", "Transfer")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = reader.HasCallFunction(context.Background(), conn, "Balances", "teleport")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = reader.HasCallFunction(context.Background(), conn, "Assets", "transfer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasCallFunction_MetadataError(t *testing.T) {
	reader := NewReader(time.Second, nil, discardLogger())
	conn := NewMockConnection("wss://node")
	conn.MetadataErr = errors.New("decode failure")

	_, _, err := reader.HasCallFunction(context.Background(), conn, "Balances", "transfer")
	assert.ErrorIs(t, err, ErrMetadata)
}
