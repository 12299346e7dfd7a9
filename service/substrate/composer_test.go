package substrate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedhavyas/go-subkey/v2"
)

func newTestComposer(cfg ComposerConfig) *Composer {
	if cfg.Decimals == 0 {
		cfg.Decimals = DefaultDecimals
	}
	reader := NewReader(time.Second, nil, discardLogger())
	return NewComposer(reader, cfg, nil, discardLogger())
}

func fundedConnection(t *testing.T, id *Identity, planck int64) *MockConnection {
	t.Helper()
	conn := NewMockConnection("wss://node")
	require.NoError(t, conn.SetBalance(id.Address(), big.NewInt(planck)))
	return conn
}

func TestPreflight_Success(t *testing.T) {
	id := testIdentity(t)
	conn := fundedConnection(t, id, 50_000_000_000)
	composer := newTestComposer(ComposerConfig{})

	pf, err := composer.Preflight(context.Background(), conn, id, TransactionRequest{Amount: 1.5, Recipient: bobAddress})
	require.NoError(t, err)

	assert.Equal(t, "50000000000", pf.Balance.String())
	assert.Equal(t, "15000000000", pf.ScaledAmount.String())
	assert.Equal(t, uint32(9430), pf.SpecVersion)
	assert.Equal(t, "Balances.transfer", composer.CallName())
	assert.Equal(t, 1, conn.MetadataCalls())
}

func TestPreflight_ExactBalanceIsEnough(t *testing.T) {
	id := testIdentity(t)
	conn := fundedConnection(t, id, 10_000_000_000)
	composer := newTestComposer(ComposerConfig{})

	_, err := composer.Preflight(context.Background(), conn, id, TransactionRequest{Amount: 1, Recipient: bobAddress})
	assert.NoError(t, err)
}

func TestPreflight_Failures(t *testing.T) {
	id := testIdentity(t)

	tests := []struct {
		name    string
		balance int64
		amount  float64
		cfg     ComposerConfig
		setup   func(*MockConnection)
		wantErr error
	}{
		{name: "zero amount", balance: 1, amount: 0, wantErr: ErrInvalidAmount},
		{name: "zero balance", balance: 0, amount: 1, wantErr: ErrInsufficientBalance},
		{name: "balance below amount", balance: 9_999_999_999, amount: 1, wantErr: ErrInsufficientBalance},
		{name: "unsupported call", balance: 50_000_000_000, amount: 1,
			cfg: ComposerConfig{Module: "Balances", Function: "teleport"}, wantErr: ErrUnsupportedCall},
		{name: "call name differs in case", balance: 50_000_000_000, amount: 1,
			cfg: ComposerConfig{Module: "Balances", Function: "Transfer"}, wantErr: ErrUnsupportedCall},
		{name: "metadata unavailable", balance: 50_000_000_000, amount: 1,
			setup: func(c *MockConnection) { c.MetadataErr = errors.New("boom") }, wantErr: ErrMetadata},
		{name: "query failure", balance: 50_000_000_000, amount: 1,
			setup: func(c *MockConnection) { c.AccountErr = errors.New("boom") }, wantErr: ErrQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := fundedConnection(t, id, tt.balance)
			if tt.setup != nil {
				tt.setup(conn)
			}
			composer := newTestComposer(tt.cfg)

			pf, err := composer.Preflight(context.Background(), conn, id, TransactionRequest{Amount: tt.amount, Recipient: bobAddress})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, pf)
			assert.Zero(t, conn.SignCalls())
		})
	}
}

func TestPreflight_UnknownAccountIsInsufficient(t *testing.T) {
	id := testIdentity(t)
	conn := NewMockConnection("wss://node")
	composer := newTestComposer(ComposerConfig{})

	_, err := composer.Preflight(context.Background(), conn, id, TransactionRequest{Amount: 1, Recipient: bobAddress})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestComposeAndSign(t *testing.T) {
	id := testIdentity(t)
	conn := fundedConnection(t, id, 50_000_000_000)
	composer := newTestComposer(ComposerConfig{})
	req := TransactionRequest{Amount: 1.23456789012, Recipient: bobAddress}

	pf, err := composer.Preflight(context.Background(), conn, id, req)
	require.NoError(t, err)

	call, err := composer.Compose(id, req, pf)
	require.NoError(t, err)
	assert.Equal(t, "Balances", call.Module)
	assert.Equal(t, "transfer", call.Function)
	assert.Equal(t, bobAddress, call.Dest)
	assert.Equal(t, "12345678901", call.Value.String())

	ext, err := composer.Sign(context.Background(), conn, call, id)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), ext.Signer)
	assert.Equal(t, *call, ext.Call)
	assert.NotEmpty(t, ext.Hash)
	assert.False(t, ext.Submitted())
}

func TestCompose_RequiresPreflight(t *testing.T) {
	composer := newTestComposer(ComposerConfig{})
	_, err := composer.Compose(testIdentity(t), TransactionRequest{Amount: 1, Recipient: bobAddress}, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCompose_RejectsOtherNetwork(t *testing.T) {
	id := testIdentity(t)
	pub, err := PublicKeyFromAddress(bobAddress)
	require.NoError(t, err)

	composer := newTestComposer(ComposerConfig{})
	pf := &Preflight{ScaledAmount: big.NewInt(10_000_000_000)}
	_, err = composer.Compose(id, TransactionRequest{Amount: 1, Recipient: subkey.SS58Encode(pub, 2)}, pf)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSign_Errors(t *testing.T) {
	id := testIdentity(t)
	composer := newTestComposer(ComposerConfig{})
	call := &CallDescriptor{Module: "Balances", Function: "transfer", Dest: bobAddress, Value: big.NewInt(1)}

	t.Run("signing context", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		conn.SigningContextErr = errors.New("nonce lookup failed")
		_, err := composer.Sign(context.Background(), conn, call, id)
		assert.ErrorIs(t, err, ErrQuery)
	})

	t.Run("signer", func(t *testing.T) {
		conn := NewMockConnection("wss://node")
		conn.SignErr = errors.New("bad key")
		_, err := composer.Sign(context.Background(), conn, call, id)
		assert.ErrorIs(t, err, ErrSigning)
	})

	t.Run("no identity", func(t *testing.T) {
		_, err := composer.Sign(context.Background(), NewMockConnection("wss://node"), call, nil)
		assert.ErrorIs(t, err, ErrSigning)
	})
}
