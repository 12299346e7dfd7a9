package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/substrate"
)

const (
	signer = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob    = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

func confirmedOutcome(started time.Time) *pipeline.Outcome {
	return &pipeline.Outcome{
		ID:       uuid.New().String(),
		State:    pipeline.StateConfirmed,
		Status:   "Transaction sent. Block hash: 0xb10c",
		Request:  substrate.TransactionRequest{Amount: 1.5, Recipient: bob},
		Signer:   signer,
		Endpoint: "wss://rpc.polkadot.io",
		Call:     "Balances.transfer",
		Planck:   "15000000000",
		Receipt: &substrate.Receipt{
			BlockHash:     "0xb10c",
			ExtrinsicHash: "0xe47",
			Endpoint:      "wss://rpc.polkadot.io",
		},
		Transitions: []pipeline.Transition{
			{From: pipeline.StateIdle, To: pipeline.StateConnecting, At: started},
			{From: pipeline.StateSubmitting, To: pipeline.StateConfirmed, At: started.Add(time.Second)},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func TestRecordAndGetPayment(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := confirmedOutcome(now)

	require.NoError(t, store.RecordPayment(ctx, o))
	// recording twice is idempotent
	require.NoError(t, store.RecordPayment(ctx, o))

	p, err := store.GetPayment(ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, o.ID, p.ID)
	assert.Equal(t, signer, p.Signer)
	assert.Equal(t, bob, p.Recipient)
	assert.Equal(t, 1.5, p.Amount)
	assert.Equal(t, "confirmed", p.State)
	assert.Equal(t, o.Status, p.Status)
	require.NotNil(t, p.BlockHash)
	assert.Equal(t, "0xb10c", *p.BlockHash)
	require.NotNil(t, p.Planck)
	assert.Equal(t, "15000000000", *p.Planck)
	assert.Nil(t, p.ErrorKind)
	assert.Len(t, p.Transitions, 2)
	assert.WithinDuration(t, now, p.StartedAt, time.Microsecond)
}

func TestRecordPayment_Failed(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC()
	o := &pipeline.Outcome{
		ID:         uuid.New().String(),
		State:      pipeline.StateFailed,
		Status:     "Transaction failed [insufficient_balance]: insufficient balance",
		Request:    substrate.TransactionRequest{Amount: 3, Recipient: bob},
		Signer:     signer,
		ErrorKind:  "insufficient_balance",
		Error:      "insufficient balance",
		StartedAt:  now,
		FinishedAt: now,
	}
	require.NoError(t, store.RecordPayment(ctx, o))

	p, err := store.GetPayment(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, p.ErrorKind)
	assert.Equal(t, "insufficient_balance", *p.ErrorKind)
	assert.Nil(t, p.BlockHash)
	assert.Empty(t, p.Transitions)
}

func TestGetPayment_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetPayment(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPayments(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordPayment(ctx, confirmedOutcome(base.Add(time.Duration(i)*time.Minute))))
	}
	failed := confirmedOutcome(base.Add(10 * time.Minute))
	failed.State = pipeline.StateFailed
	require.NoError(t, store.RecordPayment(ctx, failed))

	all, err := store.ListPayments(ctx, ListPaymentsParams{Signer: signer})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, failed.ID, all[0].ID, "most recent first")

	confirmed, err := store.ListPayments(ctx, ListPaymentsParams{State: "confirmed"})
	require.NoError(t, err)
	assert.Len(t, confirmed, 3)

	page, err := store.ListPayments(ctx, ListPaymentsParams{Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	none, err := store.ListPayments(ctx, ListPaymentsParams{Signer: bob})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestContacts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	c, err := store.UpsertContact(ctx, " Bob ", bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Name)

	c, err = store.UpsertContact(ctx, "BOB", signer)
	require.NoError(t, err)
	assert.Equal(t, signer, c.Address)
	assert.True(t, !c.UpdatedAt.Before(c.CreatedAt))

	_, err = store.UpsertContact(ctx, "alice", signer)
	require.NoError(t, err)

	list, err := store.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Name)

	addr, found, err := store.ResolveContact(ctx, "Bob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, signer, addr)

	_, found, err = store.ResolveContact(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.DeleteContact(ctx, "bob"))
	assert.ErrorIs(t, store.DeleteContact(ctx, "bob"), ErrNotFound)

	_, err = store.UpsertContact(ctx, "", bob)
	assert.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@host:5432/db?sslmode=disable", migrateURL("postgres://u:p@host:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://host/db", migrateURL("postgresql://host/db"))
	assert.Equal(t, "pgx5://host/db", migrateURL("pgx5://host/db"))
}
