package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedhavyas/go-subkey/v2"

	"github.com/brojonat/voxpay/service/intent"
	"github.com/brojonat/voxpay/service/substrate"
)

const (
	devPhrase    = "bottom drive obey lake curtain smoke basket hold race lonely fit walk"
	bobAddress   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
	aliceAddress = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

type harness struct {
	svc      *Service
	dialer   *substrate.MockDialer
	identity *substrate.Identity
	conns    map[string]*substrate.MockConnection
	recorder *memoryRecorder
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []*Outcome
	err      error
}

func (r *memoryRecorder) RecordPayment(ctx context.Context, o *Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

func (r *memoryRecorder) PublishPayment(ctx context.Context, o *Outcome) error {
	return r.RecordPayment(ctx, o)
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// newHarness wires a Service against mock nodes. Endpoints listed in
// reachable answer; the rest refuse connections.
func newHarness(t *testing.T, endpoints []string, reachable []string, opts Options) *harness {
	t.Helper()
	logger := slogt.New(t)

	identity, err := substrate.DeriveIdentity(devPhrase, 42)
	require.NoError(t, err)

	h := &harness{
		dialer:   substrate.NewMockDialer(),
		identity: identity,
		conns:    make(map[string]*substrate.MockConnection),
		recorder: &memoryRecorder{},
	}
	for _, ep := range reachable {
		conn := substrate.NewMockConnection(ep)
		conn.Inclusion = &substrate.Inclusion{BlockHash: "0xb10c"}
		h.conns[ep] = conn
		h.dialer.Add(conn)
	}

	reader := substrate.NewReader(time.Second, nil, logger)
	c := Components{
		Identity:  identity,
		Connector: substrate.NewConnector(h.dialer, 50*time.Millisecond, nil, logger),
		Reader:    reader,
		Composer:  substrate.NewComposer(reader, substrate.ComposerConfig{Decimals: substrate.DefaultDecimals}, nil, logger),
		Submitter: substrate.NewSubmitter(time.Second, nil, logger),
	}

	opts.Endpoints = endpoints
	opts.WaitForInclusion = true
	if opts.Recorder == nil {
		opts.Recorder = h.recorder
	}
	h.svc = NewService(c, opts, logger)
	return h
}

func (h *harness) fund(t *testing.T, endpoint string, planck int64) {
	t.Helper()
	require.NoError(t, h.conns[endpoint].SetBalance(h.identity.Address(), big.NewInt(planck)))
}

func states(o *Outcome) []State {
	out := []State{}
	for _, tr := range o.Transitions {
		out = append(out, tr.To)
	}
	return out
}

// Scenario 1: primary reachable, funded, call available.
func TestExecuteTransaction_Success(t *testing.T) {
	h := newHarness(t, []string{"wss://primary", "wss://backup"}, []string{"wss://primary", "wss://backup"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1.5, bobAddress)
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, out.State)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "Transaction sent. Block hash: 0xb10c", out.Status)
	assert.Equal(t, "wss://primary", out.Endpoint)
	assert.Equal(t, "15000000000", out.Planck)
	assert.Equal(t, "Balances.transfer", out.Call)
	assert.Equal(t, h.identity.Address(), out.Signer)
	assert.Empty(t, out.ErrorKind)
	assert.Equal(t, []State{
		StateConnecting, StateValidating, StateConfirming,
		StateComposing, StateSigning, StateSubmitting, StateConfirmed,
	}, states(out))

	assert.Equal(t, []string{"wss://primary"}, h.dialer.Dialed())
	assert.Equal(t, 1, h.conns["wss://primary"].SubmitCalls())
	assert.True(t, h.conns["wss://primary"].Closed())
	assert.Equal(t, 1, h.recorder.count())
}

// Scenario 2: primary down, backup used.
func TestExecuteTransaction_Fallback(t *testing.T) {
	h := newHarness(t, []string{"wss://primary", "wss://backup"}, []string{"wss://backup"}, Options{})
	h.fund(t, "wss://backup", 50_000_000_000)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, out.State)
	assert.Equal(t, "wss://backup", out.Endpoint)
	assert.Equal(t, []string{"wss://primary", "wss://backup"}, h.dialer.Dialed())
}

// Scenario 3: zero balance stops before composing.
func TestExecuteTransaction_ZeroBalance(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 0)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.ErrorIs(t, err, substrate.ErrInsufficientBalance)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "insufficient_balance", out.ErrorKind)
	assert.Contains(t, out.Status, "Transaction failed [insufficient_balance]")
	assert.Equal(t, []State{StateConnecting, StateValidating, StateFailed}, states(out))
	assert.Zero(t, h.conns["wss://primary"].SignCalls())
	assert.Zero(t, h.conns["wss://primary"].SubmitCalls())
	assert.True(t, h.conns["wss://primary"].Closed())
}

// Scenario 4: invalid amount fails before any dial.
func TestExecuteTransaction_InvalidAmount(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})

	for _, amount := range []float64{0, -3, 0.00000000001} {
		out, err := h.svc.ExecuteTransaction(context.Background(), amount, bobAddress)
		require.ErrorIs(t, err, substrate.ErrInvalidAmount)
		assert.Equal(t, StateFailed, out.State)
		assert.Equal(t, "invalid_amount", out.ErrorKind)
		assert.Equal(t, []State{StateFailed}, states(out))
	}
	assert.Empty(t, h.dialer.Dialed())
}

func TestExecuteTransaction_RecipientOnOtherNetwork(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)

	pub, err := substrate.PublicKeyFromAddress(bobAddress)
	require.NoError(t, err)
	kusamaBob := subkey.SS58Encode(pub, 2)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, kusamaBob)
	require.ErrorIs(t, err, ErrInvalidRecipient)
	assert.ErrorIs(t, err, substrate.ErrInvalidAddress)
	assert.Equal(t, "invalid_recipient", out.ErrorKind)
	assert.Empty(t, h.dialer.Dialed())
}

func TestExecuteTransaction_InvalidRecipient(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, "Bob")
	require.ErrorIs(t, err, ErrInvalidRecipient)
	assert.ErrorIs(t, err, substrate.ErrInvalidAddress)
	assert.Equal(t, "invalid_recipient", out.ErrorKind)
	assert.Empty(t, h.dialer.Dialed())
}

func TestExecuteTransaction_NoReachableNode(t *testing.T) {
	h := newHarness(t, []string{"wss://a", "wss://b"}, nil, Options{})

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.ErrorIs(t, err, substrate.ErrNoReachableNode)
	assert.Equal(t, "no_reachable_node", out.ErrorKind)
	assert.Equal(t, []State{StateConnecting, StateFailed}, states(out))
	assert.Equal(t, []string{"wss://a", "wss://b"}, h.dialer.Dialed())
}

func TestExecuteTransaction_UnsupportedCall(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)
	h.conns["wss://primary"].Snapshot = substrate.NewMetadataSnapshot(1, map[string][]string{
		"Balances": {"transfer_allow_death"},
	})

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.ErrorIs(t, err, substrate.ErrUnsupportedCall)
	assert.Equal(t, "unsupported_call", out.ErrorKind)
	assert.Zero(t, h.conns["wss://primary"].SignCalls())
}

func TestExecuteTransaction_UserCancelled(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{Confirmer: AutoDecline})
	h.fund(t, "wss://primary", 50_000_000_000)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.ErrorIs(t, err, ErrUserCancelled)
	assert.Equal(t, "Transaction cancelled.", out.Status)
	assert.Equal(t, []State{StateConnecting, StateValidating, StateConfirming, StateFailed}, states(out))
	assert.Zero(t, h.conns["wss://primary"].SignCalls())
	assert.True(t, h.conns["wss://primary"].Closed())
}

func TestExecuteTransaction_ConfirmerSeesRequest(t *testing.T) {
	var gotAmount float64
	var gotRecipient string
	confirm := ConfirmFunc(func(ctx context.Context, amount float64, recipient string) (bool, error) {
		gotAmount, gotRecipient = amount, recipient
		return true, nil
	})
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{Confirmer: confirm})
	h.fund(t, "wss://primary", 50_000_000_000)

	_, err := h.svc.ExecuteTransaction(context.Background(), 2.5, bobAddress)
	require.NoError(t, err)
	assert.Equal(t, 2.5, gotAmount)
	assert.Equal(t, bobAddress, gotRecipient)
}

func TestExecuteTransaction_SubmitTimeout(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)
	h.conns["wss://primary"].BlockSubmit = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := h.svc.ExecuteTransaction(ctx, 1, bobAddress)
	require.ErrorIs(t, err, substrate.ErrTimeout)
	assert.Equal(t, "timeout", out.ErrorKind)
	assert.Equal(t, 1, h.conns["wss://primary"].SubmitCalls())
	// the failed outcome is still recorded after the caller's deadline
	assert.Equal(t, 1, h.recorder.count())
}

func TestPipeline_RunsOnce(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)

	p := h.svc.NewPipeline(nil)
	req := substrate.TransactionRequest{Amount: 1, Recipient: bobAddress}

	out, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), out.ID)

	out, err = p.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrPipelineUsed)
	assert.Nil(t, out)
	assert.Equal(t, 1, h.conns["wss://primary"].SubmitCalls())
}

func TestExecuteTransaction_FreshPipelinePerCall(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 50_000_000_000)

	first, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.NoError(t, err)
	second, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, h.conns["wss://primary"].SubmitCalls())
}

func TestExecuteTransaction_ReportingFailuresDoNotChangeOutcome(t *testing.T) {
	broken := &memoryRecorder{err: errors.New("db down")}
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{Recorder: broken, Publisher: broken})
	h.fund(t, "wss://primary", 50_000_000_000)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, 2, broken.count())
}

func TestExecuteTransaction_Observer(t *testing.T) {
	var mu sync.Mutex
	var seen []Transition
	obs := ObserverFunc(func(ctx context.Context, id string, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{Observer: obs})
	h.fund(t, "wss://primary", 50_000_000_000)

	out, err := h.svc.ExecuteTransaction(context.Background(), 1, bobAddress)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, len(out.Transitions))
	assert.Equal(t, StateIdle, seen[0].From)
	assert.Equal(t, StateConfirmed, seen[len(seen)-1].To)
}

func TestExecuteIntent(t *testing.T) {
	contacts := intent.Contacts{"bob": bobAddress}
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{
		Parser:   intent.NewRuleParser("DOT"),
		Resolver: contacts,
	})
	h.fund(t, "wss://primary", 50_000_000_000)

	out, err := h.svc.ExecuteIntent(context.Background(), "Send 1.5 DOT to Bob")
	require.NoError(t, err)
	assert.Equal(t, bobAddress, out.Request.Recipient)
	assert.Equal(t, 1.5, out.Request.Amount)
}

func TestExecuteIntent_NegativeAmount(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{
		Parser:   intent.NewRuleParser("DOT"),
		Resolver: intent.Contacts{"bob": bobAddress},
	})
	h.fund(t, "wss://primary", 50_000_000_000)

	for _, text := range []string{"Send -5 DOT to Bob", "pay Bob −3 DOT"} {
		out, err := h.svc.ExecuteIntent(context.Background(), text)
		require.ErrorIs(t, err, substrate.ErrInvalidAmount, text)
		require.NotNil(t, out)
		assert.Equal(t, StateFailed, out.State)
		assert.Equal(t, "invalid_amount", out.ErrorKind)
		assert.Less(t, out.Request.Amount, 0.0)
	}
	assert.Empty(t, h.dialer.Dialed())
	assert.Zero(t, h.conns["wss://primary"].SubmitCalls())
}

func TestExecuteIntent_NotReady(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})

	out, err := h.svc.ExecuteIntent(context.Background(), "send money to someone")
	require.ErrorIs(t, err, ErrIntentNotReady)
	assert.Nil(t, out)
	assert.Empty(t, h.dialer.Dialed())
}

func TestExecuteIntent_UnknownContact(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{Resolver: intent.Contacts{}})

	out, err := h.svc.ExecuteIntent(context.Background(), "send 1 to Mallory")
	require.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Equal(t, "Mallory", out.Request.Recipient)
	assert.Empty(t, h.dialer.Dialed())
}

func TestResolveIntent_AddressSkipsResolver(t *testing.T) {
	called := false
	resolver := intent.ResolverFunc(func(ctx context.Context, name string) (string, bool, error) {
		called = true
		return "", false, nil
	})
	h := newHarness(t, []string{"wss://primary"}, nil, Options{Resolver: resolver})

	ri, err := h.svc.ResolveIntent(context.Background(), "send 3 to "+aliceAddress)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, aliceAddress, ri.Recipient)
	assert.Empty(t, ri.Contact)
}

func TestAccount(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})
	h.fund(t, "wss://primary", 12_345_678_901)

	acct, err := h.svc.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.identity.Address(), acct.Address)
	assert.True(t, acct.Exists)
	assert.Equal(t, "1.2345678901", acct.Balance)
	assert.True(t, h.conns["wss://primary"].Closed())
}

func TestAccount_Missing(t *testing.T) {
	h := newHarness(t, []string{"wss://primary"}, []string{"wss://primary"}, Options{})

	acct, err := h.svc.Account(context.Background())
	require.NoError(t, err)
	assert.False(t, acct.Exists)
	assert.Equal(t, "0", acct.Balance)
}
