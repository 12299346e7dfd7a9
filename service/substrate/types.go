package substrate

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"
)

// Connection is an open session with one node. Implementations must be
// fully usable when returned from a Dialer; a Connection belongs to exactly
// one pipeline run at a time.
type Connection interface {
	// Endpoint returns the URI this connection was dialed with.
	Endpoint() string

	// Metadata returns the runtime metadata snapshot pinned at handshake.
	Metadata(ctx context.Context) (*MetadataSnapshot, error)

	// Account fetches System.Account for the given public key. found is
	// false when the chain holds no storage for the account.
	Account(ctx context.Context, publicKey []byte) (info *AccountInfo, found bool, err error)

	// SigningContext returns fresh nonce/era/version data for the signer.
	SigningContext(ctx context.Context, publicKey []byte) (*SigningContext, error)

	// SignExtrinsic encodes call and signs it with identity.
	SignExtrinsic(call *CallDescriptor, sc *SigningContext, identity *Identity) (*SignedExtrinsic, error)

	// Submit sends the extrinsic and returns its hash without waiting.
	Submit(ctx context.Context, ext *SignedExtrinsic) (string, error)

	// SubmitAndWatch sends the extrinsic and blocks until it is included
	// in a block, rejected, or ctx is done.
	SubmitAndWatch(ctx context.Context, ext *SignedExtrinsic) (*Inclusion, error)

	Close() error
}

// Dialer opens a Connection to a single endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Connection, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Connection, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Connection, error) {
	return f(ctx, endpoint)
}

// AccountInfo is the subset of System.Account the flow needs.
type AccountInfo struct {
	Nonce uint64
	Free  *big.Int
}

// SigningContext carries the per-account sequencing and expiry data
// required to produce a valid signature.
type SigningContext struct {
	Nonce              uint64
	GenesisHash        string
	BlockHash          string
	SpecVersion        uint32
	TransactionVersion uint32
	Immortal           bool
}

// TransactionRequest is the validated (amount, recipient) pair handed to
// the pipeline. Amount is in whole tokens.
type TransactionRequest struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

// Validate checks the request without touching the network.
func (r TransactionRequest) Validate(decimals int) error {
	if _, err := ScaleAmount(r.Amount, decimals); err != nil {
		return err
	}
	return ValidateAddress(r.Recipient)
}

// CallDescriptor names a runtime call and its parameters.
type CallDescriptor struct {
	Module   string
	Function string
	Dest     string
	Value    *big.Int
}

// Name returns the call in Module.function form.
func (c *CallDescriptor) Name() string {
	return c.Module + "." + c.Function
}

// SignedExtrinsic is an immutable, single-use signed transaction.
type SignedExtrinsic struct {
	Call    CallDescriptor
	Signer  string
	Nonce   uint64
	Era     string
	Hash    string // blake2-256 of the encoded extrinsic, hex
	Encoded string // SCALE-encoded extrinsic, hex

	raw       any // client-specific extrinsic value, set by the Connection
	submitted atomic.Bool
}

// NewSignedExtrinsic builds a SignedExtrinsic around a client-specific raw
// value. Connections use it from SignExtrinsic.
func NewSignedExtrinsic(call CallDescriptor, signer string, nonce uint64, era, hash, encoded string, raw any) *SignedExtrinsic {
	return &SignedExtrinsic{
		Call:    call,
		Signer:  signer,
		Nonce:   nonce,
		Era:     era,
		Hash:    hash,
		Encoded: encoded,
		raw:     raw,
	}
}

// Raw returns the client-specific value the extrinsic was built from.
func (e *SignedExtrinsic) Raw() any {
	return e.raw
}

// Submitted reports whether the extrinsic has already been handed to a node.
func (e *SignedExtrinsic) Submitted() bool {
	return e.submitted.Load()
}

// markSubmitted flips the single-use flag, returning false if it was
// already set.
func (e *SignedExtrinsic) markSubmitted() bool {
	return e.submitted.CompareAndSwap(false, true)
}

// Inclusion is what a node reports once an extrinsic lands in a block.
type Inclusion struct {
	BlockHash string
	Finalized bool
}

// Receipt is the submission result.
type Receipt struct {
	BlockHash     string    `json:"block_hash,omitempty"`
	ExtrinsicHash string    `json:"extrinsic_hash"`
	Endpoint      string    `json:"endpoint"`
	Finalized     bool      `json:"finalized"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
