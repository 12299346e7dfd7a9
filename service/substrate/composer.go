package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/voxpay/service/metrics"
)

const (
	DefaultTransferModule   = "Balances"
	DefaultTransferFunction = "transfer"
)

// ComposerConfig selects the transfer call and asset precision.
type ComposerConfig struct {
	Module       string
	Function     string
	Decimals     int
	QueryTimeout time.Duration
}

// Preflight is the result of the checks that must pass before a call is
// composed.
type Preflight struct {
	Balance      *big.Int
	ScaledAmount *big.Int
	SpecVersion  uint32
}

// Composer checks preconditions, builds call descriptors and signs them.
type Composer struct {
	reader  *Reader
	cfg     ComposerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewComposer creates a Composer. Empty module/function fall back to
// Balances.transfer.
func NewComposer(reader *Reader, cfg ComposerConfig, m *metrics.Metrics, logger *slog.Logger) *Composer {
	if cfg.Module == "" {
		cfg.Module = DefaultTransferModule
	}
	if cfg.Function == "" {
		cfg.Function = DefaultTransferFunction
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Composer{
		reader:  reader,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Decimals returns the asset precision used for scaling.
func (c *Composer) Decimals() int {
	return c.cfg.Decimals
}

// CallName returns the configured transfer call as Module.function.
func (c *Composer) CallName() string {
	return c.cfg.Module + "." + c.cfg.Function
}

// Preflight enforces, in order: a positive amount, a fresh balance that is
// non-zero and covers the scaled amount, and availability of the transfer
// call in the runtime metadata.
func (c *Composer) Preflight(ctx context.Context, conn Connection, identity *Identity, req TransactionRequest) (*Preflight, error) {
	scaled, err := ScaleAmount(req.Amount, c.cfg.Decimals)
	if err != nil {
		return nil, err
	}

	balance, err := c.reader.GetBalance(ctx, conn, identity.Address())
	if err != nil {
		// an account with no storage has nothing to spend
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
		}
		return nil, err
	}
	c.logger.InfoContext(ctx, "account balance",
		"address", identity.Address(),
		"planck", balance.String(),
	)

	if balance.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance of %s is zero", ErrInsufficientBalance, identity.Address())
	}
	if balance.Cmp(scaled) < 0 {
		return nil, fmt.Errorf("%w: balance %s is below transfer amount %s (planck)",
			ErrInsufficientBalance, balance.String(), scaled.String())
	}

	ok, specVersion, err := c.reader.HasCallFunction(ctx, conn, c.cfg.Module, c.cfg.Function)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: call function %s not found", ErrUnsupportedCall, c.CallName())
	}

	return &Preflight{
		Balance:      balance,
		ScaledAmount: scaled,
		SpecVersion:  specVersion,
	}, nil
}

// Compose builds the transfer call for a request that passed Preflight.
func (c *Composer) Compose(identity *Identity, req TransactionRequest, pf *Preflight) (*CallDescriptor, error) {
	if pf == nil || pf.ScaledAmount == nil || pf.ScaledAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing preflight amount", ErrInvalidAmount)
	}
	if err := ValidateAddressFor(req.Recipient, identity.Prefix()); err != nil {
		return nil, err
	}

	return &CallDescriptor{
		Module:   c.cfg.Module,
		Function: c.cfg.Function,
		Dest:     req.Recipient,
		Value:    new(big.Int).Set(pf.ScaledAmount),
	}, nil
}

// Sign fetches a fresh signing context from the connection and signs the
// call with identity.
func (c *Composer) Sign(ctx context.Context, conn Connection, call *CallDescriptor, identity *Identity) (*SignedExtrinsic, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: no signing identity", ErrSigning)
	}

	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	sc, err := conn.SigningContext(qctx, identity.PublicKey())
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall("SigningContext", status, conn.Endpoint(), time.Since(start).Seconds())
	}
	if err != nil {
		return nil, classify(ErrQuery, err, "signing context for %s", identity.Address())
	}

	ext, err := conn.SignExtrinsic(call, sc, identity)
	if err != nil {
		if errors.Is(err, ErrSigning) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSigning, call.Name(), err)
	}

	c.logger.InfoContext(ctx, "signed extrinsic",
		"call", call.Name(),
		"dest", call.Dest,
		"value", call.Value.String(),
		"nonce", sc.Nonce,
		"extrinsic_hash", ext.Hash,
	)
	return ext, nil
}
