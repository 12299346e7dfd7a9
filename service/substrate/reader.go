package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/voxpay/service/metrics"
)

// DefaultQueryTimeout bounds a single read when none is configured.
const DefaultQueryTimeout = 15 * time.Second

// Reader performs read-only chain queries. It never caches: every call goes
// to the node, since balances can change between attempts.
type Reader struct {
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReader creates a Reader with a per-query timeout.
func NewReader(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Reader {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Reader{
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// GetBalance returns the free balance of address in Planck.
func (r *Reader) GetBalance(ctx context.Context, conn Connection, address string) (*big.Int, error) {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	info, found, err := conn.Account(qctx, pub)
	r.record("System.Account", conn.Endpoint(), start, err)
	if err != nil {
		return nil, classify(ErrQuery, err, "balance of %s", address)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if info == nil || info.Free == nil {
		return nil, fmt.Errorf("%w: balance of %s: empty account data", ErrQuery, address)
	}

	r.logger.DebugContext(ctx, "fetched account balance",
		"address", address,
		"free", info.Free.String(),
		"nonce", info.Nonce,
	)
	return new(big.Int).Set(info.Free), nil
}

// HasCallFunction reports whether module.function exists in the runtime the
// connection is attached to, along with the spec version it checked.
func (r *Reader) HasCallFunction(ctx context.Context, conn Connection, module, function string) (bool, uint32, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	meta, err := conn.Metadata(qctx)
	r.record("State.Metadata", conn.Endpoint(), start, err)
	if err != nil {
		return false, 0, classify(ErrMetadata, err, "metadata from %s", conn.Endpoint())
	}
	if meta == nil {
		return false, 0, fmt.Errorf("%w: node %s returned no metadata", ErrMetadata, conn.Endpoint())
	}

	ok := meta.HasCall(module, function)
	r.logger.DebugContext(ctx, "checked call availability",
		"call", module+"."+function,
		"spec_version", meta.SpecVersion,
		"available", ok,
	)
	return ok, meta.SpecVersion, nil
}

func (r *Reader) record(method, endpoint string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordRPCCall(method, status, endpoint, time.Since(start).Seconds())
}
