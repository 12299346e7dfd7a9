package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/voxpay/service/metrics"
)

// DefaultDialTimeout bounds a single endpoint attempt when none is configured.
const DefaultDialTimeout = 10 * time.Second

// Connector walks an ordered endpoint list until one handshake succeeds.
type Connector struct {
	dialer  Dialer
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewConnector creates a Connector. A non-positive timeout falls back to
// DefaultDialTimeout. If m is nil, no metrics are recorded.
func NewConnector(dialer Dialer, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Connector {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &Connector{
		dialer:  dialer,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Connect returns a connection to the first endpoint that answers, in list
// order. Later endpoints are never dialed once one succeeds. It fails with
// ErrNoReachableNode only after every endpoint was attempted, or when ctx
// is cancelled mid-walk.
func (c *Connector) Connect(ctx context.Context, endpoints []string) (Connection, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrNoReachableNode)
	}

	var errs []error
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return nil, fmt.Errorf("%w: gave up after %d of %d endpoints: %w",
				ErrNoReachableNode, i, len(endpoints), errors.Join(errs...))
		}

		conn, err := c.dialOne(ctx, endpoint)
		if err == nil {
			c.logger.InfoContext(ctx, "connected to node",
				"endpoint", endpoint,
				"attempt", i+1,
			)
			return conn, nil
		}

		c.logger.WarnContext(ctx, "node connection failed, trying next endpoint",
			"endpoint", endpoint,
			"attempt", i+1,
			"remaining", len(endpoints)-i-1,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
	}

	return nil, fmt.Errorf("%w: all %d endpoints failed: %w",
		ErrNoReachableNode, len(endpoints), errors.Join(errs...))
}

func (c *Connector) dialOne(ctx context.Context, endpoint string) (Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	conn, err := c.dialer.Dial(dialCtx, endpoint)
	if err == nil && conn == nil {
		err = errors.New("dialer returned no connection")
	}
	if err == nil && dialCtx.Err() != nil {
		// handshake finished after the deadline; do not hand out a late conn
		conn.Close()
		err = dialCtx.Err()
	}

	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordEndpointAttempt(endpoint, status, time.Since(start).Seconds())
	}
	return conn, err
}
