package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/voxpay/service/metrics"
)

// DefaultSubmitTimeout bounds the wait for block inclusion.
const DefaultSubmitTimeout = 2 * time.Minute

// Submitter hands signed extrinsics to a node. It never resubmits: a
// timed-out submission may still land, so retrying is left to the user.
type Submitter struct {
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter with the given inclusion timeout.
func NewSubmitter(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Submitter{
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Submit sends ext over conn. With waitForInclusion it blocks until the
// node reports the block the extrinsic landed in.
func (s *Submitter) Submit(ctx context.Context, conn Connection, ext *SignedExtrinsic, waitForInclusion bool) (*Receipt, error) {
	if ext == nil {
		return nil, fmt.Errorf("%w: nil extrinsic", ErrSubmission)
	}
	if !ext.markSubmitted() {
		return nil, fmt.Errorf("%w (hash %s)", ErrExtrinsicReused, ext.Hash)
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt := &Receipt{
		ExtrinsicHash: ext.Hash,
		Endpoint:      conn.Endpoint(),
		SubmittedAt:   time.Now().UTC(),
	}

	s.logger.InfoContext(ctx, "submitting extrinsic",
		"endpoint", conn.Endpoint(),
		"extrinsic_hash", ext.Hash,
		"wait_for_inclusion", waitForInclusion,
	)

	start := time.Now()
	if !waitForInclusion {
		hash, err := conn.Submit(sctx, ext)
		s.record("Author.SubmitExtrinsic", conn.Endpoint(), start, err)
		if err != nil {
			return nil, classify(ErrSubmission, err, "submit %s", ext.Hash)
		}
		if hash != "" {
			receipt.ExtrinsicHash = hash
		}
		return receipt, nil
	}

	inc, err := conn.SubmitAndWatch(sctx, ext)
	s.record("Author.SubmitAndWatchExtrinsic", conn.Endpoint(), start, err)
	if err != nil {
		return nil, classify(ErrSubmission, err, "submit %s", ext.Hash)
	}
	if inc == nil || inc.BlockHash == "" {
		return nil, fmt.Errorf("%w: node reported inclusion without a block hash", ErrSubmission)
	}

	receipt.BlockHash = inc.BlockHash
	receipt.Finalized = inc.Finalized

	s.logger.InfoContext(ctx, "extrinsic included",
		"extrinsic_hash", ext.Hash,
		"block_hash", inc.BlockHash,
		"finalized", inc.Finalized,
		"duration", time.Since(start),
	)
	return receipt, nil
}

func (s *Submitter) record(method, endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordRPCCall(method, status, endpoint, time.Since(start).Seconds())
}
