package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/voxpay/service/substrate"
)

// reportTimeout bounds the best-effort recorder and publisher calls.
const reportTimeout = 5 * time.Second

// Pipeline is a single payment run. It moves forward through
//
//	idle -> connecting -> validating -> confirming -> composing -> signing -> submitting
//
// and ends in confirmed or failed. A Pipeline runs once; build a new one
// per attempt with Service.NewPipeline.
type Pipeline struct {
	svc       *Service
	confirmer Confirmer
	logger    *slog.Logger

	used    atomic.Bool
	state   State
	entered time.Time
	outcome *Outcome
}

// ID returns the payment ID the run reports under.
func (p *Pipeline) ID() string {
	return p.outcome.ID
}

// Run executes the payment. The returned Outcome is always set once the
// run started; err equals Outcome.Err. A second call returns
// ErrPipelineUsed and does nothing.
func (p *Pipeline) Run(ctx context.Context, req substrate.TransactionRequest) (*Outcome, error) {
	if !p.used.CompareAndSwap(false, true) {
		return nil, ErrPipelineUsed
	}

	m := p.svc.metrics
	if m != nil {
		m.PaymentStarted()
		defer m.PaymentFinished()
	}

	now := time.Now().UTC()
	p.outcome.Request = req
	p.outcome.StartedAt = now
	p.entered = now

	p.logger.InfoContext(ctx, "payment started",
		"amount", req.Amount,
		"recipient", req.Recipient,
	)

	p.run(ctx, req)
	p.finish(ctx)
	return p.outcome, p.outcome.Err
}

func (p *Pipeline) run(ctx context.Context, req substrate.TransactionRequest) {
	svc := p.svc

	// idle: validate without touching the network
	if _, err := substrate.ScaleAmount(req.Amount, svc.composer.Decimals()); err != nil {
		p.fail(ctx, err)
		return
	}
	if err := substrate.ValidateAddressFor(req.Recipient, svc.identity.Prefix()); err != nil {
		p.fail(ctx, fmt.Errorf("%w: %w", ErrInvalidRecipient, err))
		return
	}

	p.transition(ctx, StateConnecting)
	conn, err := svc.connector.Connect(ctx, svc.endpoints)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.logger.WarnContext(ctx, "failed to close node connection", "error", err)
		}
	}()
	p.outcome.Endpoint = conn.Endpoint()

	p.transition(ctx, StateValidating)
	pf, err := svc.composer.Preflight(ctx, conn, svc.identity, req)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	p.outcome.Planck = pf.ScaledAmount.String()

	p.transition(ctx, StateConfirming)
	ok, err := p.confirmer.Confirm(ctx, req.Amount, req.Recipient)
	if err != nil {
		p.fail(ctx, fmt.Errorf("confirmation: %w", err))
		return
	}
	if !ok {
		p.fail(ctx, ErrUserCancelled)
		return
	}

	p.transition(ctx, StateComposing)
	call, err := svc.composer.Compose(svc.identity, req, pf)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	p.outcome.Call = call.Name()

	p.transition(ctx, StateSigning)
	ext, err := svc.composer.Sign(ctx, conn, call, svc.identity)
	if err != nil {
		p.fail(ctx, err)
		return
	}

	p.transition(ctx, StateSubmitting)
	receipt, err := svc.submitter.Submit(ctx, conn, ext, svc.waitForInclusion)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	p.outcome.Receipt = receipt

	p.transition(ctx, StateConfirmed)
}

func (p *Pipeline) transition(ctx context.Context, to State) {
	if p.state.Terminal() {
		return
	}

	now := time.Now().UTC()
	t := Transition{From: p.state, To: to, At: now}
	if m := p.svc.metrics; m != nil {
		m.RecordStageDuration(string(p.state), now.Sub(p.entered).Seconds())
	}

	p.state = to
	p.entered = now
	p.outcome.State = to
	p.outcome.Transitions = append(p.outcome.Transitions, t)

	p.logger.DebugContext(ctx, "payment state changed", "from", t.From, "to", t.To)
	if p.svc.observer != nil {
		p.svc.observer.OnTransition(ctx, p.outcome.ID, t)
	}
}

func (p *Pipeline) fail(ctx context.Context, err error) {
	p.outcome.Err = err
	p.outcome.ErrorKind = Kind(err)
	p.outcome.Error = err.Error()
	p.transition(ctx, StateFailed)
}

func (p *Pipeline) finish(ctx context.Context) {
	o := p.outcome
	o.FinishedAt = time.Now().UTC()
	o.Status = statusLine(o)

	if m := p.svc.metrics; m != nil {
		m.RecordPayment(string(o.State), o.ErrorKind, o.Duration().Seconds())
		if o.Succeeded() {
			if planck, err := substrate.ScaleAmount(o.Request.Amount, p.svc.composer.Decimals()); err == nil {
				f, _ := planck.Float64()
				m.RecordTransferred(f)
			}
		}
	}

	if o.Succeeded() {
		p.logger.InfoContext(ctx, "payment confirmed",
			"status", o.Status,
			"endpoint", o.Endpoint,
			"duration", o.Duration(),
		)
	} else {
		p.logger.WarnContext(ctx, "payment failed",
			"kind", o.ErrorKind,
			"error", o.Err,
			"endpoint", o.Endpoint,
			"duration", o.Duration(),
		)
	}

	// reporting must outlive a caller that already gave up
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if r := p.svc.recorder; r != nil {
		if err := r.RecordPayment(rctx, o); err != nil {
			p.logger.ErrorContext(ctx, "failed to record payment", "error", err)
		}
	}
	if pub := p.svc.publisher; pub != nil {
		if err := pub.PublishPayment(rctx, o); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish payment event", "error", err)
		}
	}
}

func newPipeline(svc *Service, confirmer Confirmer) *Pipeline {
	id := uuid.New().String()
	return &Pipeline{
		svc:       svc,
		confirmer: confirmer,
		logger:    svc.logger.With("payment_id", id),
		state:     StateIdle,
		outcome: &Outcome{
			ID:          id,
			State:       StateIdle,
			Signer:      svc.identity.Address(),
			Transitions: []Transition{},
		},
	}
}
