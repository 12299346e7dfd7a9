package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/substrate"
)

// PaymentInput contains the input parameters for a payment workflow. The
// user has already confirmed the transfer when the workflow starts.
type PaymentInput struct {
	Amount      float64   `json:"amount"`
	Recipient   string    `json:"recipient"`
	Text        string    `json:"text,omitempty"` // original utterance, if any
	RequestedAt time.Time `json:"requested_at"`
}

// PaymentResult contains the terminal outcome of a payment workflow.
type PaymentResult struct {
	PaymentID     string    `json:"payment_id"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	Signer        string    `json:"signer"`
	Recipient     string    `json:"recipient"`
	Amount        float64   `json:"amount"`
	Planck        string    `json:"planck,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	BlockHash     string    `json:"block_hash,omitempty"`
	ExtrinsicHash string    `json:"extrinsic_hash,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Succeeded reports whether the transfer was submitted.
func (r *PaymentResult) Succeeded() bool {
	return r != nil && r.State == string(pipeline.StateConfirmed)
}

// Executor runs one payment through the pipeline. *pipeline.Service
// implements it.
type Executor interface {
	Execute(ctx context.Context, req substrate.TransactionRequest, confirmer pipeline.Confirmer) (*pipeline.Outcome, error)
}

// Activities contains the Temporal activities for payments.
type Activities struct {
	executor Executor
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with the given executor.
func NewActivities(executor Executor, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		executor: executor,
		logger:   logger,
	}
}

// ExecutePayment runs the payment pipeline once. Pipeline failures are
// reported in the result rather than as activity errors so the workflow
// completes with the recorded outcome. Only a run that produced no outcome
// at all fails the activity, and never retryably.
func (a *Activities) ExecutePayment(ctx context.Context, input PaymentInput) (*PaymentResult, error) {
	info := activity.GetInfo(ctx)
	logger := a.logger.With(
		"workflow_id", info.WorkflowExecution.ID,
		"attempt", info.Attempt,
	)

	logger.InfoContext(ctx, "executing payment",
		"amount", input.Amount,
		"recipient", input.Recipient,
	)

	req := substrate.TransactionRequest{Amount: input.Amount, Recipient: input.Recipient}
	outcome, err := a.executor.Execute(ctx, req, pipeline.AutoConfirm)
	if outcome == nil {
		if err == nil {
			err = errors.New("pipeline returned no outcome")
		}
		logger.ErrorContext(ctx, "payment produced no outcome", "error", err)
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("execute payment: %v", err), pipeline.Kind(err), err)
	}

	result := resultFromOutcome(outcome)
	if err != nil {
		logger.WarnContext(ctx, "payment failed",
			"payment_id", result.PaymentID,
			"error_kind", result.ErrorKind,
			"error", err,
		)
		return result, nil
	}

	logger.InfoContext(ctx, "payment confirmed",
		"payment_id", result.PaymentID,
		"block_hash", result.BlockHash,
	)
	return result, nil
}

func resultFromOutcome(o *pipeline.Outcome) *PaymentResult {
	r := &PaymentResult{
		PaymentID:  o.ID,
		State:      string(o.State),
		Status:     o.Status,
		Signer:     o.Signer,
		Recipient:  o.Request.Recipient,
		Amount:     o.Request.Amount,
		Planck:     o.Planck,
		Endpoint:   o.Endpoint,
		ErrorKind:  o.ErrorKind,
		Error:      o.Error,
		FinishedAt: o.FinishedAt,
	}
	if o.Receipt != nil {
		r.BlockHash = o.Receipt.BlockHash
		r.ExtrinsicHash = o.Receipt.ExtrinsicHash
	}
	return r
}
