package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PaymentActivityTimeout bounds one pipeline run: dialing, balance checks
// and waiting for inclusion.
const PaymentActivityTimeout = 5 * time.Minute

// PaymentWorkflow executes a confirmed transfer exactly once. A submitted
// extrinsic may land even if the activity times out, so the activity is
// never retried.
func PaymentWorkflow(ctx workflow.Context, input PaymentInput) (*PaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PaymentWorkflow started",
		"amount", input.Amount,
		"recipient", input.Recipient,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: PaymentActivityTimeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result *PaymentResult
	if err := workflow.ExecuteActivity(ctx, a.ExecutePayment, input).Get(ctx, &result); err != nil {
		logger.Error("payment activity failed", "error", err)
		return nil, fmt.Errorf("execute payment: %w", err)
	}

	logger.Info("PaymentWorkflow finished",
		"payment_id", result.PaymentID,
		"state", result.State,
		"error_kind", result.ErrorKind,
	)
	return result, nil
}
