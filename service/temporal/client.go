package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrWorkflowNotFound is returned when no payment workflow has the given ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowIDPrefix prefixes every payment workflow ID.
const WorkflowIDPrefix = "payment-"

// Dispatcher starts payment workflows and reports on them.
type Dispatcher interface {
	StartPayment(ctx context.Context, input PaymentInput) (*PaymentRun, error)
	DescribePayment(ctx context.Context, workflowID string) (*PaymentRun, error)
}

// PaymentRun is the status of one payment workflow. Result is set once the
// workflow completed.
type PaymentRun struct {
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	Result     *PaymentResult `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Client wraps the Temporal client for payment workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(temporalHost, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	logger.Info("connecting to temporal",
		"host", temporalHost,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  temporalHost,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartPayment starts a PaymentWorkflow for an already confirmed transfer.
func (c *Client) StartPayment(ctx context.Context, input PaymentInput) (*PaymentRun, error) {
	if input.RequestedAt.IsZero() {
		input.RequestedAt = time.Now().UTC()
	}
	id := NewWorkflowID()

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: 2 * PaymentActivityTimeout,
	}, PaymentWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start payment workflow",
			"workflow_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("payment workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"amount", input.Amount,
		"recipient", input.Recipient,
	)

	return &PaymentRun{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     statusName(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING),
	}, nil
}

// DescribePayment returns the status of a payment workflow, including its
// result when it has completed.
func (c *Client) DescribePayment(ctx context.Context, workflowID string) (*PaymentRun, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := info.GetStatus()
	run := &PaymentRun{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     statusName(status),
	}

	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result PaymentResult
		if err := c.client.GetWorkflow(ctx, workflowID, run.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("get result of workflow %q: %w", workflowID, err)
		}
		run.Result = &result
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		if err := c.client.GetWorkflow(ctx, workflowID, run.RunID).Get(ctx, nil); err != nil {
			run.Error = err.Error()
		}
	}

	return run, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// NewWorkflowID returns a fresh payment workflow ID.
func NewWorkflowID() string {
	return WorkflowIDPrefix + uuid.NewString()
}

// statusName turns WORKFLOW_EXECUTION_STATUS_RUNNING into "running".
func statusName(s enumspb.WorkflowExecutionStatus) string {
	if s == enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED {
		return "unknown"
	}
	name := strings.ToLower(s.String())
	return strings.TrimPrefix(name, "workflow_execution_status_")
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
