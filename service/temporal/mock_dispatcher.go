package temporal

import (
	"context"
	"fmt"
	"sync"
)

// MockDispatcher is an in-memory Dispatcher for testing. Started payments
// stay "running" until Complete is called.
type MockDispatcher struct {
	mu       sync.Mutex
	runs     map[string]*PaymentRun
	inputs   []PaymentInput
	startErr error
}

// NewMockDispatcher creates a new MockDispatcher.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{
		runs: make(map[string]*PaymentRun),
	}
}

// SetStartError makes StartPayment fail with err.
func (m *MockDispatcher) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// StartPayment records the input and returns a running workflow.
func (m *MockDispatcher) StartPayment(ctx context.Context, input PaymentInput) (*PaymentRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, m.startErr
	}
	run := &PaymentRun{
		WorkflowID: NewWorkflowID(),
		RunID:      fmt.Sprintf("run-%d", len(m.inputs)+1),
		Status:     "running",
	}
	m.inputs = append(m.inputs, input)
	m.runs[run.WorkflowID] = run

	out := *run
	return &out, nil
}

// DescribePayment returns the recorded run.
func (m *MockDispatcher) DescribePayment(ctx context.Context, workflowID string) (*PaymentRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	out := *run
	return &out, nil
}

// Complete marks a run completed with result.
func (m *MockDispatcher) Complete(workflowID string, result *PaymentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[workflowID]; ok {
		run.Status = "completed"
		run.Result = result
	}
}

// Inputs returns every input StartPayment accepted.
func (m *MockDispatcher) Inputs() []PaymentInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PaymentInput, len(m.inputs))
	copy(out, m.inputs)
	return out
}
