package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestPaymentWorkflow(t *testing.T) {
	tests := []struct {
		name          string
		mockActivity  func(*testsuite.MockCallWrapper)
		expectedError bool
		validate      func(*testing.T, *PaymentResult)
	}{
		{
			name: "confirmed transfer",
			mockActivity: func(m *testsuite.MockCallWrapper) {
				m.Return(&PaymentResult{
					PaymentID: "p1",
					State:     "confirmed",
					BlockHash: "0xabc",
				}, nil)
			},
			validate: func(t *testing.T, r *PaymentResult) {
				assert.True(t, r.Succeeded())
				assert.Equal(t, "0xabc", r.BlockHash)
			},
		},
		{
			name: "failed transfer completes the workflow",
			mockActivity: func(m *testsuite.MockCallWrapper) {
				m.Return(&PaymentResult{
					PaymentID: "p2",
					State:     "failed",
					ErrorKind: "no_reachable_node",
				}, nil)
			},
			validate: func(t *testing.T, r *PaymentResult) {
				assert.False(t, r.Succeeded())
				assert.Equal(t, "no_reachable_node", r.ErrorKind)
			},
		},
		{
			name: "activity error fails the workflow",
			mockActivity: func(m *testsuite.MockCallWrapper) {
				m.Return(nil, errors.New("boom"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.ExecutePayment)
			tt.mockActivity(env.OnActivity(activities.ExecutePayment, mock.Anything, mock.Anything))

			env.ExecuteWorkflow(PaymentWorkflow, PaymentInput{Amount: 1, Recipient: testRecipient})

			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result *PaymentResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validate(t, result)
		})
	}
}

func TestPaymentWorkflow_ActivityRunsOnce(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.ExecutePayment)

	calls := 0
	env.OnActivity(activities.ExecutePayment, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { calls++ }).
		Return(nil, errors.New("node went away"))

	env.ExecuteWorkflow(PaymentWorkflow, PaymentInput{Amount: 1, Recipient: testRecipient})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}
