package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/voxpay/service/substrate"
)

// Transition is one state change of a run.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Outcome is the terminal report of a run. Err holds the typed error for
// errors.Is; ErrorKind and Error are its serializable form.
type Outcome struct {
	ID          string                       `json:"id"`
	State       State                        `json:"state"`
	Status      string                       `json:"status"`
	Request     substrate.TransactionRequest `json:"request"`
	Signer      string                       `json:"signer"`
	Endpoint    string                       `json:"endpoint,omitempty"`
	Call        string                       `json:"call,omitempty"`
	Planck      string                       `json:"planck,omitempty"`
	Receipt     *substrate.Receipt           `json:"receipt,omitempty"`
	ErrorKind   string                       `json:"error_kind,omitempty"`
	Error       string                       `json:"error,omitempty"`
	Transitions []Transition                 `json:"transitions"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`

	Err error `json:"-"`
}

// Succeeded reports whether the run reached StateConfirmed.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.State == StateConfirmed
}

// Duration is the wall time between start and the terminal state.
func (o *Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// BlockHash returns the inclusion block hash, if any.
func (o *Outcome) BlockHash() string {
	if o.Receipt == nil {
		return ""
	}
	return o.Receipt.BlockHash
}

func statusLine(o *Outcome) string {
	switch {
	case o.State == StateConfirmed && o.BlockHash() != "":
		return "Transaction sent. Block hash: " + o.BlockHash()
	case o.State == StateConfirmed && o.Receipt != nil:
		return "Transaction sent. Extrinsic hash: " + o.Receipt.ExtrinsicHash
	case o.State == StateConfirmed:
		return "Transaction sent."
	case o.ErrorKind == "user_cancelled":
		return "Transaction cancelled."
	default:
		return fmt.Sprintf("Transaction failed [%s]: %s", o.ErrorKind, o.Error)
	}
}

// Observer is notified of every state change. Calls happen on the run's
// goroutine, so implementations must return quickly.
type Observer interface {
	OnTransition(ctx context.Context, paymentID string, t Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, paymentID string, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, paymentID string, t Transition) {
	f(ctx, paymentID, t)
}

// Recorder persists terminal outcomes.
type Recorder interface {
	RecordPayment(ctx context.Context, o *Outcome) error
}

// Publisher broadcasts terminal outcomes.
type Publisher interface {
	PublishPayment(ctx context.Context, o *Outcome) error
}
