package nats

import (
	"time"

	"github.com/brojonat/voxpay/service/pipeline"
)

// PaymentEvent is a terminal payment outcome as published to NATS on
// "payments.{signer_address}".
type PaymentEvent struct {
	PaymentID string `json:"payment_id"`

	// Parties
	Signer    string `json:"signer"`
	Recipient string `json:"recipient"`

	// Transfer details
	Amount float64 `json:"amount"`
	Planck string  `json:"planck,omitempty"`
	Call   string  `json:"call,omitempty"`

	// Result
	State         string `json:"state"`
	Status        string `json:"status"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	BlockHash     string `json:"block_hash,omitempty"`
	ExtrinsicHash string `json:"extrinsic_hash,omitempty"`

	// Timing information
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts a pipeline outcome to a PaymentEvent for publishing.
func FromOutcome(o *pipeline.Outcome) *PaymentEvent {
	event := &PaymentEvent{
		PaymentID:   o.ID,
		Signer:      o.Signer,
		Recipient:   o.Request.Recipient,
		Amount:      o.Request.Amount,
		Planck:      o.Planck,
		Call:        o.Call,
		State:       string(o.State),
		Status:      o.Status,
		ErrorKind:   o.ErrorKind,
		Endpoint:    o.Endpoint,
		StartedAt:   o.StartedAt,
		FinishedAt:  o.FinishedAt,
		PublishedAt: time.Now().UTC(),
	}

	if o.Receipt != nil {
		event.BlockHash = o.Receipt.BlockHash
		event.ExtrinsicHash = o.Receipt.ExtrinsicHash
	}

	return event
}

// Subject returns the NATS subject the event is published on.
func (e *PaymentEvent) Subject() string {
	return SubjectPrefix + e.Signer
}
