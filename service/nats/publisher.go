package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/voxpay/service/metrics"
	"github.com/brojonat/voxpay/service/pipeline"
)

// Publisher publishes payment events to NATS.
type Publisher interface {
	// PublishEvent publishes a single payment event to JetStream on
	// "payments.{signer_address}".
	PublishEvent(ctx context.Context, event *PaymentEvent) error

	// PublishPayment converts a terminal outcome and publishes it.
	PublishPayment(ctx context.Context, o *pipeline.Outcome) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes payment events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for payments.
	StreamName = "PAYMENTS"

	// SubjectPrefix prefixes the signer address in event subjects.
	SubjectPrefix = "payments."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "payments.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// Connect dials NATS with the reconnect policy every component shares.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, js, err := Connect(natsURL, "voxpay-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Terminal payment outcomes by signer",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created", "stream", StreamName)
	return nil
}

// PublishEvent publishes a single payment event.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *PaymentEvent) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}

	p.logger.DebugContext(ctx, "published payment event",
		"subject", subject,
		"payment_id", event.PaymentID,
		"state", event.State,
	)
	return nil
}

// PublishPayment publishes a terminal pipeline outcome.
func (p *JetStreamPublisher) PublishPayment(ctx context.Context, o *pipeline.Outcome) error {
	return p.PublishEvent(ctx, FromOutcome(o))
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
