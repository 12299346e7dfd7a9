package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/voxpay/service/metrics"
	natspkg "github.com/brojonat/voxpay/service/nats"
)

const sseKeepalive = 10 * time.Second

// SSEPublisher streams payment events from JetStream to SSE clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, js, err := natspkg.Connect(natsURL, "voxpay-sse-publisher")
	if err != nil {
		return nil, err
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamPayments streams terminal payment events. With ?signer= only
// that signer's payments are sent.
// GET /api/v1/stream/payments
func handleStreamPayments(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		signer := r.URL.Query().Get("signer")
		subject := natspkg.StreamSubjects
		if signer != "" {
			if err := validateAddress(signer); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.SubjectPrefix + signer
		}

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(ctx, "could not clear write deadline", "error", err)
		}

		cons, err := publisher.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer", "subject", subject, "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		msgChan := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to start consuming messages", "error", err)
			fmt.Fprintf(w, "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\n")
			rc.Flush()
			return
		}
		defer cc.Stop()

		logger.DebugContext(ctx, "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		connected, _ := json.Marshal(map[string]string{"subject": subject})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		rc.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				rc.Flush()

			case msg := <-msgChan:
				var event natspkg.PaymentEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal event", "error", err)
					msg.Ack()
					continue
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: payment\ndata: %s\n\n", data)
				rc.Flush()
				msg.Ack()

				logger.DebugContext(ctx, "sent payment event",
					"payment_id", event.PaymentID,
					"state", event.State,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
