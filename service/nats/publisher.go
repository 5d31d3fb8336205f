package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing transfer events to NATS.
type Publisher interface {
	// PublishTransfer publishes a single transfer event to JetStream.
	// The event is published to the subject "transfers.{from_address}".
	PublishTransfer(ctx context.Context, event *TransferEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes transfer events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for transfers.
	StreamName = "TRANSFERS"

	// SubjectPrefix is prepended to the sender address.
	SubjectPrefix = "transfers."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message IDs. A retried
	// publish of the same signature inside the window is dropped.
	DuplicateWindow = 10 * time.Minute
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solwallet-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
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
		Description: "Finalized SOL transfers sent by solwallet",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTransfer publishes a single transfer event. The signature is used
// as the message ID so JetStream drops duplicates.
func (p *JetStreamPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.Signature))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		// Subjects are per sender; label by stream to bound cardinality.
		p.metrics.RecordNATSPublish(StreamName, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish transfer: %w", err)
	}

	p.logger.DebugContext(ctx, "published transfer event",
		"subject", subject,
		"signature", event.Signature,
		"sequence", ack.Sequence,
		"duplicate", ack.Duplicate,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
