package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"product-import-service/internal/models"
)

const (
	streamName = "PRODUCT_IMPORTS"

	SubjectImportCompleted = "product.import.completed"
	SubjectImportFailed    = "product.import.failed"
)

// ImportEvent is the payload published when an import task reaches a
// terminal state. Downstream consumers (webhook dispatchers, search
// indexers) react to these instead of polling the status endpoint.
type ImportEvent struct {
	TaskID     string            `json:"taskId"`
	Status     models.TaskStatus `json:"status"`
	Processed  int64             `json:"processed"`
	Invalid    int64             `json:"invalid"`
	Total      *int64            `json:"total,omitempty"`
	Error      *string           `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Publisher publishes import lifecycle events to NATS JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the imports stream exists.
func NewPublisher(logger *logrus.Logger) (*Publisher, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("product-import-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"product.import.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil && !strings.Contains(err.Error(), "already in use") {
		logger.WithError(err).Warn("Failed to ensure imports stream (may already exist)")
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "import-events"),
	}, nil
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// PublishImportCompleted publishes a product.import.completed event
func (p *Publisher) PublishImportCompleted(ctx context.Context, snap models.TaskSnapshot) error {
	return p.publish(ctx, SubjectImportCompleted, snap)
}

// PublishImportFailed publishes a product.import.failed event
func (p *Publisher) PublishImportFailed(ctx context.Context, snap models.TaskSnapshot) error {
	return p.publish(ctx, SubjectImportFailed, snap)
}

func (p *Publisher) publish(ctx context.Context, subject string, snap models.TaskSnapshot) error {
	event := ImportEvent{
		TaskID:     snap.TaskID,
		Status:     snap.Status,
		Processed:  snap.Processed,
		Invalid:    snap.Invalid,
		Total:      snap.Total,
		Error:      snap.Error,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.WithFields(logrus.Fields{
		"subject": subject,
		"task_id": snap.TaskID,
	}).Debug("Published import event")
	return nil
}
