package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject capture events are published on.
const DefaultSubject = "capture.saved"

// Event is the payload published for each stored capture.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"image_path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
}

// NATSPublisher publishes capture events to NATS
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on subject, or DefaultSubject when
// subject is empty.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// PublishCapture sends the capture event. NATS publishes are asynchronous;
// ctx is accepted for interface symmetry with the repository.
func (p *NATSPublisher) PublishCapture(_ context.Context, rec *Record) error {
	data, err := json.Marshal(NewEvent(rec))
	if err != nil {
		return fmt.Errorf("marshal capture event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish capture event: %w", err)
	}
	return nil
}

// NewEvent builds the event payload for rec.
func NewEvent(rec *Record) Event {
	return Event{
		ID:        rec.ID.String(),
		Timestamp: rec.Timestamp.UTC(),
		ImagePath: rec.ImagePath,
		Size:      rec.Size,
		Checksum:  rec.Checksum,
	}
}
