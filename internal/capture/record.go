// Package capture persists images received from the camera: files on disk,
// one metadata row per image in PostgreSQL, and an optional NATS event.
package capture

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the metadata stored for one received image.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"image_path"` // relative to the image directory
	GPSLat    *float64  `json:"gps_lat"`
	GPSLon    *float64  `json:"gps_lon"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
}

// Repository stores capture records.
type Repository interface {
	Migrate(ctx context.Context) error
	InsertCapture(ctx context.Context, rec *Record) error
	ListCaptures(ctx context.Context, limit, offset int) ([]*Record, int64, error)
	Close() error
}

// Publisher announces stored captures to other services.
type Publisher interface {
	PublishCapture(ctx context.Context, rec *Record) error
}
