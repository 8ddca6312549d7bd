package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Archive stores images on disk and their metadata in a Repository. It is the
// store the session writes completed transfers to.
type Archive struct {
	files *FileStore
	repo  Repository
	pub   Publisher // optional
}

// NewArchive wires the pieces together. pub may be nil.
func NewArchive(files *FileStore, repo Repository, pub Publisher) *Archive {
	return &Archive{files: files, repo: repo, pub: pub}
}

// Save writes the image file and returns its path relative to the image
// directory.
func (a *Archive) Save(_ context.Context, data []byte, filename string) (string, error) {
	path, err := a.files.Write(data, filename)
	if err != nil {
		return "", err
	}
	slog.Debug("[STORE] image written", "path", path, "bytes", len(data))
	return path, nil
}

// RecordCapture inserts the metadata row for a saved image and publishes an
// event. A publish failure is logged and does not fail the call.
func (a *Archive) RecordCapture(ctx context.Context, takenAt time.Time, path string) error {
	sum, size, err := a.files.Checksum(path)
	if err != nil {
		return err
	}

	rec := &Record{
		ID:        uuid.New(),
		Timestamp: takenAt,
		ImagePath: path,
		Size:      size,
		Checksum:  sum,
	}
	if err := a.repo.InsertCapture(ctx, rec); err != nil {
		return fmt.Errorf("capture: record %s: %w", path, err)
	}
	slog.Info("[STORE] capture recorded", "id", rec.ID, "path", path, "size", size)

	if a.pub != nil {
		if err := a.pub.PublishCapture(ctx, rec); err != nil {
			slog.Warn("[STORE] capture event not published", "id", rec.ID, "error", err)
		}
	}
	return nil
}

// ListCaptures returns stored captures newest first.
func (a *Archive) ListCaptures(ctx context.Context, limit, offset int) ([]*Record, int64, error) {
	return a.repo.ListCaptures(ctx, limit, offset)
}
