package capture

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
    id UUID PRIMARY KEY,
    taken_at TIMESTAMPTZ NOT NULL,
    image_path TEXT NOT NULL,
    gps_lat DOUBLE PRECISION,
    gps_lon DOUBLE PRECISION,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    checksum TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS captures_taken_at_idx ON captures (taken_at DESC);`

// PostgresRepository implements Repository for PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens and pings the database
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Migrate creates the captures table if it does not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create captures table: %w", err)
	}
	return nil
}

// InsertCapture stores one capture record
func (r *PostgresRepository) InsertCapture(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `
        INSERT INTO captures (
            id, taken_at, image_path, gps_lat, gps_lon, size_bytes, checksum
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.ImagePath, rec.GPSLat, rec.GPSLon,
		rec.Size, rec.Checksum,
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// ListCaptures returns captures newest first and the total count
func (r *PostgresRepository) ListCaptures(ctx context.Context, limit, offset int) ([]*Record, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count captures: %w", err)
	}

	query := `
        SELECT id, taken_at, image_path, gps_lat, gps_lon, size_bytes, checksum
        FROM captures
        ORDER BY taken_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec := &Record{}
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.ImagePath, &lat, &lon,
			&rec.Size, &rec.Checksum); err != nil {
			return nil, 0, fmt.Errorf("scan capture: %w", err)
		}
		if lat.Valid {
			rec.GPSLat = &lat.Float64
		}
		if lon.Valid {
			rec.GPSLon = &lon.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
