package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DiscoveryRecord is the last raw discovery payload seen for a device.
type DiscoveryRecord struct {
	DeviceID   int       `json:"eqlogic_id"`
	Name       string    `json:"name"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// DiscoveryStore persists discovery payloads so the registry can be rebuilt
// at start-up before the bus re-announces devices.
//
// Implementations must be thread-safe and use UTC timestamps.
type DiscoveryStore interface {
	// Save stores rec, replacing any previous payload for the device.
	Save(ctx context.Context, rec DiscoveryRecord) error

	// LoadAll returns every stored payload ordered by device id.
	LoadAll(ctx context.Context) ([]DiscoveryRecord, error)

	// Delete forgets a device. Deleting an unknown id is not an error.
	Delete(ctx context.Context, deviceID int) error
}

// SQLiteDiscoveryStore implements DiscoveryStore on the discovery_cache table.
type SQLiteDiscoveryStore struct {
	db *sql.DB
}

// NewSQLiteDiscoveryStore creates a store over an open, migrated database.
func NewSQLiteDiscoveryStore(db *sql.DB) *SQLiteDiscoveryStore {
	return &SQLiteDiscoveryStore{db: db}
}

// Save upserts the payload for rec.DeviceID.
func (s *SQLiteDiscoveryStore) Save(ctx context.Context, rec DiscoveryRecord) error {
	if rec.DeviceID == 0 {
		return fmt.Errorf("eqlogic id is required")
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_cache (eqlogic_id, name, payload, received_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(eqlogic_id) DO UPDATE SET
		   name = excluded.name,
		   payload = excluded.payload,
		   received_at = excluded.received_at`,
		rec.DeviceID,
		rec.Name,
		rec.Payload,
		rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving discovery payload: %w", err)
	}
	return nil
}

// LoadAll returns all cached payloads ordered by device id.
func (s *SQLiteDiscoveryStore) LoadAll(ctx context.Context) ([]DiscoveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT eqlogic_id, name, payload, received_at
		 FROM discovery_cache
		 ORDER BY eqlogic_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying discovery cache: %w", err)
	}
	defer rows.Close()

	var records []DiscoveryRecord
	for rows.Next() {
		var rec DiscoveryRecord
		var receivedAt string
		if err := rows.Scan(&rec.DeviceID, &rec.Name, &rec.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning discovery cache: %w", err)
		}
		rec.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating discovery cache: %w", err)
	}
	return records, nil
}

// Delete removes a device's cached payload.
func (s *SQLiteDiscoveryStore) Delete(ctx context.Context, deviceID int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM discovery_cache WHERE eqlogic_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting discovery payload: %w", err)
	}
	return nil
}
