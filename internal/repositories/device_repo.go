package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fingermesh/accesshub/internal/models"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

// Upsert inserts the device or refreshes its liveness columns. An empty IP on
// the incoming record keeps whatever IP the row already has.
func (r *PostgresDeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (device_id, ip, status, last_seen_at)
	          VALUES ($1, NULLIF($2, ''), $3, $4)
	          ON CONFLICT (device_id) DO UPDATE
	          SET ip = COALESCE(NULLIF($2, ''), devices.ip),
	              status = $3,
	              last_seen_at = $4
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		device.DeviceID,
		device.IP,
		device.Status,
		device.LastSeenAt,
	).Scan(&device.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT device_id, COALESCE(ip, ''), status, last_seen_at, created_at
	          FROM devices
	          WHERE device_id = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.IP,
		&device.Status,
		&device.LastSeenAt,
		&device.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	query := `SELECT device_id, COALESCE(ip, ''), status, last_seen_at, created_at
	          FROM devices
	          ORDER BY device_id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		err := rows.Scan(
			&device.DeviceID,
			&device.IP,
			&device.Status,
			&device.LastSeenAt,
			&device.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}
