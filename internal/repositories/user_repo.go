package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fingermesh/accesshub/internal/models"
)

// PostgresUserRepository stores per-device enrolled-user snapshots. Roster
// replacement is driven row-by-row by the sync service so one bad row cannot
// sink the rest of a roster; the per-device ordering lock lives up there too.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

func (r *PostgresUserRepository) DeleteForDevice(ctx context.Context, deviceID string) error {
	query := `DELETE FROM device_users WHERE device_id = $1`

	if _, err := r.pool.Exec(ctx, query, deviceID); err != nil {
		return fmt.Errorf("failed to delete roster for device %s: %w", deviceID, err)
	}
	return nil
}

func (r *PostgresUserRepository) Insert(ctx context.Context, user *models.DeviceUser) error {
	query := `INSERT INTO device_users (device_id, user_id, name, phone, card_id, updated_at)
	          VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NOW())
	          ON CONFLICT (device_id, user_id) DO UPDATE
	          SET name = $3, phone = NULLIF($4, ''), card_id = NULLIF($5, ''), updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		user.DeviceID,
		user.UserID,
		user.Name,
		user.Phone,
		user.CardID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert roster row: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) ListByDevice(ctx context.Context, deviceID string) ([]*models.DeviceUser, error) {
	query := `SELECT device_id, user_id, name, COALESCE(phone, ''), COALESCE(card_id, ''), updated_at
	          FROM device_users
	          WHERE device_id = $1
	          ORDER BY user_id ASC`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var users []*models.DeviceUser
	for rows.Next() {
		var user models.DeviceUser
		err := rows.Scan(
			&user.DeviceID,
			&user.UserID,
			&user.Name,
			&user.Phone,
			&user.CardID,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roster: %w", err)
	}

	return users, nil
}
