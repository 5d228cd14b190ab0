package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fingermesh/accesshub/internal/models"
)

type PostgresSystemLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSystemLogRepository(pool *pgxpool.Pool) *PostgresSystemLogRepository {
	return &PostgresSystemLogRepository{pool: pool}
}

func (r *PostgresSystemLogRepository) Append(ctx context.Context, entry *models.SystemLogEntry) error {
	query := `INSERT INTO system_logs (device_id, category, message, ts)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		entry.DeviceID,
		entry.Category,
		entry.Message,
		entry.Timestamp,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to append system log: %w", err)
	}
	return nil
}

func (r *PostgresSystemLogRepository) Recent(ctx context.Context, limit int) ([]*models.SystemLogEntry, error) {
	query := `SELECT id, device_id, category, message, ts
	          FROM system_logs
	          ORDER BY ts DESC
	          LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query system logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.SystemLogEntry
	for rows.Next() {
		var entry models.SystemLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.DeviceID,
			&entry.Category,
			&entry.Message,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan system log: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating system logs: %w", err)
	}

	return entries, nil
}
