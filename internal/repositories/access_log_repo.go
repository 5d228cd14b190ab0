package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fingermesh/accesshub/internal/models"
)

type PostgresAccessLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAccessLogRepository(pool *pgxpool.Pool) *PostgresAccessLogRepository {
	return &PostgresAccessLogRepository{pool: pool}
}

func (r *PostgresAccessLogRepository) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	query := `INSERT INTO access_logs (device_id, user_id, user_name, card_id, granted, ts)
	          VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	          RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		entry.DeviceID,
		entry.UserID,
		entry.UserName,
		entry.CardID,
		entry.Granted,
		entry.Timestamp,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to append access log: %w", err)
	}
	return nil
}

func (r *PostgresAccessLogRepository) Recent(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	query := `SELECT id, device_id, user_id, user_name, COALESCE(card_id, ''), granted, ts
	          FROM access_logs
	          ORDER BY ts DESC
	          LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query access logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AccessLogEntry
	for rows.Next() {
		var entry models.AccessLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.DeviceID,
			&entry.UserID,
			&entry.UserName,
			&entry.CardID,
			&entry.Granted,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access logs: %w", err)
	}

	return entries, nil
}
