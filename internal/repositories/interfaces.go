package repositories

import (
	"context"
	"errors"

	"github.com/fingermesh/accesshub/internal/models"
)

var ErrNotFound = errors.New("record not found")

type DeviceRepository interface {
	Upsert(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, deviceID string) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
}

type UserRepository interface {
	DeleteForDevice(ctx context.Context, deviceID string) error
	Insert(ctx context.Context, user *models.DeviceUser) error
	ListByDevice(ctx context.Context, deviceID string) ([]*models.DeviceUser, error)
}

type AccessLogRepository interface {
	Append(ctx context.Context, entry *models.AccessLogEntry) error
	Recent(ctx context.Context, limit int) ([]*models.AccessLogEntry, error)
}

type SystemLogRepository interface {
	Append(ctx context.Context, entry *models.SystemLogEntry) error
	Recent(ctx context.Context, limit int) ([]*models.SystemLogEntry, error)
}
