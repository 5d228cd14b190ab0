package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fingermesh/accesshub/internal/models"
)

// In-memory implementations of the repository interfaces, for development
// without a database and for service-level tests.

type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]models.Device
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[string]models.Device)}
}

func (r *MemoryDeviceRepository) Upsert(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.DeviceID]
	if !ok {
		device.CreatedAt = time.Now()
	} else {
		device.CreatedAt = existing.CreatedAt
		if device.IP == "" {
			device.IP = existing.IP
		}
	}
	r.devices[device.DeviceID] = *device
	return nil
}

func (r *MemoryDeviceRepository) GetByID(_ context.Context, deviceID string) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &device, nil
}

func (r *MemoryDeviceRepository) List(_ context.Context) ([]*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*models.Device, 0, len(r.devices))
	for _, device := range r.devices {
		d := device
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return devices, nil
}

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]map[int64]models.DeviceUser
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]map[int64]models.DeviceUser)}
}

func (r *MemoryUserRepository) DeleteForDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, deviceID)
	return nil
}

func (r *MemoryUserRepository) Insert(_ context.Context, user *models.DeviceUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.UpdatedAt = time.Now()
	roster, ok := r.users[user.DeviceID]
	if !ok {
		roster = make(map[int64]models.DeviceUser)
		r.users[user.DeviceID] = roster
	}
	roster[user.UserID] = *user
	return nil
}

func (r *MemoryUserRepository) ListByDevice(_ context.Context, deviceID string) ([]*models.DeviceUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := r.users[deviceID]
	users := make([]*models.DeviceUser, 0, len(roster))
	for _, user := range roster {
		u := user
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

type MemoryAccessLogRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries []models.AccessLogEntry
}

func NewMemoryAccessLogRepository() *MemoryAccessLogRepository {
	return &MemoryAccessLogRepository{}
}

func (r *MemoryAccessLogRepository) Append(_ context.Context, entry *models.AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryAccessLogRepository) Recent(_ context.Context, limit int) ([]*models.AccessLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.AccessLogEntry, 0, len(r.entries))
	for i := range r.entries {
		e := r.entries[i]
		entries = append(entries, &e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type MemorySystemLogRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries []models.SystemLogEntry
}

func NewMemorySystemLogRepository() *MemorySystemLogRepository {
	return &MemorySystemLogRepository{}
}

func (r *MemorySystemLogRepository) Append(_ context.Context, entry *models.SystemLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemorySystemLogRepository) Recent(_ context.Context, limit int) ([]*models.SystemLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.SystemLogEntry, 0, len(r.entries))
	for i := range r.entries {
		e := r.entries[i]
		entries = append(entries, &e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
