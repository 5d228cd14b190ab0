package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/repositories"
)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 100
)

// SyncResult reports what one event actually persisted. The broadcast hub
// relays it to dashboards alongside the event itself.
type SyncResult struct {
	AccessEntry *models.AccessLogEntry `json:"access_entry,omitempty"`
	SystemEntry *models.SystemLogEntry `json:"system_entry,omitempty"`
	RosterSize  int                    `json:"roster_size,omitempty"`
}

// SyncService reconciles canonical events against the durable tables. Writes
// are best-effort: a failed row is reported through the logger and dropped,
// never retried, and never blocks sibling writes or the next message.
type SyncService struct {
	devices    repositories.DeviceRepository
	users      repositories.UserRepository
	accessLogs repositories.AccessLogRepository
	systemLogs repositories.SystemLogRepository
	logger     zerolog.Logger

	// Roster replacement is the one write that must be serialized per
	// device, so a reader sees either the old roster or the new one, never
	// an interleaving of two replaces.
	mu          sync.Mutex
	rosterLocks map[string]*sync.Mutex
}

func NewSyncService(
	devices repositories.DeviceRepository,
	users repositories.UserRepository,
	accessLogs repositories.AccessLogRepository,
	systemLogs repositories.SystemLogRepository,
	logger zerolog.Logger,
) *SyncService {
	return &SyncService{
		devices:     devices,
		users:       users,
		accessLogs:  accessLogs,
		systemLogs:  systemLogs,
		logger:      logger,
		rosterLocks: make(map[string]*sync.Mutex),
	}
}

// Apply translates one canonical event into durable writes and reports what
// stuck. It never returns an error: the ingestion pipeline must keep
// consuming no matter what a single message does to the store.
func (s *SyncService) Apply(ctx context.Context, ev models.Event) SyncResult {
	var result SyncResult

	if ev.DeviceID == "" {
		return result
	}

	// Every inbound message refreshes the device row, whatever its kind.
	device := &models.Device{
		DeviceID:   ev.DeviceID,
		IP:         ev.IP,
		Status:     models.StatusOnline,
		LastSeenAt: ev.Timestamp,
	}
	if err := s.devices.Upsert(ctx, device); err != nil {
		s.reportDropped(ev.DeviceID, "device upsert", err)
	}

	switch ev.Kind {
	case models.KindStatus:
		result.RosterSize = s.replaceRoster(ctx, ev)
	case models.KindAccess:
		result.AccessEntry = s.appendAccess(ctx, ev)
	case models.KindEnrollment:
		result.SystemEntry = s.appendSystem(ctx, ev, models.CategoryEnrollment)
	case models.KindDeviceEvent:
		result.SystemEntry = s.appendSystem(ctx, ev, models.CategorySystem)
	}

	return result
}

// replaceRoster swaps a device's user snapshot for the roster the event
// carries. Full replace, not merge. A row that fails to insert is reported
// and skipped; the rest of the roster still lands.
func (s *SyncService) replaceRoster(ctx context.Context, ev models.Event) int {
	lock := s.rosterLock(ev.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.users.DeleteForDevice(ctx, ev.DeviceID); err != nil {
		s.reportDropped(ev.DeviceID, "roster delete", err)
		return 0
	}

	inserted := 0
	for _, entry := range ev.Roster {
		user := &models.DeviceUser{
			DeviceID: ev.DeviceID,
			UserID:   entry.UserID,
			Name:     entry.UserName,
			Phone:    entry.Phone,
			CardID:   entry.CardID,
		}
		if err := s.users.Insert(ctx, user); err != nil {
			s.reportDropped(ev.DeviceID, "roster insert", err)
			continue
		}
		inserted++
	}
	return inserted
}

func (s *SyncService) appendAccess(ctx context.Context, ev models.Event) *models.AccessLogEntry {
	if ev.Access == nil {
		return nil
	}
	entry := &models.AccessLogEntry{
		DeviceID:  ev.DeviceID,
		UserID:    ev.Access.UserID,
		UserName:  ev.Access.UserName,
		CardID:    ev.Access.CardID,
		Granted:   ev.Access.Granted,
		Timestamp: ev.Timestamp,
	}
	if err := s.accessLogs.Append(ctx, entry); err != nil {
		s.reportDropped(ev.DeviceID, "access log append", err)
		return nil
	}
	return entry
}

func (s *SyncService) appendSystem(ctx context.Context, ev models.Event, category models.LogCategory) *models.SystemLogEntry {
	// Nothing worth logging.
	if ev.Message == "" {
		return nil
	}
	entry := &models.SystemLogEntry{
		DeviceID:  ev.DeviceID,
		Category:  category,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	}
	if err := s.systemLogs.Append(ctx, entry); err != nil {
		s.reportDropped(ev.DeviceID, "system log append", err)
		return nil
	}
	return entry
}

func (s *SyncService) Devices(ctx context.Context) ([]*models.Device, error) {
	return s.devices.List(ctx)
}

// Roster reads a device's current snapshot, ordered by user id.
func (s *SyncService) Roster(ctx context.Context, deviceID string) ([]*models.DeviceUser, error) {
	return s.users.ListByDevice(ctx, deviceID)
}

func (s *SyncService) RecentAccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	return s.accessLogs.Recent(ctx, clampLimit(limit))
}

func (s *SyncService) RecentSystemLogs(ctx context.Context, limit int) ([]*models.SystemLogEntry, error) {
	return s.systemLogs.Recent(ctx, clampLimit(limit))
}

func (s *SyncService) rosterLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.rosterLocks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.rosterLocks[deviceID] = lock
	}
	return lock
}

// reportDropped is the single observability sink for swallowed persistence
// failures, so best-effort writes cannot turn into silent data loss.
func (s *SyncService) reportDropped(deviceID, op string, err error) {
	s.logger.Error().
		Err(err).
		Str("device_id", deviceID).
		Str("op", op).
		Msg("persistence write dropped")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}
