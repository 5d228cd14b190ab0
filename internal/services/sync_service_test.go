package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/repositories"
)

type fixture struct {
	devices    *repositories.MemoryDeviceRepository
	users      *repositories.MemoryUserRepository
	accessLogs *repositories.MemoryAccessLogRepository
	systemLogs *repositories.MemorySystemLogRepository
	svc        *SyncService
}

func newFixture() *fixture {
	f := &fixture{
		devices:    repositories.NewMemoryDeviceRepository(),
		users:      repositories.NewMemoryUserRepository(),
		accessLogs: repositories.NewMemoryAccessLogRepository(),
		systemLogs: repositories.NewMemorySystemLogRepository(),
	}
	f.svc = NewSyncService(f.devices, f.users, f.accessLogs, f.systemLogs, zerolog.Nop())
	return f
}

func TestApply_HeartbeatUpsertsDevice(t *testing.T) {
	f := newFixture()
	seen := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	f.svc.Apply(context.Background(), models.Event{
		Kind:      models.KindHeartbeat,
		DeviceID:  "DEV1",
		Timestamp: seen,
		IP:        "10.0.0.5",
	})

	device, err := f.devices.GetByID(context.Background(), "DEV1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, device.Status)
	assert.Equal(t, seen, device.LastSeenAt)
	assert.Equal(t, "10.0.0.5", device.IP)
}

func TestApply_AccessAppendsUnconditionally(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Denied attempts are part of the audit trail too.
	for _, granted := range []bool{true, false} {
		f.svc.Apply(ctx, models.Event{
			Kind:      models.KindAccess,
			DeviceID:  "DEV1",
			Timestamp: time.Now(),
			Access:    &models.AccessDetail{UserID: 7, UserName: "Unknown", Granted: granted},
		})
	}

	entries, err := f.svc.RecentAccessLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestApply_StatusReplacesRosterWholesale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.svc.Apply(ctx, models.Event{
		Kind:      models.KindStatus,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
		Roster: []models.RosterUser{
			{UserID: 1, UserName: "Ana"},
			{UserID: 2, UserName: "Ben"},
			{UserID: 3, UserName: "Cara"},
		},
	})

	// A fresh roster replaces the old one entirely, including removals.
	result := f.svc.Apply(ctx, models.Event{
		Kind:      models.KindStatus,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
		Roster: []models.RosterUser{
			{UserID: 2, UserName: "Ben"},
		},
	})

	assert.Equal(t, 1, result.RosterSize)
	roster, err := f.svc.Roster(ctx, "DEV1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, int64(2), roster[0].UserID)
}

func TestApply_RosterOrderedByUserID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.svc.Apply(ctx, models.Event{
		Kind:      models.KindStatus,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
		Roster: []models.RosterUser{
			{UserID: 9, UserName: "Zed"},
			{UserID: 1, UserName: "Ana"},
			{UserID: 4, UserName: "Ben"},
		},
	})

	roster, err := f.svc.Roster(ctx, "DEV1")
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, int64(1), roster[0].UserID)
	assert.Equal(t, int64(4), roster[1].UserID)
	assert.Equal(t, int64(9), roster[2].UserID)
}

func TestApply_EmptySystemMessageIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	result := f.svc.Apply(ctx, models.Event{
		Kind:      models.KindEnrollment,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
	})

	assert.Nil(t, result.SystemEntry)
	entries, err := f.svc.RecentSystemLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_SystemLogCategories(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.svc.Apply(ctx, models.Event{
		Kind: models.KindEnrollment, DeviceID: "DEV1", Timestamp: time.Now(),
		Message: "finger 3 stored",
	})
	f.svc.Apply(ctx, models.Event{
		Kind: models.KindDeviceEvent, DeviceID: "DEV1", Timestamp: time.Now(),
		Message: "rebooted",
	})

	entries, err := f.svc.RecentSystemLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	categories := []models.LogCategory{entries[0].Category, entries[1].Category}
	assert.Contains(t, categories, models.CategoryEnrollment)
	assert.Contains(t, categories, models.CategorySystem)
}

// failingUserRepo wraps the memory repo and fails inserts for chosen users.
type failingUserRepo struct {
	*repositories.MemoryUserRepository
	failUserID int64
}

func (r *failingUserRepo) Insert(ctx context.Context, user *models.DeviceUser) error {
	if user.UserID == r.failUserID {
		return errors.New("disk on fire")
	}
	return r.MemoryUserRepository.Insert(ctx, user)
}

func TestApply_BadRosterRowDoesNotBlockSiblings(t *testing.T) {
	f := newFixture()
	users := &failingUserRepo{MemoryUserRepository: repositories.NewMemoryUserRepository(), failUserID: 2}
	f.svc = NewSyncService(f.devices, users, f.accessLogs, f.systemLogs, zerolog.Nop())
	ctx := context.Background()

	result := f.svc.Apply(ctx, models.Event{
		Kind:      models.KindStatus,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
		Roster: []models.RosterUser{
			{UserID: 1, UserName: "Ana"},
			{UserID: 2, UserName: "Bad"},
			{UserID: 3, UserName: "Cara"},
		},
	})

	assert.Equal(t, 2, result.RosterSize)
	roster, err := f.svc.Roster(ctx, "DEV1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, int64(1), roster[0].UserID)
	assert.Equal(t, int64(3), roster[1].UserID)
}

func TestApply_ConcurrentRosterReplaceIsAtomicPerReader(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rosterA := []models.RosterUser{{UserID: 1, UserName: "Ana"}, {UserID: 2, UserName: "Ben"}}
	rosterB := []models.RosterUser{{UserID: 3, UserName: "Cara"}, {UserID: 4, UserName: "Dan"}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		roster := rosterA
		if i%2 == 1 {
			roster = rosterB
		}
		wg.Add(1)
		go func(r []models.RosterUser) {
			defer wg.Done()
			f.svc.Apply(ctx, models.Event{
				Kind: models.KindStatus, DeviceID: "DEV1", Timestamp: time.Now(), Roster: r,
			})
		}(roster)
	}
	wg.Wait()

	// After all replaces settle the roster is exactly one of the two
	// snapshots, never a blend.
	roster, err := f.svc.Roster(ctx, "DEV1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	ids := []int64{roster[0].UserID, roster[1].UserID}
	assert.True(t,
		(ids[0] == 1 && ids[1] == 2) || (ids[0] == 3 && ids[1] == 4),
		"roster must be a full snapshot, got user ids %v", ids)
}

func TestApply_UnclassifiedStillRefreshesDevice(t *testing.T) {
	f := newFixture()

	f.svc.Apply(context.Background(), models.Event{
		Kind:      models.KindUnclassified,
		DeviceID:  "DEV1",
		Timestamp: time.Now(),
		Raw:       "BOOT OK",
	})

	device, err := f.devices.GetByID(context.Background(), "DEV1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, device.Status)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLogLimit, clampLimit(0))
	assert.Equal(t, DefaultLogLimit, clampLimit(-5))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxLogLimit, clampLimit(500))
}
