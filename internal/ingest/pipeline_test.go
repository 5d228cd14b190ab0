package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/presence"
	"github.com/fingermesh/accesshub/internal/repositories"
	"github.com/fingermesh/accesshub/internal/services"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []hubEvent
}

type hubEvent struct {
	name    string
	payload interface{}
}

func (b *recordingBroadcaster) Publish(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, hubEvent{name: event, payload: payload})
}

func (b *recordingBroadcaster) snapshot() []hubEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hubEvent, len(b.events))
	copy(out, b.events)
	return out
}

type pipelineFixture struct {
	tracker    *presence.Tracker
	accessLogs *repositories.MemoryAccessLogRepository
	systemLogs *repositories.MemorySystemLogRepository
	svc        *services.SyncService
	broadcast  *recordingBroadcaster
	pipeline   *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		tracker:    presence.NewTracker(),
		accessLogs: repositories.NewMemoryAccessLogRepository(),
		systemLogs: repositories.NewMemorySystemLogRepository(),
		broadcast:  &recordingBroadcaster{},
	}
	f.svc = services.NewSyncService(
		repositories.NewMemoryDeviceRepository(),
		repositories.NewMemoryUserRepository(),
		f.accessLogs,
		f.systemLogs,
		zerolog.Nop(),
	)
	f.pipeline = NewPipeline(f.tracker, f.svc, f.broadcast, zerolog.Nop())
	t.Cleanup(f.pipeline.Close)
	return f
}

func TestPipeline_AccessEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)

	f.pipeline.Handle("fingerprint/DEV1/access", []byte(`{"id":7,"granted":true}`))

	// Exactly one access log entry with normalized fields.
	require.Eventually(t, func() bool {
		entries, _ := f.accessLogs.Recent(context.Background(), 10)
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := f.accessLogs.Recent(context.Background(), 10)
	require.NoError(t, err)
	entry := entries[0]
	assert.Equal(t, "DEV1", entry.DeviceID)
	assert.Equal(t, int64(7), entry.UserID)
	assert.Equal(t, "Unknown", entry.UserName)
	assert.True(t, entry.Granted)

	// One access broadcast with the same normalized fields.
	events := f.broadcast.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "access", events[0].name)
	update, ok := events[0].payload.(LiveUpdate)
	require.True(t, ok)
	require.NotNil(t, update.Access)
	assert.Equal(t, int64(7), update.Access.UserID)
	assert.Equal(t, "Unknown", update.Access.UserName)
	assert.True(t, update.Access.Granted)
	require.NotNil(t, update.Result.AccessEntry)
	assert.Equal(t, entry.ID, update.Result.AccessEntry.ID)
}

func TestPipeline_PerDeviceOrderPreserved(t *testing.T) {
	f := newPipelineFixture(t)

	const n = 50
	for i := 0; i < n; i++ {
		f.pipeline.Handle("fingerprint/DEV1/access", []byte(`{"id":1}`))
	}

	require.Eventually(t, func() bool {
		return len(f.broadcast.snapshot()) == n
	}, 2*time.Second, 10*time.Millisecond)

	// Broadcast order must match append order: entry ids strictly ascend.
	var lastID int64
	for _, ev := range f.broadcast.snapshot() {
		update := ev.payload.(LiveUpdate)
		require.NotNil(t, update.Result.AccessEntry)
		assert.Greater(t, update.Result.AccessEntry.ID, lastID)
		lastID = update.Result.AccessEntry.ID
	}
}

func TestPipeline_MalformedMessageNeverStopsConsumption(t *testing.T) {
	f := newPipelineFixture(t)

	f.pipeline.Handle("fingerprint/DEV1/access", []byte("!!not json!!"))
	f.pipeline.Handle("fingerprint/DEV1/access", []byte(`{"id":2,"granted":false}`))

	require.Eventually(t, func() bool {
		entries, _ := f.accessLogs.Recent(context.Background(), 10)
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The garbage message still counted for presence.
	entry, ok := f.tracker.Get("DEV1")
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, entry.Status)

	// Unclassified traffic is not part of the named broadcast stream.
	for _, ev := range f.broadcast.snapshot() {
		assert.NotEqual(t, string(models.KindUnclassified), ev.name)
	}
}

func TestPipeline_TopicWithoutDeviceIsDiscarded(t *testing.T) {
	f := newPipelineFixture(t)

	f.pipeline.Handle("fingerprint", []byte(`{"type":"heartbeat"}`))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.broadcast.snapshot())
	assert.Empty(t, f.tracker.Snapshot())
}
