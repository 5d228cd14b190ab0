package presence

import (
	"sort"
	"sync"

	"github.com/fingermesh/accesshub/internal/models"
)

// Tracker holds the in-memory liveness view of every device that has sent
// any traffic. It is owned by whoever constructs it, not a package singleton,
// so tests and multi-tenant deployments can run isolated instances.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]models.Presence
}

func NewTracker() *Tracker {
	return &Tracker{devices: make(map[string]models.Presence)}
}

// Observe records that a device produced traffic. Every message counts for
// liveness, including unclassified ones. IP and signal strength are merged
// sparsely: an absent value never clobbers a previously known one.
func (t *Tracker) Observe(ev models.Event) {
	if ev.DeviceID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.devices[ev.DeviceID]
	entry.DeviceID = ev.DeviceID
	entry.Status = models.StatusOnline
	entry.LastSeenAt = ev.Timestamp
	if ev.IP != "" {
		entry.IP = ev.IP
	}
	if ev.SignalStrength != nil {
		entry.SignalStrength = ev.SignalStrength
	}
	t.devices[ev.DeviceID] = entry
}

// Get returns the presence entry for one device.
func (t *Tracker) Get(deviceID string) (models.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.devices[deviceID]
	return entry, ok
}

// Snapshot returns a copy of all presence entries, ordered by device id so
// dashboard listings are stable.
func (t *Tracker) Snapshot() []models.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]models.Presence, 0, len(t.devices))
	for _, entry := range t.devices {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeviceID < entries[j].DeviceID
	})
	return entries
}
