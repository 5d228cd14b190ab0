package models

import (
	"time"
)

// Presence is the in-memory liveness view of one device, derived from any
// inbound traffic, not just heartbeats. Staleness detection is left to the
// consuming dashboard.
type Presence struct {
	DeviceID       string       `json:"device_id"`
	IP             string       `json:"ip,omitempty"`
	SignalStrength *int         `json:"signal_strength,omitempty"`
	Status         DeviceStatus `json:"status"`
	LastSeenAt     time.Time    `json:"last_seen_at"`
}
