package models

import (
	"time"
)

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Device is a registered access-control reader. Upserted on every inbound
// message; the core never deletes devices.
type Device struct {
	DeviceID   string       `json:"device_id"`
	IP         string       `json:"ip,omitempty"`
	Status     DeviceStatus `json:"status"`
	LastSeenAt time.Time    `json:"last_seen_at"`
	CreatedAt  time.Time    `json:"created_at"`
}
