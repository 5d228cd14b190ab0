package models

import (
	"time"
)

// EventKind tags the variants of a canonical device event.
type EventKind string

const (
	KindHeartbeat    EventKind = "heartbeat"
	KindStatus       EventKind = "status"
	KindAccess       EventKind = "access"
	KindEnrollment   EventKind = "enrollment"
	KindDeviceEvent  EventKind = "device-event"
	KindUnclassified EventKind = "unclassified"
)

// Event is the canonical, normalized representation of a device-originated
// message, independent of wire format. Exactly one variant section is
// populated, selected by Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// Link-level fields, present on any variant when the payload carried them.
	IP             string `json:"ip,omitempty"`
	SignalStrength *int   `json:"signal_strength,omitempty"`

	// Access variant.
	Access *AccessDetail `json:"access,omitempty"`

	// Status variant: the device's full enrolled-user roster.
	Roster []RosterUser `json:"roster,omitempty"`

	// Enrollment and device-event variants.
	Message string `json:"message,omitempty"`

	// Unclassified variant: the raw payload text.
	Raw string `json:"raw,omitempty"`
}

// AccessDetail carries the normalized fields of an access attempt.
type AccessDetail struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	CardID   string `json:"card_id,omitempty"`
	Granted  bool   `json:"granted"`
}

// RosterUser is one entry of a device's reported roster.
type RosterUser struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	Phone    string `json:"phone,omitempty"`
	CardID   string `json:"card_id,omitempty"`
}
