package models

import (
	"time"
)

type CommandKind string

const (
	CommandEnroll    CommandKind = "enroll"
	CommandDelete    CommandKind = "delete"
	CommandClear     CommandKind = "clear"
	CommandGetStatus CommandKind = "getstatus"
)

// Command is an operator instruction addressed to one device. At most one
// command is pending per device at a time; a newer submit replaces an
// undelivered older one.
type Command struct {
	DeviceID     string      `json:"device_id"`
	Kind         CommandKind `json:"kind"`
	TargetUserID int64       `json:"target_user_id,omitempty"`
	Name         string      `json:"name,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	CardID       string      `json:"card_id,omitempty"`
	IssuedAt     time.Time   `json:"issued_at"`
}
