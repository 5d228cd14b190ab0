package models

import (
	"time"
)

// AccessLogEntry is an immutable, append-only record of one access attempt.
// Denied attempts are logged too; the audit trail is the point.
type AccessLogEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	CardID    string    `json:"card_id,omitempty"`
	Granted   bool      `json:"granted"`
	Timestamp time.Time `json:"timestamp"`
}
