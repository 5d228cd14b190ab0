package models

import (
	"time"
)

type LogCategory string

const (
	CategoryEnrollment LogCategory = "enrollment"
	CategorySystem     LogCategory = "system"
)

// SystemLogEntry is an immutable, append-only record of a non-access device
// event (enrollment progress, reboots, superseded commands, ...).
type SystemLogEntry struct {
	ID        int64       `json:"id"`
	DeviceID  string      `json:"device_id"`
	Category  LogCategory `json:"category"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}
