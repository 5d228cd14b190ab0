package models

import (
	"time"
)

// DeviceUser is one row of a device's enrolled-identity snapshot, identified
// by the (DeviceID, UserID) pair. The rows for a device always reflect the
// most recently received full roster; updates replace, never merge.
type DeviceUser struct {
	DeviceID  string    `json:"device_id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CardID    string    `json:"card_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
