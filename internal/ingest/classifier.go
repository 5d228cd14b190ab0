package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fingermesh/accesshub/internal/models"
)

// Classify turns one transport message into exactly one canonical event.
// The topic is expected to look like "<namespace>/<deviceID>/<messageType>".
// It never fails: payloads that cannot be parsed as JSON, and types that
// cannot be resolved, degrade to an unclassified event wrapping the raw text.
func Classify(topic string, payload []byte, now time.Time) models.Event {
	deviceID, hint := splitTopic(topic)

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return models.Event{
			Kind:      models.KindUnclassified,
			DeviceID:  deviceID,
			Timestamp: now,
			Raw:       string(payload),
		}
	}

	// An explicit type inside the payload wins over the topic hint.
	kind := resolveKind(stringField(fields, "type"), hint)

	ev := models.Event{
		Kind:           kind,
		DeviceID:       deviceID,
		Timestamp:      now,
		IP:             stringField(fields, "ip"),
		SignalStrength: intFieldPtr(fields, "signalStrength", "rssi"),
	}

	switch kind {
	case models.KindAccess:
		ev.Access = &models.AccessDetail{
			UserID:   intField(fields, "userId", "id"),
			UserName: nameField(fields),
			CardID:   stringField(fields, "cardId"),
			Granted:  boolField(fields, "granted"),
		}
	case models.KindStatus:
		ev.Roster = rosterField(fields)
	case models.KindEnrollment, models.KindDeviceEvent:
		ev.Message = stringField(fields, "message", "msg")
	case models.KindUnclassified:
		ev.Raw = string(payload)
	}

	return ev
}

func splitTopic(topic string) (deviceID, hint string) {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		deviceID = parts[1]
	}
	if len(parts) >= 3 {
		hint = parts[2]
	}
	return deviceID, hint
}

func resolveKind(explicit, hint string) models.EventKind {
	for _, candidate := range []string{explicit, hint} {
		switch models.EventKind(candidate) {
		case models.KindHeartbeat, models.KindStatus, models.KindAccess,
			models.KindEnrollment, models.KindDeviceEvent:
			return models.EventKind(candidate)
		}
	}
	return models.KindUnclassified
}

// nameField coalesces the user-name aliases firmware variants disagree on.
// "userName" beats "name"; a missing name normalizes to "Unknown", never an
// empty or absent value.
func nameField(fields map[string]interface{}) string {
	if name := stringField(fields, "userName", "name"); name != "" {
		return name
	}
	return "Unknown"
}

func rosterField(fields map[string]interface{}) []models.RosterUser {
	raw, ok := fields["users"].([]interface{})
	if !ok {
		return nil
	}
	roster := make([]models.RosterUser, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		roster = append(roster, models.RosterUser{
			UserID:   intField(m, "userId", "id"),
			UserName: nameField(m),
			Phone:    stringField(m, "phone"),
			CardID:   stringField(m, "cardId"),
		})
	}
	return roster
}

// stringField returns the first alias present with a string value.
func stringField(fields map[string]interface{}, aliases ...string) string {
	for _, key := range aliases {
		if s, ok := fields[key].(string); ok {
			return s
		}
	}
	return ""
}

// intField returns the first alias present with a numeric value, accepting
// both JSON numbers and numeric strings. Absent aliases normalize to 0.
func intField(fields map[string]interface{}, aliases ...string) int64 {
	for _, key := range aliases {
		switch v := fields[key].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func intFieldPtr(fields map[string]interface{}, aliases ...string) *int {
	for _, key := range aliases {
		if v, ok := fields[key].(float64); ok {
			n := int(v)
			return &n
		}
	}
	return nil
}

// boolField is fail-closed: anything other than an explicit true reads as
// false. An ambiguous payload must never grant access.
func boolField(fields map[string]interface{}, key string) bool {
	v, ok := fields[key].(bool)
	return ok && v
}
