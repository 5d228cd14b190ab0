package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/repositories"
)

// ValidationError rejects a malformed command submission synchronously, with
// enough detail for the operator to correct the request.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid command: %s %s", e.Field, e.Reason)
}

// Publisher pushes a serialized command toward a device over the transport.
// Transport-level reconnect and resubscribe are the transport's business.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Queue holds at most one pending command per device. The slot state machine
// is Empty -> Pending (submit), Pending -> Pending (overwrite by a newer
// submit), Pending -> Empty (consume by pull or device ack). An overwritten
// command is recorded as a superseded system log event.
type Queue struct {
	namespace  string
	publisher  Publisher
	systemLogs repositories.SystemLogRepository
	logger     zerolog.Logger

	mu    sync.Mutex
	slots map[string]*models.Command
}

func NewQueue(namespace string, publisher Publisher, systemLogs repositories.SystemLogRepository, logger zerolog.Logger) *Queue {
	return &Queue{
		namespace:  namespace,
		publisher:  publisher,
		systemLogs: systemLogs,
		logger:     logger,
		slots:      make(map[string]*models.Command),
	}
}

// Submit validates and stores the command, replacing any undelivered prior
// command for the device, then pushes it on the device's command topic.
// Delivery toward the device is fire-and-forget; a successful return means
// the command is queued, not that the device has it.
func (q *Queue) Submit(ctx context.Context, cmd models.Command) error {
	if err := validate(cmd); err != nil {
		return err
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	q.mu.Lock()
	superseded := q.slots[cmd.DeviceID]
	stored := cmd
	q.slots[cmd.DeviceID] = &stored
	q.mu.Unlock()

	if superseded != nil {
		q.recordSuperseded(ctx, superseded)
	}

	q.push(cmd)
	return nil
}

// Take atomically consumes the pending command for a device. Of two
// concurrent calls after one submit, exactly one gets the command; the other
// sees an empty slot.
func (q *Queue) Take(deviceID string) (*models.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.slots[deviceID]
	if !ok {
		return nil, false
	}
	delete(q.slots, deviceID)
	return cmd, true
}

// Peek reports the pending command without consuming it.
func (q *Queue) Peek(deviceID string) (*models.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.slots[deviceID]
	return cmd, ok
}

func (q *Queue) push(cmd models.Command) {
	if q.publisher == nil {
		return
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		q.logger.Error().Err(err).Str("device_id", cmd.DeviceID).Msg("failed to marshal command")
		return
	}
	topic := fmt.Sprintf("%s/%s/command", q.namespace, cmd.DeviceID)
	if err := q.publisher.Publish(topic, payload); err != nil {
		// The device can still pick the command up by polling.
		q.logger.Warn().Err(err).Str("topic", topic).Msg("command push failed")
	}
}

func (q *Queue) recordSuperseded(ctx context.Context, old *models.Command) {
	entry := &models.SystemLogEntry{
		DeviceID:  old.DeviceID,
		Category:  models.CategorySystem,
		Message:   fmt.Sprintf("command %s superseded before delivery", old.Kind),
		Timestamp: time.Now(),
	}
	if err := q.systemLogs.Append(ctx, entry); err != nil {
		q.logger.Error().Err(err).Str("device_id", old.DeviceID).Msg("failed to record superseded command")
	}
}

func validate(cmd models.Command) error {
	if cmd.DeviceID == "" {
		return &ValidationError{Field: "deviceId", Reason: "is required"}
	}

	switch cmd.Kind {
	case models.CommandEnroll:
		if cmd.TargetUserID == 0 {
			return &ValidationError{Field: "targetUserId", Reason: "is required for enroll"}
		}
		if cmd.Name == "" {
			return &ValidationError{Field: "name", Reason: "is required for enroll"}
		}
	case models.CommandDelete, models.CommandClear, models.CommandGetStatus:
		// Device id alone is enough.
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown command kind %q", cmd.Kind)}
	}
	return nil
}
