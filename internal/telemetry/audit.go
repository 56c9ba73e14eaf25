package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Audit actions.
const (
	ActionRoomCreated        = "room_created"
	ActionRoomEnded          = "room_ended"
	ActionParticipantRemoved = "participant_removed"
	ActionAuditTest          = "audit_test"
)

// AuditEntry is one host action to record.
type AuditEntry struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	RoomID    string
	UserID    *string
}

// AuditEmitter publishes host actions to the audit stream.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	RoomID        string       `json:"room_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Action string `json:"action"`
	Text   string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes entry. Failures are logged; a nil emitter does nothing.
func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}
	if entry.Level == "" {
		entry.Level = "INFO"
	}

	log.Debug().
		Str("action", entry.Action).
		Str("request_id", entry.RequestID).
		Str("room_id", entry.RoomID).
		Msg(entry.Text)

	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     entry.RequestID,
		UserID:        entry.UserID,
		RoomID:        entry.RoomID,
		Payload: AuditPayload{
			Level:  entry.Level,
			Action: entry.Action,
			Text:   entry.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, auditHeaders(entry)); err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("audit publish failed")
	}
}

func auditHeaders(entry AuditEntry) map[string]string {
	headers := map[string]string{"x-audit-action": entry.Action}
	if entry.RequestID != "" {
		headers["x-request-id"] = entry.RequestID
	}
	return headers
}
