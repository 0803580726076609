package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	KindNotificationCreated     EventKind = "notification_created"
	KindHardDeleted             EventKind = "hard_deleted"
	KindExternalNoticeSucceeded EventKind = "external_notice_succeeded"
	KindExternalNoticeFailed    EventKind = "external_notice_failed"
)

// Payload is the closed set of event payloads. Adding a variant requires
// updating payloadByKind and every switch over Kind(); decode of an unknown
// kind is an error, never a silent skip.
type Payload interface {
	Kind() EventKind
}

// DomainEvent is the envelope every event on the log is wrapped in. The
// timestamp is assigned by the broker at publish time and is the one used
// for deadline arithmetic; events may be redelivered and must be applied
// idempotently.
type DomainEvent struct {
	EventID           uuid.UUID
	AggregateID       uuid.UUID
	Virksomhetsnummer string
	ProdusentID       string
	KildeApp          string
	Timestamp         time.Time
	Payload           Payload
}

// NoticeSpec is one requested external message embedded in a creation event.
type NoticeSpec struct {
	VarselID     uuid.UUID    `json:"varsel_id"`
	Channel      Channel      `json:"channel"`
	Address      string       `json:"address"`
	RecipientRef string       `json:"recipient_ref"`
	Content      string       `json:"content"`
	Window       WindowPolicy `json:"window"`
	SendTime     *time.Time   `json:"send_time,omitempty"`
}

func (s *NoticeSpec) Validate() error {
	if s.VarselID == uuid.Nil {
		return fmt.Errorf("notice spec: missing varsel id")
	}
	if s.Window == WindowSpecified && s.SendTime == nil {
		return fmt.Errorf("notice spec %s: SPECIFIED window requires a send time", s.VarselID)
	}
	if s.Window != WindowSpecified && s.SendTime != nil {
		return fmt.Errorf("notice spec %s: send time only allowed with SPECIFIED window", s.VarselID)
	}
	return nil
}

type NotificationCreated struct {
	Recipients RecipientList `json:"recipients"`
	Notices    []NoticeSpec  `json:"notices"`
}

func (NotificationCreated) Kind() EventKind { return KindNotificationCreated }

// HardDeleted stops tracking of the aggregate. Queued notices for the
// aggregate are dropped without dispatch; later outcome events for them
// are no-ops.
type HardDeleted struct{}

func (HardDeleted) Kind() EventKind { return KindHardDeleted }

type ExternalNoticeSucceeded struct {
	VarselID    uuid.UUID       `json:"varsel_id"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

func (ExternalNoticeSucceeded) Kind() EventKind { return KindExternalNoticeSucceeded }

type ExternalNoticeFailed struct {
	VarselID     uuid.UUID       `json:"varsel_id"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
}

func (ExternalNoticeFailed) Kind() EventKind { return KindExternalNoticeFailed }

type eventEnvelope struct {
	EventID           uuid.UUID       `json:"event_id"`
	AggregateID       uuid.UUID       `json:"aggregate_id"`
	Virksomhetsnummer string          `json:"virksomhetsnummer"`
	ProdusentID       string          `json:"produsent_id"`
	KildeApp          string          `json:"kilde_app"`
	Timestamp         time.Time       `json:"timestamp"`
	Kind              EventKind       `json:"kind"`
	Payload           json.RawMessage `json:"payload"`
}

func (e DomainEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s: nil payload", e.EventID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return json.Marshal(eventEnvelope{
		EventID:           e.EventID,
		AggregateID:       e.AggregateID,
		Virksomhetsnummer: e.Virksomhetsnummer,
		ProdusentID:       e.ProdusentID,
		KildeApp:          e.KildeApp,
		Timestamp:         e.Timestamp,
		Kind:              e.Payload.Kind(),
		Payload:           payload,
	})
}

func (e *DomainEvent) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	payload, err := payloadByKind(env.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}

	e.EventID = env.EventID
	e.AggregateID = env.AggregateID
	e.Virksomhetsnummer = env.Virksomhetsnummer
	e.ProdusentID = env.ProdusentID
	e.KildeApp = env.KildeApp
	e.Timestamp = env.Timestamp
	e.Payload = depointer(payload)
	return nil
}

func payloadByKind(kind EventKind) (Payload, error) {
	switch kind {
	case KindNotificationCreated:
		return &NotificationCreated{}, nil
	case KindHardDeleted:
		return &HardDeleted{}, nil
	case KindExternalNoticeSucceeded:
		return &ExternalNoticeSucceeded{}, nil
	case KindExternalNoticeFailed:
		return &ExternalNoticeFailed{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func depointer(p Payload) Payload {
	switch v := p.(type) {
	case *NotificationCreated:
		return *v
	case *HardDeleted:
		return *v
	case *ExternalNoticeSucceeded:
		return *v
	case *ExternalNoticeFailed:
		return *v
	default:
		return p
	}
}
