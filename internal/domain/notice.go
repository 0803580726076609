package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS                 Channel = "SMS"
	ChannelEmail               Channel = "EMAIL"
	ChannelOrganizationService Channel = "ORGANIZATION_SERVICE"
)

type WindowPolicy string

const (
	WindowContinuous        WindowPolicy = "CONTINUOUS"
	WindowSupportHours      WindowPolicy = "SUPPORT_HOURS"
	WindowDaytimeExclSunday WindowPolicy = "DAYTIME_EXCL_SUNDAY"
	WindowSpecified         WindowPolicy = "SPECIFIED"
)

type State string

const (
	StateNew             State = "NEW"
	StateWaiting         State = "WAITING"
	StateReady           State = "READY"
	StateSentAttempted   State = "SENT_ATTEMPTED"
	StateSucceeded       State = "SUCCEEDED"
	StateFailedPermanent State = "FAILED_PERMANENT"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedPermanent
}

// ExternalNotice is the per-message row the engine drives through its
// lifecycle. Content is fixed at creation; only the lifecycle and retry
// bookkeeping fields change afterwards.
type ExternalNotice struct {
	VarselID          uuid.UUID
	NotificationID    uuid.UUID
	Virksomhetsnummer string
	ProdusentID       string
	Channel           Channel
	Address           string
	RecipientRef      string
	Content           string
	Window            WindowPolicy
	SendTime          *time.Time
	State             State
	RetryCount        int
	RawResponse       json.RawMessage
	ErrorCode         string
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NoticeFromSpec builds the initial row for one embedded notice spec.
func NoticeFromSpec(ev *DomainEvent, spec NoticeSpec) *ExternalNotice {
	return &ExternalNotice{
		VarselID:          spec.VarselID,
		NotificationID:    ev.AggregateID,
		Virksomhetsnummer: ev.Virksomhetsnummer,
		ProdusentID:       ev.ProdusentID,
		Channel:           spec.Channel,
		Address:           spec.Address,
		RecipientRef:      spec.RecipientRef,
		Content:           spec.Content,
		Window:            spec.Window,
		SendTime:          spec.SendTime,
		State:             StateNew,
		CreatedAt:         ev.Timestamp,
		UpdatedAt:         ev.Timestamp,
	}
}

// ContentFingerprint hashes every immutable field. Redelivered creation
// events are accepted only when the fingerprints match; anything else is a
// conflict that must never overwrite the original row.
func (n *ExternalNotice) ContentFingerprint() string {
	sendTime := ""
	if n.SendTime != nil {
		sendTime = n.SendTime.UTC().Format(time.RFC3339)
	}
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s|%s|%s|%s|%s|%s",
		n.VarselID, n.NotificationID, n.Virksomhetsnummer,
		n.Channel, n.Address, n.RecipientRef, n.Content, n.Window, sendTime,
	))
	return fmt.Sprintf("%x", h)
}
