package domain

import (
	"encoding/json"
	"fmt"
)

// Recipient is the closed set of addressee variants carried inside creation
// events. Recipients are not persisted by the dispatch core; the contact
// data used for sending lives on the NoticeSpec itself.
type Recipient interface {
	recipientType() string
}

type NationalIDRecipient struct {
	NationalID        string `json:"national_id"`
	Virksomhetsnummer string `json:"virksomhetsnummer"`
}

func (NationalIDRecipient) recipientType() string { return "national_id" }

type OrganizationServiceRecipient struct {
	ServiceCode       string `json:"service_code"`
	ServiceEdition    string `json:"service_edition"`
	Virksomhetsnummer string `json:"virksomhetsnummer"`
}

func (OrganizationServiceRecipient) recipientType() string { return "organization_service" }

type OrganizationRoleRecipient struct {
	RoleCode          string `json:"role_code"`
	Virksomhetsnummer string `json:"virksomhetsnummer"`
}

func (OrganizationRoleRecipient) recipientType() string { return "organization_role" }

type recipientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func MarshalRecipient(r Recipient) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal recipient: %w", err)
	}
	return json.Marshal(recipientEnvelope{Type: r.recipientType(), Payload: payload})
}

func UnmarshalRecipient(data []byte) (Recipient, error) {
	var env recipientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal recipient envelope: %w", err)
	}

	switch env.Type {
	case "national_id":
		var r NationalIDRecipient
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("unmarshal national_id recipient: %w", err)
		}
		return r, nil
	case "organization_service":
		var r OrganizationServiceRecipient
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("unmarshal organization_service recipient: %w", err)
		}
		return r, nil
	case "organization_role":
		var r OrganizationRoleRecipient
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("unmarshal organization_role recipient: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown recipient type %q", env.Type)
	}
}

// RecipientList round-trips a heterogeneous recipient slice through the
// tagged envelope form.
type RecipientList []Recipient

func (l RecipientList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, r := range l {
		data, err := MarshalRecipient(r)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return json.Marshal(out)
}

func (l *RecipientList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]Recipient, 0, len(raw))
	for _, item := range raw {
		r, err := UnmarshalRecipient(item)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*l = out
	return nil
}
