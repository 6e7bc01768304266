// Package events publishes interaction outcomes to an AMQP topic exchange.
package events

import (
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
)

const (
	TypeInteractionEscalated = "interaction.escalated.v1"
	TypeInteractionCompleted = "interaction.completed.v1"
)

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service and version
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. interaction.escalated.v1
	Type string `json:"type"`
}

type TicketData struct {
	ID     string `json:"id"`
	System string `json:"system"`
	URL    string `json:"url,omitempty"`
}

// InteractionData is the payload of both interaction event types.
type InteractionData struct {
	InteractionID string      `json:"interaction_id"`
	Channel       string      `json:"channel"`
	Intent        string      `json:"intent"`
	Device        string      `json:"device,omitempty"`
	Stage         string      `json:"stage"`
	Summary       string      `json:"summary,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Ticket        *TicketData `json:"ticket,omitempty"`
}

// EventType maps a notification kind onto its routing key.
func EventType(kind domain.NotificationKind) string {
	if kind == domain.NotificationCompleted {
		return TypeInteractionCompleted
	}
	return TypeInteractionEscalated
}

// NewEnvelope wraps note. The interaction id is used as correlation id so
// consumers can join events with the contact-center conversation.
func NewEnvelope(note domain.Notification, producer string, now time.Time) Envelope {
	in := note.Interaction
	data := InteractionData{
		InteractionID: in.ID,
		Channel:       string(in.Channel),
		Intent:        in.DetectedIntent,
		Device:        in.DetectedDevice,
		Stage:         string(domain.StageCompleted),
		Summary:       note.Outcome.Summary,
	}
	if data.Intent == "" {
		data.Intent = domain.IntentUnknown
	}
	if note.Kind == domain.NotificationEscalated {
		data.Stage = string(domain.StageEscalated)
	}
	if e := note.Outcome.Escalation; e != nil {
		data.Reason = e.Reason
	}
	if t := note.Outcome.Ticket; t != nil {
		data.Ticket = &TicketData{ID: t.TicketID, System: t.TicketSystem, URL: t.URL}
	}

	cid := in.ID
	meta := Meta{
		CorrelationID: &cid,
		ID:            uuid.NewString(),
		Time:          now.UTC(),
		Type:          EventType(note.Kind),
	}
	if producer != "" {
		meta.Producer = &producer
	}
	return Envelope{Meta: meta, Data: data}
}
