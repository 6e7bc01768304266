package domain

import (
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelVoice:
		return ChannelVoice, nil
	case ChannelChat:
		return ChannelChat, nil
	case ChannelEmail:
		return ChannelEmail, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// ChannelFromMediaType maps a contact-center media type onto a pipeline channel.
func ChannelFromMediaType(mediaType string) Channel {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "voice", "call", "callback":
		return ChannelVoice
	case "email":
		return ChannelEmail
	default:
		return ChannelChat
	}
}

type Stage string

const (
	StageIdle            Stage = "idle"
	StageCapture         Stage = "capture"
	StageIntentDetecting Stage = "intent-detecting"
	StageIntentReady     Stage = "intent-ready"
	StageKnowledgeReady  Stage = "knowledge-ready"
	StageTelemetry       Stage = "telemetry"
	StageRunning         Stage = "running"
	StageCompleted       Stage = "completed"
	StageEscalated       Stage = "escalated"
)

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageEscalated
}

// Escalation is attached to an interaction once the orchestrator routes it
// to a human.
type Escalation struct {
	Required     bool
	Reason       string
	TicketID     string
	TicketSystem string
	TicketURL    string
}

// Interaction is one customer contact attempt. It is owned and mutated by a
// single pipeline; everything else sees copies.
type Interaction struct {
	ID             string
	Channel        Channel
	Text           string
	Stage          Stage
	DetectedIntent string // empty until classified, IntentUnknown when inconclusive
	DetectedDevice string
	Classification *Classification
	Escalation     *Escalation
	Resolution     string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChannelEvent is one increment of customer input.
type ChannelEvent struct {
	InteractionID string    `json:"interaction_id"`
	Channel       Channel   `json:"channel"`
	Text          string    `json:"text"`
	Subject       string    `json:"subject,omitempty"`
	Partial       bool      `json:"partial,omitempty"` // voice transcript still streaming
	Timestamp     time.Time `json:"timestamp"`
}

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Ticket is the durable record of an escalation. At most one exists per
// interaction.
type Ticket struct {
	TicketID      string
	TicketSystem  string
	URL           string
	CreatedAt     time.Time
	InteractionID string
	Reason        string
}

// Outcome is what the orchestrator decided for one interaction.
type Outcome struct {
	SelfHealed bool
	Summary    string
	Escalation *Escalation
	Ticket     *Ticket
}

// OutcomeRecord is the persisted summary of a terminal interaction.
type OutcomeRecord struct {
	InteractionID string
	Channel       Channel
	Text          string
	Intent        string
	Device        string
	Stage         Stage
	Summary       string
	Reason        string
	TicketID      string
	RecordedAt    time.Time
}

type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

// ConversationSummary is one entry of the contact-center "active" listing.
type ConversationSummary struct {
	ID           string        `json:"id"`
	MediaType    string        `json:"mediaType"`
	Participants []Participant `json:"participants"`
	StartTime    time.Time     `json:"startTime"`
	Text         string        `json:"text,omitempty"`
	Simulated    bool          `json:"simulated,omitempty"`
	New          bool          `json:"new,omitempty"`
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

type NotificationKind string

const (
	NotificationEscalated NotificationKind = "escalated"
	NotificationCompleted NotificationKind = "completed"
)

// Notification is fanned out to optional sinks once an outcome is final.
type Notification struct {
	Kind        NotificationKind
	Interaction Interaction
	Outcome     Outcome
}

// Message is the one-line human summary of the outcome.
func (n Notification) Message(systemDisplayName string) string {
	if n.Outcome.Ticket != nil {
		return fmt.Sprintf("Ticket %s created in %s. Reason: %s", n.Outcome.Ticket.TicketID, systemDisplayName, n.Outcome.Escalation.Reason)
	}
	if n.Outcome.Escalation != nil {
		return fmt.Sprintf("Escalated without ticket. Reason: %s", n.Outcome.Escalation.Reason)
	}
	return n.Outcome.Summary
}
