package api

import (
	"time"

	"agentdesk/internal/domain"
)

type candidateView struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Score      int    `json:"score"`
	Confidence int    `json:"confidence"`
}

type escalationView struct {
	Reason       string `json:"reason"`
	TicketID     string `json:"ticket_id,omitempty"`
	TicketSystem string `json:"ticket_system,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

type interactionView struct {
	ID             string          `json:"id"`
	Channel        domain.Channel  `json:"channel"`
	Text           string          `json:"text"`
	Stage          domain.Stage    `json:"stage"`
	DetectedIntent string          `json:"detected_intent,omitempty"`
	DetectedDevice string          `json:"detected_device,omitempty"`
	Candidates     []candidateView `json:"candidates,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
	Escalation     *escalationView `json:"escalation,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	// Archived is set when the interaction was rebuilt from its stored outcome.
	Archived bool `json:"archived,omitempty"`
}

func newInteractionView(in domain.Interaction) interactionView {
	v := interactionView{
		ID:             in.ID,
		Channel:        in.Channel,
		Text:           in.Text,
		Stage:          in.Stage,
		DetectedIntent: in.DetectedIntent,
		DetectedDevice: in.DetectedDevice,
		Resolution:     in.Resolution,
		LastError:      in.LastError,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
	}
	if in.Classification != nil {
		for _, s := range in.Classification.Ranked {
			v.Candidates = append(v.Candidates, candidateView{
				ID:         s.Intent.ID,
				Label:      s.Intent.Label,
				Score:      s.Score,
				Confidence: s.Confidence(),
			})
		}
	}
	if e := in.Escalation; e != nil {
		v.Escalation = &escalationView{
			Reason:       e.Reason,
			TicketID:     e.TicketID,
			TicketSystem: e.TicketSystem,
			TicketURL:    e.TicketURL,
		}
	}
	return v
}

type ticketView struct {
	TicketID      string    `json:"ticket_id"`
	TicketSystem  string    `json:"ticket_system"`
	URL           string    `json:"url,omitempty"`
	InteractionID string    `json:"interaction_id"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

func newTicketView(t domain.Ticket) ticketView {
	return ticketView{
		TicketID:      t.TicketID,
		TicketSystem:  t.TicketSystem,
		URL:           t.URL,
		InteractionID: t.InteractionID,
		Reason:        t.Reason,
		CreatedAt:     t.CreatedAt,
	}
}

type outcomeView struct {
	SelfHealed bool            `json:"self_healed"`
	Summary    string          `json:"summary,omitempty"`
	Escalation *escalationView `json:"escalation,omitempty"`
	Ticket     *ticketView     `json:"ticket,omitempty"`
}

func newOutcomeView(o domain.Outcome) outcomeView {
	v := outcomeView{SelfHealed: o.SelfHealed, Summary: o.Summary}
	if e := o.Escalation; e != nil {
		v.Escalation = &escalationView{Reason: e.Reason, TicketID: e.TicketID, TicketSystem: e.TicketSystem, TicketURL: e.TicketURL}
	}
	if o.Ticket != nil {
		t := newTicketView(*o.Ticket)
		v.Ticket = &t
	}
	return v
}
