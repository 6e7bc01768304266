// Package ticketing creates escalation tickets in external ticket systems.
package ticketing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentdesk/internal/config"
	"agentdesk/internal/credentials"
	"agentdesk/internal/domain"
	"agentdesk/internal/gateway"
)

// Request is the ticket payload assembled by the orchestrator.
type Request struct {
	InteractionID string
	Channel       domain.Channel
	Text          string
	Intent        string
	Device        string
	Summary       string
	Reason        string
	Category      string
}

// Backend creates exactly one ticket per call. Callers own idempotency.
type Backend interface {
	Name() string
	DisplayName() string
	CreateTicket(ctx context.Context, req Request) (domain.Ticket, error)
}

var displayNames = map[string]string{
	"servicenow": "ServiceNow",
	"jira":       "Jira",
	"zendesk":    "Zendesk",
	"salesforce": "Salesforce",
	"demo":       "Demo",
}

// DisplayName returns the human-facing name of a ticket system.
func DisplayName(system string) string {
	if name, ok := displayNames[system]; ok {
		return name
	}
	return "Ticketing System"
}

// New builds the backend selected by name. Non-demo backends authenticate
// with a static API token, or with an OAuth client-credentials grant when
// token_endpoint is configured.
func New(name string, cfg config.TicketingBackend, httpClient *http.Client, logger *zap.Logger) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "demo" {
		return NewDemo(), nil
	}

	var tokens gateway.TokenSource = credentials.Static(cfg.APIToken)
	if cfg.TokenEndpoint != "" && cfg.ClientID != "" {
		tokens = credentials.NewCache(name, credentials.ClientCredentials{
			Endpoint:     cfg.TokenEndpoint,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			HTTPClient:   httpClient,
		}, logger)
	}
	gw := gateway.New(name, cfg.BaseURL, tokens, httpClient, logger)

	switch name {
	case "servicenow":
		return &ServiceNow{gw: gw, now: time.Now}, nil
	case "jira":
		project := cfg.Project
		if project == "" {
			project = "SUP"
		}
		return &Jira{gw: gw, project: project, now: time.Now}, nil
	case "zendesk":
		return &Zendesk{gw: gw, now: time.Now}, nil
	case "salesforce":
		return &Salesforce{gw: gw, now: time.Now}, nil
	}
	return nil, fmt.Errorf("unknown ticketing system %q", name)
}

func failed(system string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTicketCreationFailed, system, err)
}

func subject(req Request) string {
	text := strings.Join(strings.Fields(req.Text), " ")
	if runes := []rune(text); len(runes) > 80 {
		text = string(runes[:77]) + "..."
	}
	return fmt.Sprintf("[%s] %s", req.Intent, text)
}

func description(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interaction: %s\n", req.InteractionID)
	fmt.Fprintf(&b, "Channel: %s\n", req.Channel)
	fmt.Fprintf(&b, "Detected intent: %s\n", req.Intent)
	fmt.Fprintf(&b, "Detected device: %s\n", req.Device)
	fmt.Fprintf(&b, "Escalation reason: %s\n", req.Reason)
	if req.Summary != "" {
		fmt.Fprintf(&b, "\nDiagnosis:\n%s\n", req.Summary)
	}
	fmt.Fprintf(&b, "\nCustomer text:\n%s\n", req.Text)
	return b.String()
}
