// Package genesys wraps the contact-center conversation API on top of the
// authenticated gateway client.
package genesys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/domain"
	"agentdesk/internal/gateway"
)

type Client struct {
	gw      *gateway.Client
	orgName string
	region  string
	now     func() time.Time
}

func New(gw *gateway.Client, orgName, region string) *Client {
	return &Client{gw: gw, orgName: orgName, region: region, now: time.Now}
}

// ConversationPage is one page of the conversation listing.
type ConversationPage struct {
	Entities   []domain.ConversationSummary `json:"entities"`
	PageSize   int                          `json:"pageSize"`
	PageNumber int                          `json:"pageNumber"`
	Total      int                          `json:"total"`
}

type Message struct {
	ID        string    `json:"id"`
	TextBody  string    `json:"textBody"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionStatus struct {
	Status    string    `json:"status"`
	OrgName   string    `json:"orgName"`
	Region    string    `json:"region"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// ListConversations fetches one page of conversations in the given state.
func (c *Client) ListConversations(ctx context.Context, state string, pageSize, pageNumber int) (ConversationPage, error) {
	if state == "" {
		state = "active"
	}
	params := url.Values{}
	params.Set("state", state)
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("pageNumber", strconv.Itoa(pageNumber))

	var page ConversationPage
	if err := c.gw.DoJSON(ctx, http.MethodGet, "/api/v2/conversations?"+params.Encode(), nil, &page); err != nil {
		return ConversationPage{}, fmt.Errorf("listing conversations: %w", err)
	}
	return page, nil
}

func (c *Client) Conversation(ctx context.Context, id string) (domain.ConversationSummary, error) {
	var conv domain.ConversationSummary
	if err := c.gw.DoJSON(ctx, http.MethodGet, "/api/v2/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return domain.ConversationSummary{}, fmt.Errorf("fetching conversation %s: %w", id, err)
	}
	return conv, nil
}

// Messages returns the transcript of a conversation. The API answers either
// with a bare array or with an entities envelope.
func (c *Client) Messages(ctx context.Context, id string) ([]Message, error) {
	resp, err := c.gw.Request(ctx, http.MethodGet, "/api/v2/conversations/"+url.PathEscape(id)+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching messages for %s: %w", id, err)
	}
	return parseMessages(resp.Body)
}

func (c *Client) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	var participants []domain.Participant
	if err := c.gw.DoJSON(ctx, http.MethodGet, "/api/v2/conversations/"+url.PathEscape(id)+"/participants", nil, &participants); err != nil {
		return nil, fmt.Errorf("fetching participants for %s: %w", id, err)
	}
	return participants, nil
}

// SendMessage posts a text reply into a conversation and returns the message id.
func (c *Client) SendMessage(ctx context.Context, id, text string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"textBody": text}
	if err := c.gw.DoJSON(ctx, http.MethodPost, "/api/v2/conversations/"+url.PathEscape(id)+"/messages", body, &out); err != nil {
		return "", fmt.Errorf("sending message to %s: %w", id, err)
	}
	return out.ID, nil
}

// AttachResolution records the orchestrator's outcome on the conversation.
func (c *Client) AttachResolution(ctx context.Context, id, note string) error {
	body := map[string]any{"notes": note}
	if err := c.gw.DoJSON(ctx, http.MethodPatch, "/api/v2/conversations/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("updating conversation %s: %w", id, err)
	}
	return nil
}

// ConnectionStatus verifies the credentials by reading the permission list.
// Failures are reported in the result rather than returned.
func (c *Client) ConnectionStatus(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{OrgName: c.orgName, Region: c.region, Timestamp: c.now()}
	if _, err := c.gw.Request(ctx, http.MethodGet, "/api/v2/authorization/permissions", nil); err != nil {
		status.Status = "disconnected"
		status.Error = err.Error()
		return status
	}
	status.Status = "connected"
	return status
}

func parseMessages(data []byte) ([]Message, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parsing messages: %w", err)
		}
		return msgs, nil
	}
	var envelope struct {
		Entities []Message `json:"entities"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing messages: %w", err)
	}
	return envelope.Entities, nil
}

// Transcript joins the customer-visible message bodies in order.
func Transcript(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if text := strings.TrimSpace(m.TextBody); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
