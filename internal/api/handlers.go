// Package api is the HTTP intake: channel events, contact-center webhooks,
// interaction lookup, ticket listing and manual ticket retry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentdesk/internal/domain"
	"agentdesk/internal/escalation"
	"agentdesk/internal/integrations/genesys"
	"agentdesk/internal/poller"
)

const maxBodyBytes = 1 << 20

type Interactions interface {
	Dispatch(ev domain.ChannelEvent) (string, error)
	Lookup(id string) (domain.Interaction, bool)
	RetryTicket(ctx context.Context, id string) (domain.Outcome, error)
	Active() []domain.Interaction
}

type Records interface {
	ListTickets(ctx context.Context, limit int) ([]domain.Ticket, error)
	Outcome(ctx context.Context, interactionID string) (domain.OutcomeRecord, error)
}

// Retrier retries interactions that are no longer held in memory.
type Retrier interface {
	RetryRecorded(ctx context.Context, interactionID string) (domain.Outcome, error)
}

type Conversations interface {
	Latest() poller.Snapshot
}

// ContactCenter is the Genesys client; nil when it is not configured.
type ContactCenter interface {
	Conversation(ctx context.Context, id string) (domain.ConversationSummary, error)
	Messages(ctx context.Context, id string) ([]genesys.Message, error)
	ConnectionStatus(ctx context.Context) genesys.ConnectionStatus
}

type Handler struct {
	Interactions  Interactions
	Records       Records
	Retrier       Retrier
	Snapshots     Conversations
	Simulated     *poller.SimulatedStore
	ContactCenter ContactCenter
	Logger        *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

type eventRequest struct {
	InteractionID string    `json:"interaction_id"`
	Channel       string    `json:"channel"`
	Text          string    `json:"text"`
	Subject       string    `json:"subject"`
	Partial       bool      `json:"partial"`
	Timestamp     time.Time `json:"timestamp"`
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev := domain.ChannelEvent{
		InteractionID: strings.TrimSpace(req.InteractionID),
		Text:          req.Text,
		Subject:       req.Subject,
		Partial:       req.Partial,
		Timestamp:     req.Timestamp,
	}
	if req.Channel != "" {
		ch, err := domain.ParseChannel(req.Channel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ev.Channel = ch
	}
	if strings.TrimSpace(ev.Text) == "" && strings.TrimSpace(ev.Subject) == "" && !h.clearsTranscript(ev) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	h.dispatch(w, ev)
}

func (h *Handler) dispatch(w http.ResponseWriter, ev domain.ChannelEvent) {
	id, err := h.Interactions.Dispatch(ev)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	in, _ := h.Interactions.Lookup(id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"interaction_id": id,
		"stage":          in.Stage,
	})
}

// clearsTranscript reports whether an empty event is a voice transcript being
// cleared on an existing interaction. Voice input replaces the buffer, so the
// empty text sends the interaction back to idle.
func (h *Handler) clearsTranscript(ev domain.ChannelEvent) bool {
	if ev.InteractionID == "" {
		return false
	}
	in, ok := h.Interactions.Lookup(ev.InteractionID)
	if !ok || in.Channel != domain.ChannelVoice {
		return false
	}
	return ev.Channel == "" || ev.Channel == domain.ChannelVoice
}

func (h *Handler) ActiveInteractions(w http.ResponseWriter, r *http.Request) {
	active := h.Interactions.Active()
	views := make([]interactionView, 0, len(active))
	for _, in := range active {
		views = append(views, newInteractionView(in))
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": views})
}

func (h *Handler) Interaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if in, ok := h.Interactions.Lookup(id); ok {
		writeJSON(w, http.StatusOK, newInteractionView(in))
		return
	}
	if h.Records == nil {
		writeError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}
	rec, err := h.Records.Outcome(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	v := newInteractionView(escalation.InteractionFromRecord(rec))
	v.Archived = true
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) RetryTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome, err := h.Interactions.RetryTicket(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) && h.Retrier != nil {
		outcome, err = h.Retrier.RetryRecorded(r.Context(), id)
	}
	if err != nil {
		h.logger().Warn("ticket retry failed", zap.String("interaction_id", id), zap.Error(err))
		body := map[string]any{"error": err.Error()}
		if outcome.Escalation != nil {
			body["outcome"] = newOutcomeView(outcome)
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeView(outcome))
}

func (h *Handler) Tickets(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	tickets, err := h.Records.ListTickets(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, newTicketView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": views})
}

func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		writeJSON(w, http.StatusOK, poller.Snapshot{Conversations: []domain.ConversationSummary{}})
		return
	}
	snap := h.Snapshots.Latest()
	if snap.Conversations == nil {
		snap.Conversations = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) SimulateConversation(w http.ResponseWriter, r *http.Request) {
	if h.Simulated == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "simulated conversations are disabled"})
		return
	}
	var conv domain.ConversationSummary
	if !decodeJSON(w, r, &conv) {
		return
	}
	writeJSON(w, http.StatusCreated, h.Simulated.Add(conv))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.ContactCenter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		body["genesys"] = h.ContactCenter.ConnectionStatus(ctx)
	}
	writeJSON(w, http.StatusOK, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInteractionClosed), errors.Is(err, domain.ErrNotEscalated):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTicketCreationFailed), errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrForbidden):
		return http.StatusBadGateway
	}
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
