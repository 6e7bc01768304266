package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"agentdesk/internal/domain"
	"agentdesk/internal/integrations/genesys"
)

const (
	eventConversationCreated = "conversation.created"
	eventConversationMessage = "conversation.message"
	eventConversationEnded   = "conversation.ended"
)

// webhookTopics maps notification topics, including the platform's
// callback aliases, onto the three handled events.
var webhookTopics = map[string]string{
	eventConversationCreated:                         eventConversationCreated,
	"v2.conversations.callbacks.conversations":       eventConversationCreated,
	eventConversationMessage:                         eventConversationMessage,
	"v2.conversations.callbacks.messages":            eventConversationMessage,
	eventConversationEnded:                           eventConversationEnded,
	"v2.conversations.callbacks.conversations.ended": eventConversationEnded,
}

type webhookMessage struct {
	ID        string `json:"id"`
	TextBody  string `json:"textBody"`
	Direction string `json:"direction"`
}

type webhookRef struct {
	ID string `json:"id"`
}

type webhookBody struct {
	Topic          string          `json:"topic"`
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Conversation   *webhookRef     `json:"conversation"`
	MessageID      string          `json:"messageId"`
	MediaType      string          `json:"mediaType"`
	TextBody       string          `json:"textBody"`
	Direction      string          `json:"direction"`
	Message        *webhookMessage `json:"message"`
}

type webhookEnvelope struct {
	Topic     string       `json:"topic"`
	EventBody *webhookBody `json:"eventBody"`
}

type webhookResult struct {
	Processed      bool                        `json:"processed"`
	Event          string                      `json:"event,omitempty"`
	Topic          string                      `json:"topic,omitempty"`
	ConversationID string                      `json:"conversationId,omitempty"`
	MessageID      string                      `json:"messageId,omitempty"`
	InteractionID  string                      `json:"interactionId,omitempty"`
	Stage          domain.Stage                `json:"stage,omitempty"`
	Conversation   *domain.ConversationSummary `json:"conversation,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

// GenesysWebhook accepts both the wrapped {topic, eventBody} shape and a flat
// event body carrying its own topic. Unknown topics are acknowledged with
// processed=false.
func (h *Handler) GenesysWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResult{Error: "invalid JSON body: " + err.Error()})
		return
	}
	body := env.EventBody
	if body == nil {
		body = &webhookBody{}
		if err := json.Unmarshal(raw, body); err != nil {
			writeJSON(w, http.StatusBadRequest, webhookResult{Error: "invalid JSON body: " + err.Error()})
			return
		}
	}
	topic := env.Topic
	if topic == "" {
		topic = body.Topic
	}

	event, ok := webhookTopics[topic]
	if !ok {
		h.logger().Info("unknown webhook topic", zap.String("topic", topic))
		writeJSON(w, http.StatusOK, webhookResult{Processed: false, Topic: topic})
		return
	}

	var status int
	var result webhookResult
	switch event {
	case eventConversationCreated:
		status, result = h.conversationCreated(r, body)
	case eventConversationMessage:
		status, result = h.messageReceived(r, body)
	case eventConversationEnded:
		status, result = h.conversationEnded(body)
	}
	result.Event = event
	result.Topic = topic
	if result.Error != "" {
		h.logger().Warn("webhook not processed",
			zap.String("topic", topic),
			zap.String("conversation_id", result.ConversationID),
			zap.String("error", result.Error),
		)
	}
	writeJSON(w, status, result)
}

func (h *Handler) conversationCreated(r *http.Request, body *webhookBody) (int, webhookResult) {
	id := firstNonEmpty(body.ConversationID, body.ID)
	if id == "" {
		return http.StatusBadRequest, webhookResult{Error: "conversation id not found in event"}
	}
	res := webhookResult{ConversationID: id}
	if h.ContactCenter != nil {
		conv, err := h.ContactCenter.Conversation(r.Context(), id)
		if err != nil {
			res.Error = err.Error()
			return statusFor(err), res
		}
		res.Conversation = &conv
	}
	res.Processed = true
	return http.StatusOK, res
}

func (h *Handler) messageReceived(r *http.Request, body *webhookBody) (int, webhookResult) {
	id := body.ConversationID
	if id == "" && body.Conversation != nil {
		id = body.Conversation.ID
	}
	if id == "" {
		return http.StatusBadRequest, webhookResult{Error: "conversation id not found in event"}
	}
	res := webhookResult{ConversationID: id, MessageID: firstNonEmpty(body.MessageID, body.ID)}

	msg := webhookMessage{ID: res.MessageID, TextBody: body.TextBody, Direction: body.Direction}
	if body.Message != nil {
		msg = *body.Message
		if msg.ID == "" {
			msg.ID = res.MessageID
		}
	}
	if strings.TrimSpace(msg.TextBody) == "" && h.ContactCenter != nil {
		msgs, err := h.ContactCenter.Messages(r.Context(), id)
		if err != nil {
			res.Error = err.Error()
			return statusFor(err), res
		}
		if found, ok := pickMessage(msgs, msg.ID); ok {
			msg = webhookMessage{ID: found.ID, TextBody: found.TextBody, Direction: found.Direction}
		}
	}
	if strings.EqualFold(msg.Direction, "outbound") {
		// Agent-side messages are not customer input.
		res.Processed = true
		return http.StatusOK, res
	}
	ev := domain.ChannelEvent{InteractionID: id, Text: msg.TextBody}
	if body.MediaType != "" {
		ev.Channel = domain.ChannelFromMediaType(body.MediaType)
	}
	if strings.TrimSpace(msg.TextBody) == "" && !h.clearsTranscript(ev) {
		res.Error = "message has no text"
		return http.StatusOK, res
	}
	interactionID, err := h.Interactions.Dispatch(ev)
	if errors.Is(err, domain.ErrInteractionClosed) {
		res.Error = err.Error()
		return http.StatusOK, res
	}
	if err != nil {
		res.Error = err.Error()
		return statusFor(err), res
	}
	in, _ := h.Interactions.Lookup(interactionID)
	res.Processed = true
	res.InteractionID = interactionID
	res.Stage = in.Stage
	return http.StatusOK, res
}

func (h *Handler) conversationEnded(body *webhookBody) (int, webhookResult) {
	id := firstNonEmpty(body.ConversationID, body.ID)
	if id == "" {
		return http.StatusBadRequest, webhookResult{Error: "conversation id not found in event"}
	}
	res := webhookResult{ConversationID: id, Processed: true}
	if in, ok := h.Interactions.Lookup(id); ok {
		res.InteractionID = in.ID
		res.Stage = in.Stage
	}
	return http.StatusOK, res
}

// pickMessage returns the message with id, or the latest inbound message
// when id is empty or absent.
func pickMessage(msgs []genesys.Message, id string) (genesys.Message, bool) {
	if id != "" {
		for _, m := range msgs {
			if m.ID == id {
				return m, true
			}
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !strings.EqualFold(msgs[i].Direction, "outbound") {
			return msgs[i], true
		}
	}
	return genesys.Message{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
