package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"agentdesk/internal/domain"
	"agentdesk/internal/integrations/genesys"
)

func TestWebhookTopics(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEvent string
		processed bool
	}{
		{
			name:      "created wrapped",
			body:      `{"topic":"conversation.created","eventBody":{"conversationId":"c-1"}}`,
			wantEvent: "conversation.created",
			processed: true,
		},
		{
			name:      "created callback alias",
			body:      `{"topic":"v2.conversations.callbacks.conversations","eventBody":{"id":"c-1"}}`,
			wantEvent: "conversation.created",
			processed: true,
		},
		{
			name:      "ended flat",
			body:      `{"topic":"conversation.ended","conversationId":"c-1"}`,
			wantEvent: "conversation.ended",
			processed: true,
		},
		{
			name:      "ended alias",
			body:      `{"topic":"v2.conversations.callbacks.conversations.ended","eventBody":{"conversationId":"c-1"}}`,
			wantEvent: "conversation.ended",
			processed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&Handler{Interactions: newFakeInteractions()})
			rec, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tt.wantEvent, body["event"])
			require.Equal(t, tt.processed, body["processed"])
			require.Equal(t, "c-1", body["conversationId"])
		})
	}
}

func TestWebhookUnknownTopicIsAcknowledged(t *testing.T) {
	router := NewRouter(&Handler{Interactions: newFakeInteractions()})
	rec, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys", `{"topic":"v2.users.presence","eventBody":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["processed"])
	require.Equal(t, "v2.users.presence", body["topic"])
}

func TestWebhookMessageDispatchesInboundText(t *testing.T) {
	f := newFakeInteractions()
	router := NewRouter(&Handler{Interactions: f})

	rec, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"c-9","mediaType":"callback","message":{"id":"m-1","textBody":"my laptop is broken"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["processed"])
	require.Equal(t, "c-9", body["interactionId"])
	require.Equal(t, "m-1", body["messageId"])

	events := f.Events()
	require.Len(t, events, 1)
	require.Equal(t, "c-9", events[0].InteractionID)
	require.Equal(t, domain.ChannelVoice, events[0].Channel)
	require.Equal(t, "my laptop is broken", events[0].Text)
}

func TestWebhookMessageFetchesTranscriptWhenBodyHasNoText(t *testing.T) {
	f := newFakeInteractions()
	cc := stubContactCenter{messages: []genesys.Message{
		{ID: "m-1", TextBody: "printer is offline", Direction: "inbound"},
		{ID: "m-2", TextBody: "let me check", Direction: "outbound"},
		{ID: "m-3", TextBody: "still offline on floor 2", Direction: "inbound"},
	}}
	router := NewRouter(&Handler{Interactions: f, ContactCenter: cc})

	_, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"v2.conversations.callbacks.messages","eventBody":{"conversation":{"id":"c-2"},"messageId":"m-1"}}`)
	require.Equal(t, true, body["processed"])

	_, body = do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"c-2"}}`)
	require.Equal(t, true, body["processed"])

	events := f.Events()
	require.Len(t, events, 2)
	require.Equal(t, "printer is offline", events[0].Text)
	require.Equal(t, "still offline on floor 2", events[1].Text, "latest inbound message")
}

func TestWebhookMessageSkipsAgentMessages(t *testing.T) {
	f := newFakeInteractions()
	router := NewRouter(&Handler{Interactions: f})
	_, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"c-3","textBody":"hello, agent here","direction":"outbound"}}`)
	require.Equal(t, true, body["processed"])
	require.Empty(t, f.Events())
}

func TestWebhookErrors(t *testing.T) {
	router := NewRouter(&Handler{Interactions: newFakeInteractions()})

	rec, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys", `{"topic":"conversation.created","eventBody":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, false, body["processed"])
	require.Contains(t, body["error"], "conversation id")

	rec, _ = do(t, router, http.MethodPost, "/v1/webhooks/genesys", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	upstream := &domain.BackendUnavailableError{Endpoint: "https://api.usw2.pure.cloud", Err: errors.New("refused")}
	router = NewRouter(&Handler{Interactions: newFakeInteractions(), ContactCenter: stubContactCenter{err: upstream}})
	rec, body = do(t, router, http.MethodPost, "/v1/webhooks/genesys", `{"topic":"conversation.created","eventBody":{"conversationId":"c-1"}}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, false, body["processed"])
}

func TestWebhookMessageToClosedInteraction(t *testing.T) {
	f := newFakeInteractions()
	f.dispatchErr = domain.ErrInteractionClosed
	router := NewRouter(&Handler{Interactions: f})
	rec, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"c-4","textBody":"anyone?"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["processed"])
}

func TestWebhookEmptyVoiceMessageClearsTranscript(t *testing.T) {
	f := newFakeInteractions()
	f.items["call-7"] = domain.Interaction{ID: "call-7", Channel: domain.ChannelVoice, Stage: domain.StageCapture}
	router := NewRouter(&Handler{Interactions: f})

	_, body := do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"call-7","mediaType":"voice","textBody":""}}`)
	require.Equal(t, true, body["processed"])
	events := f.Events()
	require.Len(t, events, 1)
	require.Empty(t, events[0].Text)

	_, body = do(t, router, http.MethodPost, "/v1/webhooks/genesys",
		`{"topic":"conversation.message","eventBody":{"conversationId":"chat-7","mediaType":"chat","textBody":""}}`)
	require.Equal(t, false, body["processed"])
	require.Equal(t, "message has no text", body["error"])
	require.Len(t, f.Events(), 1)
}
