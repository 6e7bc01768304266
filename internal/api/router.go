package api

import (
	"net/http"
)

func NewRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", handler.Events)
	mux.HandleFunc("POST /v1/webhooks/genesys", handler.GenesysWebhook)
	mux.HandleFunc("GET /v1/interactions", handler.ActiveInteractions)
	mux.HandleFunc("GET /v1/interactions/{id}", handler.Interaction)
	mux.HandleFunc("POST /v1/interactions/{id}/retry-ticket", handler.RetryTicket)
	mux.HandleFunc("GET /v1/tickets", handler.Tickets)
	mux.HandleFunc("GET /v1/conversations", handler.Conversations)
	mux.HandleFunc("POST /v1/conversations/simulated", handler.SimulateConversation)
	mux.HandleFunc("GET /healthz", handler.Health)

	return mux
}
