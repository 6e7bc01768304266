package sqlite

import (
	"context"
	"database/sql"

	"agentdesk/internal/domain"
)

// Store adapts the package functions to the orchestrator's store interface.
type Store struct {
	DB *sql.DB
}

func (s Store) InsertTicketOnce(_ context.Context, t domain.Ticket) (domain.Ticket, bool, error) {
	return InsertTicketOnce(s.DB, t)
}

func (s Store) TicketByInteraction(_ context.Context, interactionID string) (domain.Ticket, error) {
	return GetTicketByInteraction(s.DB, interactionID)
}

func (s Store) RecordOutcome(_ context.Context, o domain.OutcomeRecord) error {
	return RecordOutcome(s.DB, o)
}

func (s Store) Outcome(_ context.Context, interactionID string) (domain.OutcomeRecord, error) {
	return GetOutcome(s.DB, interactionID)
}

func (s Store) ListTickets(_ context.Context, limit int) ([]domain.Ticket, error) {
	return ListTickets(s.DB, limit)
}

func (s Store) PendingEscalations(_ context.Context, limit int) ([]domain.OutcomeRecord, error) {
	return GetEscalationsWithoutTicket(s.DB, limit)
}
