package sqlite

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"agentdesk/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL UNIQUE,
		ticket_id      TEXT NOT NULL,
		ticket_system  TEXT NOT NULL,
		url            TEXT DEFAULT '',
		reason         TEXT DEFAULT '',
		created_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets(created_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		interaction_id TEXT PRIMARY KEY,
		channel        TEXT NOT NULL,
		text           TEXT DEFAULT '',
		intent         TEXT DEFAULT '',
		device         TEXT DEFAULT '',
		stage          TEXT NOT NULL,
		summary        TEXT DEFAULT '',
		reason         TEXT DEFAULT '',
		ticket_id      TEXT DEFAULT '',
		recorded_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// InsertTicketOnce stores t unless a ticket already exists for its
// interaction. It returns the stored ticket and whether this call created it.
func InsertTicketOnce(db *sql.DB, t domain.Ticket) (domain.Ticket, bool, error) {
	res, err := db.Exec(
		`INSERT INTO tickets (interaction_id, ticket_id, ticket_system, url, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interaction_id) DO NOTHING`,
		t.InteractionID, t.TicketID, t.TicketSystem, t.URL, t.Reason, t.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Ticket{}, false, err
	}
	if n == 1 {
		return t, true, nil
	}
	existing, err := GetTicketByInteraction(db, t.InteractionID)
	return existing, false, err
}

func GetTicketByInteraction(db *sql.DB, interactionID string) (domain.Ticket, error) {
	var t domain.Ticket
	err := db.QueryRow(
		`SELECT interaction_id, ticket_id, ticket_system, url, reason, created_at
		 FROM tickets WHERE interaction_id = ?`, interactionID,
	).Scan(&t.InteractionID, &t.TicketID, &t.TicketSystem, &t.URL, &t.Reason, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.ErrNotFound
	}
	return t, err
}

// ListTickets returns the most recent tickets first.
func ListTickets(db *sql.DB, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT interaction_id, ticket_id, ticket_system, url, reason, created_at
		 FROM tickets ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.InteractionID, &t.TicketID, &t.TicketSystem, &t.URL, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// RecordOutcome upserts the outcome of an interaction. A later record for the
// same interaction (e.g. after a ticket retry) replaces the earlier one.
func RecordOutcome(db *sql.DB, o domain.OutcomeRecord) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO outcomes (interaction_id, channel, text, intent, device, stage, summary, reason, ticket_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interaction_id) DO UPDATE SET
		   channel = excluded.channel,
		   text = excluded.text,
		   intent = excluded.intent,
		   device = excluded.device,
		   stage = excluded.stage,
		   summary = excluded.summary,
		   reason = excluded.reason,
		   ticket_id = excluded.ticket_id,
		   recorded_at = excluded.recorded_at`,
		o.InteractionID, string(o.Channel), o.Text, o.Intent, o.Device, string(o.Stage),
		o.Summary, o.Reason, o.TicketID, o.RecordedAt.UTC(),
	)
	return err
}

func GetOutcome(db *sql.DB, interactionID string) (domain.OutcomeRecord, error) {
	row := db.QueryRow(
		`SELECT interaction_id, channel, text, intent, device, stage, summary, reason, ticket_id, recorded_at
		 FROM outcomes WHERE interaction_id = ?`, interactionID,
	)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OutcomeRecord{}, domain.ErrNotFound
	}
	return o, err
}

// GetEscalationsWithoutTicket lists escalated outcomes whose ticket creation
// failed and can be retried.
func GetEscalationsWithoutTicket(db *sql.DB, limit int) ([]domain.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT interaction_id, channel, text, intent, device, stage, summary, reason, ticket_id, recorded_at
		 FROM outcomes WHERE stage = ? AND ticket_id = '' ORDER BY recorded_at DESC LIMIT ?`,
		string(domain.StageEscalated), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(s scanner) (domain.OutcomeRecord, error) {
	var o domain.OutcomeRecord
	var channel, stage string
	err := s.Scan(&o.InteractionID, &channel, &o.Text, &o.Intent, &o.Device, &stage,
		&o.Summary, &o.Reason, &o.TicketID, &o.RecordedAt)
	o.Channel = domain.Channel(channel)
	o.Stage = domain.Stage(stage)
	return o, err
}
