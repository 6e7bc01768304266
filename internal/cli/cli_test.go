package cli

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentdesk/internal/domain"
	"agentdesk/internal/storage/sqlite"
)

// setupConfig writes a demo-backend config pointing at a temp database.
func setupConfig(t *testing.T) (string, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agentdesk.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	data := "ticketing_system: demo\ndb_path: " + dbPath + "\nlog_level: info\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o600))

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("GENESYS_CLIENT_ID", "")
	t.Setenv("GENESYS_CLIENT_SECRET", "")

	db, err := sqlite.InitDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return cfgPath, db
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyPrintsRankingAndDevice(t *testing.T) {
	out, err := run(t, "classify", "my", "office", "printer", "is", "offline")
	require.NoError(t, err)
	require.Contains(t, out, "INTENT")
	require.Contains(t, out, "printer_offline")
	require.Contains(t, out, "Printing")
	require.Contains(t, out, "Detected:")
	require.Contains(t, out, "Device: printer")
}

func TestClassifyRequiresText(t *testing.T) {
	_, err := run(t, "classify")
	require.Error(t, err)
}

func TestClassifyMissingCatalog(t *testing.T) {
	_, err := run(t, "classify", "--catalog", filepath.Join(t.TempDir(), "none.yaml"), "hello")
	require.ErrorContains(t, err, "failed to load catalog")
}

func TestTicketsListEmpty(t *testing.T) {
	cfgPath, _ := setupConfig(t)
	out, err := run(t, "--config", cfgPath, "tickets", "list")
	require.NoError(t, err)
	require.Contains(t, out, "No tickets found.")
}

func TestTicketsListShowsTickets(t *testing.T) {
	cfgPath, db := setupConfig(t)
	_, _, err := sqlite.InsertTicketOnce(db, domain.Ticket{
		TicketID:      "DEMO-42",
		TicketSystem:  "demo",
		InteractionID: "int-7",
		Reason:        "Risk detected",
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "tickets", "list")
	require.NoError(t, err)
	require.Contains(t, out, "DEMO-42")
	require.Contains(t, out, "int-7")
	require.Contains(t, out, "Risk detected")
}

func TestTicketsPendingAndRetry(t *testing.T) {
	cfgPath, db := setupConfig(t)
	require.NoError(t, sqlite.RecordOutcome(db, domain.OutcomeRecord{
		InteractionID: "int-9",
		Channel:       domain.ChannelEmail,
		Text:          "my printer is offline again",
		Intent:        "printer_offline",
		Device:        "printer",
		Stage:         domain.StageEscalated,
		Reason:        "Risk detected",
	}))

	out, err := run(t, "--config", cfgPath, "tickets", "list", "--pending")
	require.NoError(t, err)
	require.Contains(t, out, "int-9")
	require.Contains(t, out, "1 pending:")

	out, err = run(t, "--config", cfgPath, "tickets", "retry", "int-9")
	require.NoError(t, err)
	require.Contains(t, out, "for int-9")

	ticket, err := sqlite.GetTicketByInteraction(db, "int-9")
	require.NoError(t, err)
	require.NotEmpty(t, ticket.TicketID)
}

func TestTicketsRetryUnknownInteraction(t *testing.T) {
	cfgPath, _ := setupConfig(t)
	_, err := run(t, "--config", cfgPath, "tickets", "retry", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPollRequiresOnceAndGenesys(t *testing.T) {
	cfgPath, _ := setupConfig(t)
	_, err := run(t, "--config", cfgPath, "poll")
	require.ErrorContains(t, err, "--once")

	_, err = run(t, "--config", cfgPath, "poll", "--once")
	require.ErrorContains(t, err, "genesys is not configured")
}

func TestPrintConversations(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printConversations(&out, nil))
	require.Contains(t, out.String(), "No active conversations.")

	out.Reset()
	require.NoError(t, printConversations(&out, []domain.ConversationSummary{
		{ID: "c-1", MediaType: "chat", StartTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), New: true},
		{ID: "c-2"},
	}))
	require.Contains(t, out.String(), "c-1")
	require.Contains(t, out.String(), "2026-01-02T03:04:05Z")
	require.Contains(t, out.String(), "NEW")
	require.Contains(t, out.String(), "c-2")
}
