package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentdesk/internal/config"
	"agentdesk/internal/storage/sqlite"
)

func TicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect and retry escalation tickets",
	}
	cmd.AddCommand(ticketsListCmd())
	cmd.AddCommand(ticketsRetryCmd())
	return cmd
}

func ticketsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List created tickets, or escalations still missing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			pending, _ := cmd.Flags().GetBool("pending")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := sqlite.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
			store := sqlite.Store{DB: db}

			if pending {
				return listPending(cmd.Context(), cmd.OutOrStdout(), store, limit)
			}
			return listTickets(cmd.Context(), cmd.OutOrStdout(), store, limit)
		},
	}
	cmd.Flags().Int("limit", 50, "maximum rows to show")
	cmd.Flags().Bool("pending", false, "show escalations whose ticket creation failed")
	return cmd
}

func listTickets(ctx context.Context, out io.Writer, store sqlite.Store, limit int) error {
	tickets, err := store.ListTickets(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list tickets: %w", err)
	}
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tSYSTEM\tINTERACTION\tREASON\tCREATED")
	fmt.Fprintln(w, "------\t------\t-----------\t------\t-------")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.TicketID,
			t.TicketSystem,
			t.InteractionID,
			orDash(t.Reason),
			t.CreatedAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func listPending(ctx context.Context, out io.Writer, store sqlite.Store, limit int) error {
	records, err := store.PendingEscalations(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list pending escalations: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No escalations without a ticket.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INTERACTION\tCHANNEL\tINTENT\tREASON\tRECORDED")
	fmt.Fprintln(w, "-----------\t-------\t------\t------\t--------")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.InteractionID,
			rec.Channel,
			orDash(rec.Intent),
			orDash(rec.Reason),
			rec.RecordedAt.Format(time.RFC3339),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s run 'agentdesk tickets retry <interaction-id>' to retry\n",
		color.New(color.FgYellow).Sprintf("%d pending:", len(records)))
	return nil
}

func ticketsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [interaction-id]",
		Short: "Retry ticket creation for an escalated interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			outcome, err := a.Orchestrator.RetryRecorded(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry failed: %w", err)
			}
			if outcome.Ticket == nil {
				return fmt.Errorf("retry for %s produced no ticket", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s ticket %s for %s\n",
				color.New(color.FgGreen).Sprint("✓"),
				outcome.Ticket.TicketSystem,
				outcome.Ticket.TicketID,
				args[0],
			)
			if outcome.Ticket.URL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", outcome.Ticket.URL)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
