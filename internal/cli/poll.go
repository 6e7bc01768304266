package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentdesk/internal/domain"
)

func PollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the contact center for active conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			if !once {
				return fmt.Errorf("only --once is supported; use 'agentdesk serve' for continuous polling")
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)
			if a.Genesys == nil {
				return fmt.Errorf("genesys is not configured: set genesys_client_id and genesys_client_secret")
			}

			convs, err := a.Poller.Poll(cmd.Context())
			if err != nil {
				return fmt.Errorf("poll failed: %w", err)
			}
			return printConversations(cmd.OutOrStdout(), convs)
		},
	}
	cmd.Flags().Bool("once", false, "run a single poll cycle and print the result")
	return cmd
}

func printConversations(out io.Writer, convs []domain.ConversationSummary) error {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No active conversations.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMEDIA\tSTARTED\tPARTICIPANTS\t")
	fmt.Fprintln(w, "--\t-----\t-------\t------------\t")
	for _, c := range convs {
		marker := ""
		if c.New {
			marker = color.New(color.FgGreen).Sprint("NEW")
		}
		started := "-"
		if !c.StartTime.IsZero() {
			started = c.StartTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, orDash(c.MediaType), started, len(c.Participants), marker)
	}
	return w.Flush()
}
