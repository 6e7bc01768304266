package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentdesk/internal/classify"
)

func ClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Score a customer message against the intent catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogPath, _ := cmd.Flags().GetString("catalog")
			top, _ := cmd.Flags().GetInt("top")

			catalog := classify.BuiltinCatalog()
			if catalogPath != "" {
				var err error
				catalog, err = classify.LoadCatalog(catalogPath)
				if err != nil {
					return fmt.Errorf("failed to load catalog: %w", err)
				}
			}

			text := strings.Join(args, " ")
			result := classify.New(catalog).Classify(text)
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tCATEGORY\tSCORE\tCONFIDENCE")
			fmt.Fprintln(w, "------\t--------\t-----\t----------")
			for i, s := range result.Ranked {
				if top > 0 && i >= top {
					break
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\n", s.Intent.ID, s.Intent.Category, s.Score, s.Confidence())
			}
			w.Flush()

			verdict := color.New(color.FgGreen).Sprint(result.IntentID())
			if result.Unknown() {
				verdict = color.New(color.FgYellow).Sprint(result.IntentID() + " (escalates)")
			}
			fmt.Fprintf(out, "\nDetected: %s\n", verdict)
			fmt.Fprintf(out, "Device: %s\n", classify.DetectDevice(text))
			return nil
		},
	}
	cmd.Flags().String("catalog", "", "intent catalog YAML (defaults to the built-in catalog)")
	cmd.Flags().Int("top", 5, "number of ranked intents to show (0 for all)")
	return cmd
}
