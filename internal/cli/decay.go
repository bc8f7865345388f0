package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/memory"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one batch decay sweep",
	Long:  "Lower the strength of facts that have not been reinforced. Without --user every fact is in scope.",
	Args:  cobra.NoArgs,
	RunE:  runDecay,
}

var decayRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent decay runs",
	Args:  cobra.NoArgs,
	RunE:  runDecayRuns,
}

func init() {
	decayCmd.Flags().String("user", "", "limit the sweep to one user")
	decayCmd.Flags().String("project", "", "limit the sweep to one project of --user")
	decayRunsCmd.Flags().Int("limit", 10, "maximum runs")
	decayCmd.AddCommand(decayRunsCmd)
}

func runDecay(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	project, _ := cmd.Flags().GetString("project")
	if user == "" && project != "" {
		return fmt.Errorf("--project requires --user")
	}

	a, err := openApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.engine.RunDecay(cmd.Context(), memory.Owner{UserID: user, ProjectID: project})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decay run %d (%s, %s): %s; scanned %d, updated %d, skipped %d, failed %d\n",
		sum.RunID, sum.Scope, sum.Policy, sum.Status, sum.Scanned, sum.Updated, sum.Skipped, sum.Failed)
	return nil
}

func runDecayRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	a, err := openApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.db.RecentDecayRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSCOPE\tPOLICY\tSTATUS\tSCANNED\tUPDATED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Scope, r.Policy, r.Status, r.Scanned, r.Updated, r.Failed)
	}
	return tw.Flush()
}
