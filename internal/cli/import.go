package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/transcript"
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replay a JSONL chat log through memory extraction",
	Long: `Import reads a chat log with one {"role": ..., "content": ...} object per
line, groups it into turns and runs each turn through extraction exactly as
a live conversation would.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	addOwnerFlags(importCmd)
	importCmd.Flags().Bool("dry-run", false, "parse and count turns without storing anything")
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	msgs, err := transcript.ParseFile(args[0])
	if err != nil {
		return err
	}
	turns := transcript.Turns(msgs)
	out := cmd.OutOrStdout()

	if dryRun {
		fmt.Fprintf(out, "%d message(s), %d from the user, %d turn(s)\n",
			len(msgs), transcript.CountUserMessages(msgs), len(turns))
		return nil
	}

	return withApp(cmd, func(a *app, owner memory.Owner) error {
		var applied, failed, pending, rejected int
		for i, turn := range turns {
			res, err := a.engine.ProcessTurn(cmd.Context(), owner, turn)
			if err != nil {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
			for _, r := range res.Results {
				if r.Err != nil {
					failed++
					continue
				}
				applied++
			}
			pending += len(res.Pending)
			rejected += res.Rejected
		}
		fmt.Fprintf(out, "imported %d turn(s): %d applied, %d failed, %d pending, %d rejected\n",
			len(turns), applied, failed, pending, rejected)
		return nil
	})
}
