package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/memory"
)

var contextCmd = &cobra.Command{
	Use:   "context [TEXT...]",
	Short: "Print the memory block a companion would see for a turn",
	RunE:  runContext,
}

func init() {
	addOwnerFlags(contextCmd)
	contextCmd.Flags().Bool("json", false, "print the grouped result as JSON")
}

func runContext(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	text := strings.Join(args, " ")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		res, err := a.engine.Context(cmd.Context(), owner, text)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, res)
		}
		fmt.Fprint(out, res.Prompt)
		if res.FallbackPrompt != "" {
			fmt.Fprintf(out, "\nSuggested question: %s\n", res.FallbackPrompt)
		}
		return nil
	})
}
