package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/memory"
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and manage stored facts",
}

func init() {
	addOwnerFlags(factsCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's facts",
		Args:  cobra.NoArgs,
		RunE:  runFactsList,
	}
	listCmd.Flags().Bool("all", false, "include discarded facts")
	listCmd.Flags().Bool("json", false, "print JSON")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's facts as YAML or Markdown",
		Args:  cobra.NoArgs,
		RunE:  runFactsExport,
	}
	exportCmd.Flags().String("format", engine.FormatYAML, "yaml or markdown")
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	correctCmd := &cobra.Command{
		Use:   "correct KEY VALUE",
		Short: "Correct a fact; repeated corrections lock it",
		Args:  cobra.ExactArgs(2),
		RunE:  runFactsCorrect,
	}
	correctCmd.Flags().String("display", "", "display text")

	forgetCmd := &cobra.Command{
		Use:   "forget KEY",
		Short: "Permanently delete every fact stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE:  runFactsForget,
	}

	eventsCmd := &cobra.Command{
		Use:   "events ID",
		Short: "Show the change history of a fact",
		Args:  cobra.ExactArgs(1),
		RunE:  runFactsEvents,
	}
	eventsCmd.Flags().Int("limit", 100, "maximum events")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent changes across all of an owner's facts",
		Args:  cobra.NoArgs,
		RunE:  runFactsHistory,
	}
	historyCmd.Flags().Int("limit", 20, "maximum events")

	pinCmd := &cobra.Command{
		Use:   "pin ID",
		Short: "Pin a fact so it is always surfaced",
		Args:  cobra.ExactArgs(1),
		RunE:  runFactsPin,
	}
	pinCmd.Flags().Bool("unpin", false, "clear the pin instead")

	discardCmd := &cobra.Command{
		Use:   "discard ID",
		Short: "Hide a fact from retrieval (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE:  byID(func(cmd *cobra.Command, a *app, owner memory.Owner, id string) (*memory.Fact, error) {
			return a.engine.Discard(cmd.Context(), owner, id)
		}),
	}

	confirmCmd := &cobra.Command{
		Use:   "confirm ID",
		Short: "Mark a fact as confirmed by the user",
		Args:  cobra.ExactArgs(1),
		RunE:  byID(func(cmd *cobra.Command, a *app, owner memory.Owner, id string) (*memory.Fact, error) {
			return a.engine.Confirm(cmd.Context(), owner, id)
		}),
	}

	factsCmd.AddCommand(listCmd, exportCmd, correctCmd, forgetCmd, eventsCmd, historyCmd, pinCmd, discardCmd, confirmCmd)
}

// withApp opens the runtime for one owner-scoped command.
func withApp(cmd *cobra.Command, fn func(a *app, owner memory.Owner) error) error {
	owner, err := ownerFlags(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, owner)
}

func byID(fn func(cmd *cobra.Command, a *app, owner memory.Owner, id string) (*memory.Fact, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app, owner memory.Owner) error {
			f, err := fn(cmd, a, owner, args[0])
			if err != nil {
				return err
			}
			printFact(cmd.OutOrStdout(), f)
			return nil
		})
	}
}

func runFactsList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		facts, err := a.engine.List(cmd.Context(), owner, all)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, facts)
		}
		if len(facts) == 0 {
			fmt.Fprintln(out, "no facts")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKEY\tVALUE\tSTRENGTH\tFLAGS")
		for _, f := range facts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", f.ID, f.Key, truncate(f.Value, 40), f.Strength, flags(f))
		}
		return tw.Flush()
	})
}

func runFactsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		return a.engine.Export(cmd.Context(), owner, format, w)
	})
}

func runFactsCorrect(cmd *cobra.Command, args []string) error {
	display, _ := cmd.Flags().GetString("display")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		res, err := a.engine.Correct(cmd.Context(), owner, args[0], args[1], display)
		if err != nil {
			return err
		}
		locked := ""
		if res.Locked {
			locked = " (locked)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s%s\n", res.Outcome, res.Key, res.FactID, locked)
		return nil
	})
}

func runFactsForget(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		n, err := a.engine.Forget(cmd.Context(), owner, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %d fact(s) under %s\n", n, args[0])
		return nil
	})
}

func runFactsEvents(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		events, err := a.engine.Events(cmd.Context(), owner, args[0], limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tSTRENGTH\tBEFORE\tAFTER")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type,
				ev.Strength, truncate(ev.Before, 30), truncate(ev.After, 30))
		}
		return tw.Flush()
	})
}

func runFactsHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withApp(cmd, func(a *app, owner memory.Owner) error {
		events, err := a.engine.History(cmd.Context(), owner, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no history")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tKEY\tAFTER")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type,
				ev.Key, truncate(ev.After, 40))
		}
		return tw.Flush()
	})
}

func runFactsPin(cmd *cobra.Command, args []string) error {
	unpin, _ := cmd.Flags().GetBool("unpin")
	return byID(func(cmd *cobra.Command, a *app, owner memory.Owner, id string) (*memory.Fact, error) {
		return a.engine.Pin(cmd.Context(), owner, id, !unpin)
	})(cmd, args)
}

func printFact(w io.Writer, f *memory.Fact) {
	fmt.Fprintf(w, "%s %s = %s [%s]\n", f.ID, f.Key, f.Value, flags(f))
}

func flags(f *memory.Fact) string {
	s := ""
	add := func(on bool, name string) {
		if !on {
			return
		}
		if s != "" {
			s += ","
		}
		s += name
	}
	add(f.Pinned, "pinned")
	add(f.IsLocked, "locked")
	add(f.ConfirmedAt != nil, "confirmed")
	add(f.Discarded(), "discarded")
	add(f.RevealPolicy != memory.RevealNormal, string(f.RevealPolicy))
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
