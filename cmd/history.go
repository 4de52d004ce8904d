package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"loadpilot/internal/cli"
	"loadpilot/internal/history"
	"loadpilot/internal/styles"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := conf.History.Path
		if path == "" {
			p, err := history.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}
		h, err := history.Open(path)
		if err != nil {
			return err
		}
		defer h.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := h.Get(args[0])
			if err != nil {
				return err
			}
			if historyJSON {
				return writeJSON(out, rec)
			}
			printRecord(out, rec)
			return nil
		}

		recs, err := h.List(historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, styles.Subtle.Render("No runs recorded yet."))
			return nil
		}
		for _, rec := range recs {
			printRow(out, rec)
		}
		return nil
	},
}

func printRow(out io.Writer, rec history.Record) {
	status := styles.Success.Render(string(rec.Run.Status))
	if _, failed := rec.Run.Failed(); failed {
		status = styles.Error.Render(string(rec.Run.Status))
	}
	target := "-"
	if rec.Config != nil {
		target = fmt.Sprintf("%s %s", rec.Config.TestType, rec.Config.URL)
	}
	fmt.Fprintf(out, "%s  %s  %-7s  %s\n",
		styles.Value.Render(rec.Run.ID),
		rec.Run.StartedAt.Format("2006-01-02 15:04:05"),
		status, target)
}

func printRecord(out io.Writer, rec history.Record) {
	fmt.Fprint(out, rec.Run.Summary())
	if rec.Config != nil {
		fmt.Fprintf(out, "\n%s %s (%s, %d connections, target %.2f TPS)\n",
			styles.Subtle.Render("Target:"), rec.Config.URL, rec.Config.TestType.Title(),
			rec.Config.Connections, rec.Config.TargetTPS)
	}
	if rec.Result != nil {
		cli.PrintSummary(out, *rec.Result)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print records as JSON")
}
