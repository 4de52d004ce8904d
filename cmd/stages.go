package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"loadpilot/internal/cli"
	"loadpilot/internal/driver"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
	"loadpilot/internal/report"
	"loadpilot/internal/styles"
	"loadpilot/internal/testplan"
	"loadpilot/internal/workload"
)

// single runs one stage through the coordinator so it is logged and
// contained the same way as in a full run.
func single(cmd *cobra.Command, build func(a *app) pipeline.Stage, after func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	a.serveMetrics(cmd.Context())

	return a.runSingle(cmd.Context(), build(a), after)
}

func (a *app) runSingle(ctx context.Context, stage pipeline.Stage, after func(a *app) error) error {
	run, err := a.coordinator().Run(ctx, stage)
	if err != nil {
		a.failed(run)
		return err
	}
	if after != nil {
		return after(a)
	}
	return nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Measure the baseline TPS of the production log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return single(cmd,
			func(*app) pipeline.Stage { return workload.Stage{Source: conf.LogsPath()} },
			func(a *app) error {
				b, err := workload.LoadBaseline(a.store)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s %d events over %.0fs\n%s %.2f TPS (%.2f TPM)\n",
					styles.Subtle.Render("Baseline:"), b.TotalEvents, b.WindowSeconds,
					styles.Subtle.Render("Rate:    "), b.TPS, b.TPM)
				return nil
			})
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Choose target, share and test type and write test-config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := prompter(cmd)
		return single(cmd, func(*app) pipeline.Stage { return derivation(p) }, nil)
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run the load test described by test-config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		return single(cmd,
			func(a *app) pipeline.Stage { return driver.Stage{Driver: a.driver()} },
			func(a *app) error {
				res, err := driver.LoadResult(a.store)
				if err != nil {
					return err
				}
				cli.PrintSummary(a.out, res)
				return nil
			})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write performance-report.md from the test results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return single(cmd,
			func(*app) pipeline.Stage { return report.Stage{} },
			func(a *app) error {
				fmt.Fprintln(a.out, styles.Success.Render("Report written to "+filepath.Join(a.store.Dir(), report.FileName)))
				return nil
			})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Render test-config.json as a JMeter test plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cfg, err := planner.LoadConfig(a.store)
		if err != nil {
			return err
		}
		if err := testplan.Project(a.store, cfg); err != nil {
			return err
		}
		fmt.Fprintln(a.out, styles.Success.Render("Test plan written to "+filepath.Join(a.store.Dir(), testplan.FileName)))
		return nil
	},
}

func init() {
	deriveCmd.Flags().StringVar(&runURL, "url", "", "target URL (skips the form)")
	deriveCmd.Flags().Float64Var(&runPercentage, "percentage", 100, "share of the baseline TPS to replay")
	deriveCmd.Flags().StringVar(&runType, "type", string(planner.Load), "test type: load, stress or endurance")
	deriveCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "accept defaults without prompting")
}
