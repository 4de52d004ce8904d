package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadpilot/internal/banner"
	"loadpilot/internal/driver"
	"loadpilot/internal/history"
	"loadpilot/internal/logging"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
	"loadpilot/internal/prompt"
	"loadpilot/internal/report"
	"loadpilot/internal/testplan"
	"loadpilot/internal/workload"
)

var (
	runURL        string
	runPercentage float64
	runType       string
	runYes        bool
	runIsolate    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline: analyze, derive, execute, report",
	Long: `Runs the four stages in order and stops at the first failure.

Without --url or --yes the workload is chosen in an interactive form.
With --isolate every stage except the prompt runs as its own process.`,
	Example: `  loadpilot run
  loadpilot run --url http://localhost:8080/fast --percentage 50 --type stress
  loadpilot run --yes --isolate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		a.serveMetrics(cmd.Context())

		// Artifacts of an earlier run must never feed this one.
		if err := a.store.Reset(); err != nil {
			return err
		}

		stages := []pipeline.Stage{
			workload.Stage{Source: conf.LogsPath()},
			derivation(prompter(cmd)),
			driver.Stage{Driver: a.driver()},
			report.Stage{},
		}
		if runIsolate {
			if stages, err = isolate(stages); err != nil {
				return err
			}
		}

		fmt.Fprintln(a.out, banner.GetString())
		run, runErr := a.coordinator().Run(cmd.Context(), stages...)

		if conf.History.Enabled {
			saveHistory(a, run)
		}

		fmt.Fprint(a.out, run.Summary())
		if a.failed(run) {
			return runErr
		}
		fmt.Fprintln(a.out, banner.Success(run.ID))
		return nil
	},
}

// failed prints the failure banner naming the stage that ended run.
func (a *app) failed(run *pipeline.Run) bool {
	stage, ok := run.Failed()
	if ok {
		fmt.Fprintln(a.out, banner.Failure(stage.Name, errors.New(stage.Error)))
	}
	return ok
}

// isolate re-launches every stage that needs no terminal as a child
// process running the hidden agent command.
func isolate(stages []pipeline.Stage) ([]pipeline.Stage, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate executable")
	}

	out := make([]pipeline.Stage, len(stages))
	for i, s := range stages {
		if s.Name() == planner.StageName {
			out[i] = s
			continue
		}
		argv := []string{self, "agent", s.Name(), "--dir", conf.Dir, "--logs", conf.Logs}
		if cfgFile != "" {
			argv = append(argv, "--config", cfgFile)
		}
		if conf.Insecure {
			argv = append(argv, "--insecure")
		}
		out[i] = pipeline.Exec(s.Name(), argv...)
	}
	return out, nil
}

func saveHistory(a *app, run *pipeline.Run) {
	path := conf.History.Path
	if path == "" {
		p, err := history.DefaultPath()
		if err != nil {
			a.log.Warn("history disabled", zap.Error(err))
			return
		}
		path = p
	}

	h, err := history.Open(path)
	if err != nil {
		a.log.Warn("history unavailable", zap.Error(err))
		return
	}
	defer h.Close()

	rec := history.Record{Run: run}
	if cfg, err := planner.LoadConfig(a.store); err == nil {
		rec.Config = &cfg
	}
	if res, err := driver.LoadResult(a.store); err == nil {
		rec.Result = &res
	}
	if err := h.Save(rec); err != nil {
		a.log.Warn("history not saved", zap.Error(err))
	}
}

var agentCmd = &cobra.Command{
	Use:    "agent <stage>",
	Short:  "Run a single stage as an isolated process",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		stage, err := stageByName(a, args[0])
		if err != nil {
			return err
		}
		env := a.env()
		env.Logger = logging.ForStage(a.log, stage.Name())
		return stage.Run(cmd.Context(), env)
	},
}

// prompter asks on the terminal unless the answers came as flags or there is
// no terminal to ask on.
func prompter(cmd *cobra.Command) planner.Prompter {
	if runYes || cmd.Flags().Changed("url") || !interactive(os.Stdin) {
		return prompt.Static{Answers: planner.Answers{
			URL:        runURL,
			Percentage: runPercentage,
			TestType:   planner.TestType(runType),
		}}
	}
	return prompt.Interactive{In: os.Stdin, Out: os.Stdout}
}

func derivation(p planner.Prompter) planner.Stage {
	return planner.Stage{Prompter: p, Projections: []planner.Projection{testplan.Project}}
}

// stageByName resolves the stages an agent may run. Derivation prompts the
// operator and therefore always stays in the parent.
func stageByName(a *app, name string) (pipeline.Stage, error) {
	switch name {
	case workload.StageName:
		return workload.Stage{Source: conf.LogsPath()}, nil
	case driver.StageName:
		return driver.Stage{Driver: a.driver()}, nil
	case report.StageName:
		return report.Stage{}, nil
	default:
		return nil, errors.Errorf("unknown stage %q", name)
	}
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "target URL (skips the form)")
	runCmd.Flags().Float64Var(&runPercentage, "percentage", 100, "share of the baseline TPS to replay")
	runCmd.Flags().StringVar(&runType, "type", string(planner.Load), "test type: load, stress or endurance")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "accept defaults without prompting")
	runCmd.Flags().BoolVar(&runIsolate, "isolate", false, "run stages as separate processes")
}
