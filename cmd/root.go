package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadpilot/internal/banner"
	"loadpilot/internal/config"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/styles"
)

var (
	cfgFile string
	conf    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loadpilot",
	Short: "LoadPilot - derive and run load tests from production traffic",
	Long: `
LoadPilot measures the transaction rate in a production log, asks which share
of it to replay and as what kind of test, runs that test against a target URL
and writes a Markdown report.

Stages:
1. log-analysis         production-logs.csv -> log-analysis.json
2. workload-derivation  prompt -> test-config.json (+ generated-test.jmx)
3. test-execution       test-config.json -> test-results.json
4. reporting            -> performance-report.md`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var se *pipeline.StageError
		if !errors.As(err, &se) {
			fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loadpilot.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "directory holding the stage artifacts")
	rootCmd.PersistentFlags().String("logs", "", "production log CSV (relative names resolve against --dir)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "json or console")
	rootCmd.PersistentFlags().Bool("insecure", false, "skip TLS verification of the load target")

	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("logs", rootCmd.PersistentFlags().Lookup("logs"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("insecure", rootCmd.PersistentFlags().Lookup("insecure"))

	rootCmd.AddCommand(runCmd, agentCmd, analyzeCmd, deriveCmd, executeCmd, reportCmd, planCmd, historyCmd, dummyCmd)
}

func initConfig() error {
	home, _ := os.UserHomeDir()
	c, err := config.Load(viper.GetViper(), cfgFile, home)
	if err != nil {
		return err
	}
	conf = c
	return nil
}
