package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/gpib/cmd/dev/cmd"
)

func main() {
	var debug bool
	root := &cobra.Command{
		Use:           "dev",
		Short:         "developer tasks for the gpib module",
		Long:          "Builds dist/gpib, runs the test suites and linters, keeps the changelog and dry-runs plans against the simulated bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(devLogger(debug)))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.IntegrationTestCmd(),
		cmd.LintCmd(),
		cmd.CheckCmd(),
		cmd.ChangelogCmd(),
		cmd.DryRunCmd(),
	)
	if err := root.Execute(); err != nil {
		slog.Error("dev task failed", "error", err)
		os.Exit(1)
	}
}

func devLogger(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	l := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Prefix:          "dev",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	l.SetColorProfile(termenv.ANSI256)
	return l
}
