package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func quality(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return quality("test", "Run unit tests", "tests", test.Test)
}

func LintCmd() *cobra.Command {
	return quality("lint", "Run linters", "linting", test.Lint)
}

// IntegrationTestCmd runs the tests that talk to the simulated bridge over TCP.
func IntegrationTestCmd() *cobra.Command {
	return quality("integration-test", "Run integration tests", "integration tests", test.Integ)
}

// CheckCmd runs linters and then unit tests, as CI does.
func CheckCmd() *cobra.Command {
	return quality("check", "Run linters and unit tests", "checks", func() error {
		if err := test.Lint(); err != nil {
			return err
		}
		return test.Test()
	})
}
