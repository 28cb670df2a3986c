package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

// plans default to the bridge port
const dryRunListen = "127.0.0.1:1234"

// DryRunCmd runs a measurement plan against the simulated bridge.
func DryRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Run a measurement plan against the simulated bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath, err := cmd.Flags().GetString("plan")
			if err != nil {
				return fmt.Errorf("could not get plan flag: %w", err)
			}
			duration, err := cmd.Flags().GetDuration("duration")
			if err != nil {
				return fmt.Errorf("could not get duration flag: %w", err)
			}
			startup, err := cmd.Flags().GetDuration("startup")
			if err != nil {
				return fmt.Errorf("could not get startup flag: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), startup+duration)
			defer cancel()

			sim := exec.CommandContext(ctx, "go", "run", "./cmd/gpib", "sim", "--listen", dryRunListen)
			sim.Stderr = os.Stderr
			if err := sim.Start(); err != nil {
				return fmt.Errorf("could not start simulator: %w", err)
			}
			defer func() { _ = sim.Wait() }()
			defer cancel()

			readyCtx, ready := context.WithTimeout(ctx, startup)
			defer ready()
			if err := waitListening(readyCtx, dryRunListen, 100*time.Millisecond); err != nil {
				return fmt.Errorf("simulator did not come up: %w", err)
			}

			slog.Info("logging against simulator", "plan", planPath, "listen", dryRunListen, "duration", duration)
			logger := exec.CommandContext(ctx, "go", "run", "./cmd/gpib", "log",
				"--plan", planPath, "--host", "127.0.0.1", "--csv", "-")
			logger.Stdout = os.Stdout
			logger.Stderr = os.Stderr
			if err := logger.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("logging failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("plan", "plan/testdata/five_in_one.yaml", "measurement plan")
	cmd.Flags().Duration("duration", 30*time.Second, "how long to log")
	cmd.Flags().Duration("startup", time.Minute, "how long to wait for the simulator to listen")
	return cmd
}

// waitListening dials addr every interval until a connection is accepted or
// ctx is done.
func waitListening(ctx context.Context, addr string, interval time.Duration) error {
	var d net.Dialer
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		slog.Debug("simulator not listening yet", "addr", addr, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
