package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/gpibctx"
	"github.com/mklimuk/gpib/prologix"
)

var (
	hostFlag = &cli.StringFlag{
		Name:     "host",
		Aliases:  []string{"H"},
		Usage:    "bridge host name or IP address",
		EnvVars:  []string{"GPIB_HOST"},
		Required: true,
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "bridge TCP port",
		Value: prologix.DefaultPort,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "response timeout (1ms to 3s)",
		EnvVars: []string{"GPIB_TIMEOUT"},
		Value:   prologix.DefaultTimeout,
	}
	addressFlag = &cli.IntFlag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "primary address of the instrument (0-30)",
		Required: true,
	}
)

func bridgeFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{hostFlag, portFlag, timeoutFlag}, extra...)
}

// commandContext is cancelled on interrupt and carries the wire dump flag.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	ctx = gpibctx.SetVerbose(ctx, c.Bool("verbose"))
	return ctx, cancel
}

// connect dials the bridge and, when the command has an address flag, selects
// the instrument.
func connect(ctx context.Context, c *cli.Context) (*prologix.Controller, error) {
	bus, err := prologix.Dial(ctx, c.String(hostFlag.Name),
		prologix.WithPort(c.Int(portFlag.Name)),
		prologix.WithTimeout(c.Duration(timeoutFlag.Name)),
		prologix.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, console.Fail("could not open bridge connection", err)
	}
	if !c.IsSet(addressFlag.Name) {
		return bus, nil
	}
	addr := c.Int(addressFlag.Name)
	if err := bus.Select(ctx, addr); err != nil {
		_ = bus.Close()
		return nil, console.Fail("could not select instrument", err)
	}
	return bus, nil
}

// withBus runs fn against a connected bus and closes it afterwards.
func withBus(c *cli.Context, fn func(ctx context.Context, bus *prologix.Controller) error) error {
	ctx, cancel := commandContext(c)
	defer cancel()
	bus, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Debug("closing bridge connection failed", "error", err)
		}
	}()
	return fn(ctx, bus)
}
