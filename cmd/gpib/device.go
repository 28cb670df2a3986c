package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/prologix"
)

var queryCmd = cli.Command{
	Name:      "query",
	Aliases:   []string{"q"},
	Usage:     "send a command to an instrument and print its response",
	ArgsUsage: "<command>",
	Flags: bridgeFlags(
		addressFlag,
		&cli.BoolFlag{Name: "line", Usage: "read until line feed instead of EOI"},
	),
	Action: func(c *cli.Context) error {
		cmd := strings.Join(c.Args().Slice(), " ")
		if cmd == "" {
			return console.Exit(1, "missing command")
		}
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			if err := bus.Write(ctx, cmd); err != nil {
				return console.Fail("write failed", err)
			}
			resp, err := read(ctx, c, bus)
			if err != nil {
				return console.Fail("read failed", err)
			}
			console.Print(resp)
			return nil
		})
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Aliases:   []string{"w"},
	Usage:     "send commands to an instrument, one per argument",
	ArgsUsage: "<command>...",
	Flags:     bridgeFlags(addressFlag),
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return console.Exit(1, "missing command")
		}
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			for _, cmd := range c.Args().Slice() {
				if err := bus.Write(ctx, cmd); err != nil {
					return console.Fail("write failed", err)
				}
			}
			return nil
		})
	},
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read one response from an instrument",
	Flags: bridgeFlags(
		addressFlag,
		&cli.BoolFlag{Name: "line", Usage: "read until line feed instead of EOI"},
	),
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			resp, err := read(ctx, c, bus)
			if err != nil {
				return console.Fail("read failed", err)
			}
			console.Print(resp)
			return nil
		})
	},
}

var clearCmd = cli.Command{
	Name:  "clear",
	Usage: "clear one instrument, or the whole bus with --bus",
	Flags: bridgeFlags(
		&cli.IntFlag{Name: "address", Aliases: []string{"a"}, Usage: "primary address of the instrument to clear"},
		&cli.BoolFlag{Name: "bus", Usage: "assert interface clear on the whole bus"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	),
	Action: func(c *cli.Context) error {
		if c.Bool("bus") == c.IsSet("address") {
			return console.Exit(1, "use either --address or --bus")
		}
		if c.Bool("bus") && !c.Bool("yes") {
			ok, err := console.Confirm("interface clear aborts every transfer on the bus, continue?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if !ok {
				console.Infof("interface clear cancelled")
				return nil
			}
		}
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			if c.Bool("bus") {
				return console.Fail("interface clear failed", bus.InterfaceClear(ctx))
			}
			return console.Fail("device clear failed", bus.SelectedDeviceClear(ctx))
		})
	},
}

var localCmd = cli.Command{
	Name:  "local",
	Usage: "return an instrument to front panel control",
	Flags: bridgeFlags(addressFlag),
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			return console.Fail("go to local failed", bus.GoToLocal(ctx))
		})
	},
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "print the bridge firmware version",
	Flags: bridgeFlags(),
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			v, err := bus.Version(ctx)
			if err != nil {
				return console.Fail("version query failed", err)
			}
			console.Printf("%s %s\n", console.PictoPlug, console.White(v))
			return nil
		})
	},
}

func read(ctx context.Context, c *cli.Context, bus *prologix.Controller) (string, error) {
	if c.Bool("line") {
		return bus.ReadLine(ctx, 0)
	}
	return bus.Read(ctx, 0)
}
