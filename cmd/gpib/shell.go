package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/prologix"
)

const shellHelp = `lines are sent to the selected instrument, lines containing '?' are queries
  !addr <n>   select instrument
  !read       read until EOI
  !line       read until line feed
  !clr        clear the selected instrument
  !ifc        interface clear
  !loc        return the instrument to front panel control
  !ver        bridge version
  !quit       leave the shell`

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive session with the instruments on the bus",
	Flags: bridgeFlags(
		&cli.IntFlag{Name: "address", Aliases: []string{"a"}, Usage: "instrument selected at start"},
	),
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, bus *prologix.Controller) error {
			history := ""
			if home, err := os.UserHomeDir(); err == nil {
				history = filepath.Join(home, ".gpib_history")
			}
			rl, err := console.Shell(shellPrompt(bus), history)
			if err != nil {
				return console.Exit(1, "terminal error: %s", console.Red(err))
			}
			defer rl.Close()
			console.Printf("%s\n", console.Faint(shellHelp))
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return console.Exit(1, "terminal error: %s", console.Red(err))
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				out, quit, err := shellExec(ctx, bus, line)
				if quit {
					return nil
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					console.Errorf("%s", err)
					// a timed out bus is in an unknown state
					if gpib.IsTimeout(err) {
						console.Warnf("consider %s or %s", console.Bold("!clr"), console.Bold("!ifc"))
					}
				}
				if out != "" {
					console.Print(console.Cyan(out))
				}
				rl.SetPrompt(shellPrompt(bus))
			}
		})
	},
}

func shellPrompt(bus *prologix.Controller) string {
	if addr, ok := bus.Selected(); ok {
		return fmt.Sprintf("gpib@%d> ", addr)
	}
	return "gpib> "
}

// shellExec runs one shell line and returns the text to print.
func shellExec(ctx context.Context, bus *prologix.Controller, line string) (string, bool, error) {
	if !strings.HasPrefix(line, "!") {
		if strings.Contains(line, "?") {
			resp, err := bus.Query(ctx, line, 0)
			return resp, false, err
		}
		return "", false, bus.Write(ctx, line)
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return shellHelp, false, nil
	}
	switch fields[0] {
	case "addr":
		if len(fields) != 2 {
			return "", false, errors.New("usage: !addr <n>")
		}
		addr, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", false, fmt.Errorf("invalid address %q", fields[1])
		}
		return "", false, bus.Select(ctx, addr)
	case "read":
		resp, err := bus.Read(ctx, 0)
		return resp, false, err
	case "line":
		resp, err := bus.ReadLine(ctx, 0)
		return resp, false, err
	case "clr":
		return "", false, bus.SelectedDeviceClear(ctx)
	case "ifc":
		return "", false, bus.InterfaceClear(ctx)
	case "loc":
		return "", false, bus.GoToLocal(ctx)
	case "ver":
		v, err := bus.Version(ctx)
		return v, false, err
	case "quit", "exit", "q":
		return "", true, nil
	default:
		return shellHelp, false, nil
	}
}
