package main

import (
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/prologix"
)

var simCmd = cli.Command{
	Name:  "sim",
	Usage: "run a simulated bridge for dry runs of measurement plans",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "listen address", Value: "127.0.0.1:1234"},
		&cli.StringFlag{Name: "reply", Usage: "response to every read", Value: "23.456000"},
		&cli.IntSliceFlag{Name: "stall", Usage: "addresses that never answer reads"},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := commandContext(c)
		defer cancel()

		reply := c.String("reply")
		stalled := make(map[int]bool)
		for _, addr := range c.IntSlice("stall") {
			stalled[addr] = true
		}
		respond := func(addr int, last string) (string, bool) {
			slog.Debug("read request", "address", addr, "last_command", last)
			return reply, !stalled[addr]
		}
		sim, err := prologix.StartSimulator(c.String("listen"), respond, prologix.WithSimulatorLogger(slog.Default()))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		host, port := sim.HostPort()
		console.PInfof(console.PictoGhost, "simulated bridge on %s, use --host %s --port %d", console.White(sim.Addr()), host, port)
		if err := sim.Serve(ctx); err != nil && ctx.Err() == nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "served %d connections, %d frames", sim.Connections(), len(sim.Frames()))
		return nil
	},
}
