package main

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/plan"
)

var planCmd = cli.Command{
	Name:  "plan",
	Usage: "measurement plan tools",
	Subcommands: cli.Commands{
		&planCheckCmd,
	},
}

var planCheckCmd = cli.Command{
	Name:  "check",
	Usage: "validate a plan and print it with defaults applied",
	Flags: []cli.Flag{planFlag},
	Action: func(c *cli.Context) error {
		p, err := plan.Load(c.Path(planFlag.Name))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		data, err := p.Marshal()
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		console.Printf("%s", data)
		console.PInfof(console.PictoNotebook, "%s devices, columns %s",
			console.Green(len(p.Devices)), console.White(strings.Join(p.Columns(), ", ")))
		return nil
	},
}
