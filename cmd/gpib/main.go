package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "gpib"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "talk to GPIB instruments through a Prologix GPIB-ETHERNET bridge"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging and bridge frame dumps",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored output",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		// stdout carries measurement data
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		if ctx.Bool("no-color") {
			charm.SetColorProfile(termenv.Ascii)
			console.NoColor()
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&logCmd,
		&queryCmd,
		&writeCmd,
		&readCmd,
		&clearCmd,
		&localCmd,
		&infoCmd,
		&shellCmd,
		&simCmd,
		&planCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		console.Errorf("%s", err)
		return 1
	}
	return 0
}
