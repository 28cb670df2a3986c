package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib/cmd/gpib/console"
	"github.com/mklimuk/gpib/plan"
	"github.com/mklimuk/gpib/prologix"
	"github.com/mklimuk/gpib/record"
	"github.com/mklimuk/gpib/sampler"
)

var planFlag = &cli.PathFlag{
	Name:     "plan",
	Aliases:  []string{"p"},
	Usage:    "measurement plan (YAML)",
	EnvVars:  []string{"GPIB_PLAN"},
	Required: true,
}

var logCmd = cli.Command{
	Name:  "log",
	Usage: "sample the instruments of a measurement plan until interrupted",
	Flags: []cli.Flag{
		planFlag,
		&cli.StringFlag{Name: "host", Aliases: []string{"H"}, Usage: "override the bridge host of the plan", EnvVars: []string{"GPIB_HOST"}},
		&cli.DurationFlag{Name: "period", Usage: "override the sampling period of the plan"},
		&cli.StringFlag{Name: "csv", Usage: `override the CSV output of the plan ("-" for stdout)`},
	},
	Action: func(c *cli.Context) error {
		p, err := plan.Load(c.Path(planFlag.Name))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if c.IsSet("host") {
			p.Bridge.Host = c.String("host")
		}
		if c.IsSet("period") {
			p.Period = c.Duration("period")
		}
		if c.IsSet("csv") {
			p.Output.CSV = c.String("csv")
		}
		if err := p.Validate(); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}

		ctx, cancel := commandContext(c)
		defer cancel()

		sink, err := openSinks(ctx, p)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() {
			if err := sink.Close(); err != nil {
				slog.Warn("closing outputs failed", "error", err)
			}
		}()

		s := sampler.New(p.BusFactory(prologix.WithLogger(slog.Default())), p.Period,
			sampler.WithSink(sink),
			sampler.WithLogger(slog.Default()),
			sampler.WithMaxRestarts(p.MaxRestarts),
		)
		slog.Info("logging", "bridge", p.Bridge.Host, "period", s.Period(), "columns", p.Columns())
		err = s.RunForever(ctx, p.Setup, p.Sample)
		stats := s.Stats().Snapshot()
		slog.Info("logging stopped",
			"cycles", stats.Cycles,
			"timeouts", stats.Timeouts,
			"restarts", stats.Restarts,
			"connect_failures", stats.ConnectFailures,
			"overruns", stats.Overruns,
		)
		return console.Fail("logging failed", err)
	},
}

func openSinks(ctx context.Context, p *plan.Plan) (record.MultiSink, error) {
	var sinks record.MultiSink
	if p.Output.CSV != "" {
		csv, err := record.OpenCSV(p.Output.CSV, p.Columns(), p.Output.TimeFormat)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csv)
	}
	if p.Output.MQTT != nil {
		m := record.NewMQTTSink(*p.Output.MQTT, p.Columns(), slog.Default())
		if err := m.Connect(ctx); err != nil {
			_ = sinks.Close()
			return nil, err
		}
		slog.Info("publishing rows", "topic", p.Output.MQTT.Topic, "run", m.Run())
		sinks = append(sinks, m)
	}
	if len(sinks) == 0 {
		slog.Warn("plan has no outputs, rows are discarded")
	}
	return sinks, nil
}
