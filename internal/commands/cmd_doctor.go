package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/commands/doctor"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/printer"
	"github.com/hay-kot/warren/internal/store/cborlog"
	"github.com/hay-kot/warren/internal/warren"
)

type DoctorCmd struct {
	flags  *Flags
	format string
	fix    bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "doctor",
		Usage:     "Run health checks on your warren setup",
		UsageText: "warren doctor [options]",
		Description: `Runs diagnostic checks on configuration, the store, and the event log.

Fixable issues are records orphaned by an interrupted purge and files left
processing past the processing timeout. Pass --fix to repair them.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "repair fixable issues",
				Destination: &cmd.fix,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	checks := []doctor.Check{
		doctor.NewConfigCheck(cfg, cmd.flags.ConfigPath),
	}

	var results []doctor.Result
	if cfg != nil && cfg.Validate() == nil {
		logger := log.With().Str("component", "doctor").Logger()
		backend, err := warren.OpenBackend(ctx, cfg, logger)
		if err != nil {
			results = append(results, doctor.Result{
				Name: "Storage (" + cfg.Backend.Kind + ")",
				Items: []doctor.CheckItem{{
					Label:  "Open backend",
					Status: doctor.StatusFail,
					Detail: err.Error(),
				}},
			})
		} else {
			defer func() { _ = backend.Close() }()

			g := guard.New(backend, nil, guard.Config{
				Timeout:      cfg.Lock.Timeout,
				PollInterval: cfg.Lock.PollInterval,
			}, logger)
			checks = append(checks,
				doctor.NewStorageCheck(backend),
				doctor.NewOrphanCheck(g, cmd.fix),
				doctor.NewClaimsCheck(queue.New(g, nil, 0), cfg.Retention.ProcessingTimeout, cmd.fix),
				doctor.NewEventLogCheck(cborlog.New(cfg.EventsFile())),
			)
		}
	}

	results = append(doctor.RunAll(ctx, checks), results...)

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(ctx, results)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	report := doctor.NewReport(results)
	if err := writeJSON(c.Root().Writer, report); err != nil {
		return err
	}
	if !report.Healthy {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *DoctorCmd) outputText(ctx context.Context, results []doctor.Result) error {
	p := printer.Ctx(ctx)

	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	passed, warned, failed := doctor.Summary(results)
	p.Printf("Summary: %d passed, %d warnings, %d failed", passed, warned, failed)
	if n := doctor.CountFixable(results); n > 0 {
		p.Infof("%d issues can be repaired with 'warren doctor --fix'", n)
	}

	if failed > 0 {
		return cli.Exit("", 1)
	}

	return nil
}
