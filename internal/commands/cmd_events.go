package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/printer"
)

type EventsCmd struct {
	flags *Flags

	channel    string
	eventType  string
	since      time.Duration
	limit      int
	jsonOutput bool
}

// NewEventsCmd creates a new events command
func NewEventsCmd(flags *Flags) *EventsCmd {
	return &EventsCmd{flags: flags}
}

// Register adds the events command to the application
func (cmd *EventsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "events",
		Usage:     "Show the audit trail",
		UsageText: "warren events [options]",
		Description: `Lists recorded state transitions, newest first.

Examples:
  warren events --channel ops --since 1h
  warren events --type file.claimed --limit 10`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "channel",
				Aliases:     []string{"c"},
				Usage:       "only events for this channel",
				Destination: &cmd.channel,
			},
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "only events of this type (e.g. file.claimed)",
				Destination: &cmd.eventType,
			},
			&cli.DurationFlag{
				Name:        "since",
				Usage:       "only events newer than this age",
				Destination: &cmd.since,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "maximum events",
				Value:       50,
				Destination: &cmd.limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *EventsCmd) run(ctx context.Context, c *cli.Command) error {
	f := events.Filter{Type: events.Type(cmd.eventType), Limit: cmd.limit}
	if cmd.since > 0 {
		f.Since = time.Now().Add(-cmd.since)
	}
	if cmd.channel != "" {
		ch, err := cmd.flags.Service.GetChannel(ctx, cmd.channel)
		if err != nil {
			return err
		}
		f.ChannelID = ch.ID
	}

	list, err := cmd.flags.Service.Events().List(ctx, f)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, list)
	}
	if len(list) == 0 {
		printer.Ctx(ctx).Infof("No events found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tTYPE\tCHANNEL\tAGENT\tSUBJECT\tDETAIL")
	for _, e := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ago(e.Timestamp), e.Type, orDash(e.ChannelID), orDash(e.AgentID), orDash(e.Subject), orDash(e.Detail))
	}
	return w.Flush()
}
