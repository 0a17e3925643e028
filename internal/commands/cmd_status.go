package commands

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/printer"
)

type StatusCmd struct {
	flags      *Flags
	jsonOutput bool
}

// NewStatusCmd creates a new status command
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the status command to the application
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "status",
		Usage:       "Show system counts",
		UsageText:   "warren status [--json]",
		Description: "Shows channel, agent, message, and queue counts across the store. Use 'warren channel show' for one channel.",
		Flags: []cli.Flag{
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

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	st, err := cmd.flags.Service.GetSystemStatus(ctx)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, st)
	}

	p := printer.New(c.Root().Writer)
	p.Section("warren")
	p.Printf("  backend:   %s", st.Backend)
	p.Printf("  data dir:  %s", cmd.flags.Config.DataDir)
	p.Printf("  channels:  %d (%d active)", st.ChannelCount, st.ActiveChannels)
	p.Printf("  agents:    %d (%d active, %d available)", st.AgentCount, st.ActiveAgents, st.AvailableAgents)
	p.Printf("  messages:  %d", st.MessageCount)
	p.Printf("  queue:     %d queued, %d processing", st.QueueDepth, st.Processing)
	p.Printf("  as of:     %s", st.Timestamp.Format(time.RFC3339))
	if st.Processing > 0 {
		p.Printf("")
		p.Infof("files processing longer than %s are returned to the queue by 'warren maintain'",
			cmd.flags.Config.Retention.ProcessingTimeout)
	}
	return nil
}
