package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/printer"
)

type MaintainCmd struct {
	flags *Flags
}

// NewMaintainCmd creates a new maintain command
func NewMaintainCmd(flags *Flags) *MaintainCmd {
	return &MaintainCmd{flags: flags}
}

// Register adds the maintain command to the application
func (cmd *MaintainCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "maintain",
		Usage:     "Run one retention pass",
		UsageText: "warren maintain",
		Description: `Prunes messages older than retention.message_max_age, returns files
stuck in processing past retention.processing_timeout to their queue,
marks idle agents offline, and compacts the audit log.

'warren serve' runs this on retention.maintenance_interval.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *MaintainCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	report, err := cmd.flags.Service.Maintain(ctx)
	if err != nil {
		p.Warnf("maintenance finished with errors")
	}

	p.Successf("Pruned %d message(s)", report.MessagesPruned)
	p.Successf("Reclaimed %d file(s)", report.FilesReclaimed)
	p.Successf("Marked %d agent(s) offline", report.AgentsOffline)
	p.Successf("Compacted %d event(s)", report.EventsCompacted)
	return err
}
