package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/tui"
)

type WatchCmd struct {
	flags *Flags
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Watch a channel's messages live",
		UsageText: "warren watch CHANNEL",
		Description: `Opens an interactive view of the channel that shows new messages as
any agent writes them. Press enter to read a message, / to filter,
A to archive the channel, q to quit.`,
		Action: cmd.run,
	})

	return app
}

// IsWatch reports whether args invoke the watch command, so the caller
// can hold log output until the screen is released.
func IsWatch(args []string) bool {
	return len(args) > 0 && args[0] == "watch"
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}
	ref := c.Args().First()

	// fail fast on an unknown channel instead of inside the alt screen
	if _, err := cmd.flags.Service.GetChannel(ctx, ref); err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(cmd.flags.Service, ref), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}

	return nil
}
