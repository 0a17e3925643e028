package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/printer"
)

type ChannelCmd struct {
	flags *Flags

	// create flags
	kind        string
	description string

	// join flags
	session string

	// shared
	jsonOutput bool

	// purge flags
	yes bool
}

// NewChannelCmd creates a new channel command
func NewChannelCmd(flags *Flags) *ChannelCmd {
	return &ChannelCmd{flags: flags}
}

// Register adds the channel command to the application
func (cmd *ChannelCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "channel",
		Aliases: []string{"ch"},
		Usage:   "Create and manage channels",
		Description: `Channels are the named spaces agents join to exchange messages,
share files through a work queue, and keep shared memory.

Commands that take a CHANNEL accept either the channel id or its name.`,
		Commands: []*cli.Command{
			cmd.createCmd(),
			cmd.lsCmd(),
			cmd.showCmd(),
			cmd.joinCmd(),
			cmd.archiveCmd(),
			cmd.purgeCmd(),
		},
	})

	return app
}

func (cmd *ChannelCmd) jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.jsonOutput,
	}
}

func (cmd *ChannelCmd) createCmd() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a channel",
		UsageText: "warren channel create [options] NAME",
		Description: `Creates a channel. Names are unique, ignoring case.

Kinds: general (default), private, public, meeting, support.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kind",
				Aliases:     []string{"k"},
				Usage:       "channel kind",
				Destination: &cmd.kind,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "channel description",
				Destination: &cmd.description,
			},
			cmd.jsonFlag(),
		},
		Action: cmd.runCreate,
	}
}

func (cmd *ChannelCmd) lsCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List channels",
		UsageText: "warren channel ls [--json]",
		Flags:     []cli.Flag{cmd.jsonFlag()},
		Action:    cmd.runLs,
	}
}

func (cmd *ChannelCmd) showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a channel's members and counts",
		UsageText: "warren channel show [--json] CHANNEL",
		Flags:     []cli.Flag{cmd.jsonFlag()},
		Action:    cmd.runShow,
	}
}

func (cmd *ChannelCmd) joinCmd() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "Add an agent to a channel",
		UsageText: "warren channel join [--session ID] CHANNEL AGENT",
		Description: `Adds AGENT to CHANNEL. The membership records the host session the
agent runs in; without --session one is generated. Joining again keeps
the original membership.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Aliases:     []string{"s"},
				Usage:       "host session id to record on the membership",
				Sources:     cli.EnvVars("WARREN_SESSION_ID"),
				Destination: &cmd.session,
			},
		},
		Action: cmd.runJoin,
	}
}

func (cmd *ChannelCmd) archiveCmd() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "Archive a channel",
		UsageText: "warren channel archive CHANNEL",
		Description: `Archived channels keep their history but reject new messages,
members, and queued files.`,
		Action: cmd.runArchive,
	}
}

func (cmd *ChannelCmd) purgeCmd() *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "Delete a channel and everything in it",
		UsageText: "warren channel purge [--yes] CHANNEL",
		Description: `Deletes the channel with its messages, queued files, and memory.
This cannot be undone.

The purge is not atomic. Rows are removed table by table and the channel
record goes last, so if a purge fails partway the channel is still listed
with some of its data already gone. Run the purge again until it succeeds;
each run reports only what it removed. ` + "`warren doctor --fix`" + ` also clears
rows left behind by a channel that no longer exists.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "skip the confirmation prompt",
				Destination: &cmd.yes,
			},
		},
		Action: cmd.runPurge,
	}
}

func (cmd *ChannelCmd) runCreate(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel name")
	}

	ch, err := cmd.flags.Service.CreateChannel(ctx, c.Args().First(), cmd.kind, cmd.description)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, ch)
	}
	printer.Ctx(ctx).Success("Created channel "+ch.Name, ch.ID)
	return nil
}

func (cmd *ChannelCmd) runLs(ctx context.Context, c *cli.Command) error {
	channels, err := cmd.flags.Service.ListChannels(ctx)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, channels)
	}
	if len(channels) == 0 {
		printer.Ctx(ctx).Infof("No channels found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tSTATUS\tMEMBERS\tCREATED\tID")
	for _, ch := range channels {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ch.Name, ch.Kind, ch.Status, len(ch.Members), ago(ch.CreatedAt), ch.ID)
	}
	return w.Flush()
}

func (cmd *ChannelCmd) runShow(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}

	st, err := cmd.flags.Service.GetChannelStatus(ctx, c.Args().First())
	if err != nil {
		return err
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(out, st)
	}

	p := printer.New(out)
	ch := st.Channel
	p.Section(ch.Name)
	p.Printf("  id:          %s", ch.ID)
	p.Printf("  kind:        %s", ch.Kind)
	p.Printf("  status:      %s", ch.Status)
	if ch.Description != "" {
		p.Printf("  description: %s", ch.Description)
	}
	p.Printf("  created:     %s", ago(ch.CreatedAt))
	p.Printf("  updated:     %s", ago(st.UpdatedAt))
	p.Printf("  messages:    %d (last #%d, %s)", st.MessageCount, st.LastSequence, ago(st.LastMessageAt))
	p.Printf("  queue:       %d queued, %d processing, %d done, %d failed",
		st.Queue.Queued, st.Queue.Processing, st.Queue.Done, st.Queue.Failed)
	p.Printf("  memory:      %d entries", st.MemoryCount)

	if len(ch.Members) == 0 {
		return nil
	}
	p.Printf("")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  AGENT\tSESSION\tJOINED")
	for _, m := range ch.Members {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", m.AgentID, m.SessionID, ago(m.JoinedAt))
	}
	return w.Flush()
}

func (cmd *ChannelCmd) runJoin(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected CHANNEL and AGENT")
	}

	m, err := cmd.flags.Service.AddUserToChannel(ctx, c.Args().Get(0), c.Args().Get(1), cmd.session)
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("%s joined %s (session %s)", m.AgentID, c.Args().Get(0), m.SessionID)
	return nil
}

func (cmd *ChannelCmd) runArchive(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}

	ch, err := cmd.flags.Service.ArchiveChannel(ctx, c.Args().First())
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Archived %s", ch.Name)
	return nil
}

func (cmd *ChannelCmd) runPurge(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}
	p := printer.Ctx(ctx)
	ref := c.Args().First()

	ch, err := cmd.flags.Service.GetChannel(ctx, ref)
	if err != nil {
		return err
	}

	if !cmd.yes {
		ok, err := confirmPurge(ch)
		if err != nil {
			return err
		}
		if !ok {
			p.Infof("Aborted")
			return nil
		}
	}

	res, err := cmd.flags.Service.PurgeChannel(ctx, ch.ID)
	if err != nil {
		return err
	}
	p.Success("Purged "+res.Channel.Name,
		fmt.Sprintf("%d messages, %d files, %d memory entries", res.Messages, res.Files, res.MemoryEntries))
	return nil
}

// confirmPurge asks before deleting. Without a terminal it refuses so
// scripts must pass --yes.
func confirmPurge(ch channel.Channel) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to purge %s without a terminal; pass --yes", ch.Name)
	}

	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Purge channel %q?", ch.Name)).
		Description("Messages, queued files, and memory are deleted permanently.").
		Affirmative("Purge").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirm purge: %w", err)
	}
	return ok, nil
}
