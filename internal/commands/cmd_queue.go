package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/printer"
)

type QueueCmd struct {
	flags *Flags

	// add flags
	priority   int
	assignTo   string
	glob       string
	jsonOutput bool

	// claim/done/fail flags
	agent string

	// ls flags
	status string
}

// NewQueueCmd creates a new queue command
func NewQueueCmd(flags *Flags) *QueueCmd {
	return &QueueCmd{flags: flags}
}

// Register adds the queue command to the application
func (cmd *QueueCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Share files between agents through a channel work queue",
		Description: `Each channel has a work queue of files. Agents claim the highest
priority queued file; ties go to the oldest. A file is claimed by at most
one agent at a time.`,
		Commands: []*cli.Command{
			cmd.addCmd(),
			cmd.claimCmd(),
			cmd.doneCmd(),
			cmd.failCmd(),
			cmd.lsCmd(),
		},
	})

	return app
}

func (cmd *QueueCmd) agentFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "agent",
		Aliases:     []string{"a"},
		Usage:       "agent id",
		Sources:     cli.EnvVars("WARREN_AGENT"),
		Required:    true,
		Destination: &cmd.agent,
	}
}

func (cmd *QueueCmd) addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Queue files for processing",
		UsageText: "warren queue add [options] CHANNEL [PATH...]",
		Description: `Queues each PATH, or every file matching --glob, on the channel.

Examples:
  warren queue add --priority 5 ops report.csv
  warren queue add --glob 'inbox/**/*.csv' --assign parser ops`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "priority",
				Aliases:     []string{"p"},
				Usage:       "claim priority; higher is claimed first",
				Destination: &cmd.priority,
			},
			&cli.StringFlag{
				Name:        "assign",
				Usage:       "reserve the files for one agent",
				Destination: &cmd.assignTo,
			},
			&cli.StringFlag{
				Name:        "glob",
				Aliases:     []string{"g"},
				Usage:       "queue every file matching a doublestar pattern",
				Destination: &cmd.glob,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.runAdd,
	}
}

func (cmd *QueueCmd) claimCmd() *cli.Command {
	return &cli.Command{
		Name:      "claim",
		Usage:     "Claim the next file",
		UsageText: "warren queue claim --agent ID CHANNEL",
		Description: `Claims the next file for the agent and prints it as JSON.
Prints nothing and exits 0 when the queue is empty.`,
		Flags:  []cli.Flag{cmd.agentFlag()},
		Action: cmd.runClaim,
	}
}

func (cmd *QueueCmd) doneCmd() *cli.Command {
	return &cli.Command{
		Name:      "done",
		Usage:     "Mark a claimed file as done",
		UsageText: "warren queue done --agent ID FILE_ID",
		Flags:     []cli.Flag{cmd.agentFlag()},
		Action:    cmd.runDone,
	}
}

func (cmd *QueueCmd) failCmd() *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Mark a claimed file as failed",
		UsageText: "warren queue fail --agent ID FILE_ID",
		Flags:     []cli.Flag{cmd.agentFlag()},
		Action:    cmd.runFail,
	}
}

func (cmd *QueueCmd) lsCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a channel's queue in claim order",
		UsageText: "warren queue ls [--status STATUS] CHANNEL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "status",
				Aliases:     []string{"s"},
				Usage:       "only files in this status (QUEUED, PROCESSING, DONE, FAILED)",
				Destination: &cmd.status,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.runLs,
	}
}

func (cmd *QueueCmd) runAdd(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("expected a channel")
	}
	ref := c.Args().First()

	paths, err := cmd.collectPaths(c.Args().Slice()[1:])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files to queue; pass PATH arguments or --glob")
	}

	var added []queue.File
	for _, path := range paths {
		f, err := cmd.flags.Service.AddFileToQueue(ctx, ref, path, cmd.priority, cmd.assignTo)
		if err != nil {
			return fmt.Errorf("queue %s: %w", path, err)
		}
		added = append(added, f)
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, added)
	}
	p := printer.Ctx(ctx)
	for _, f := range added {
		p.Successf("Queued %s (%s, priority %d)", f.Name, humanize.Bytes(uint64(max(f.Size, 0))), f.Priority)
	}
	return nil
}

// collectPaths merges explicit paths with --glob matches, resolving each
// to an absolute path.
func (cmd *QueueCmd) collectPaths(args []string) ([]string, error) {
	paths := append([]string(nil), args...)

	if cmd.glob != "" {
		matches, err := doublestar.FilepathGlob(cmd.glob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand glob %q: %w", cmd.glob, err)
		}
		paths = append(paths, matches...)
	}

	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		paths[i] = abs
	}
	return paths, nil
}

func (cmd *QueueCmd) runClaim(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}

	f, err := cmd.flags.Service.GetNextFileFromQueue(ctx, c.Args().First(), cmd.agent)
	if err != nil {
		return err
	}
	if f == nil {
		return nil
	}
	return writeJSON(c.Root().Writer, f)
}

func (cmd *QueueCmd) runDone(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file id")
	}

	f, err := cmd.flags.Service.CompleteFile(ctx, c.Args().First(), cmd.agent)
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("%s done", f.Name)
	return nil
}

func (cmd *QueueCmd) runFail(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file id")
	}

	f, err := cmd.flags.Service.FailFile(ctx, c.Args().First(), cmd.agent)
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Warnf("%s failed", f.Name)
	return nil
}

func (cmd *QueueCmd) runLs(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}

	status, err := queue.ParseStatus(cmd.status)
	if err != nil {
		return err
	}

	files, err := cmd.flags.Service.ListQueue(ctx, c.Args().First(), status)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, files)
	}
	if len(files) == 0 {
		printer.Ctx(ctx).Infof("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRIO\tSTATUS\tNAME\tSIZE\tASSIGNED\tQUEUED\tID")
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.Priority, f.Status, f.Name, humanize.Bytes(uint64(max(f.Size, 0))),
			orDash(f.AssignedTo), ago(f.CreatedAt), f.ID)
	}
	return w.Flush()
}
