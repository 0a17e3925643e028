package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/printer"
)

type MemCmd struct {
	flags *Flags

	kind       string
	jsonOutput bool
}

// NewMemCmd creates a new mem command
func NewMemCmd(flags *Flags) *MemCmd {
	return &MemCmd{flags: flags}
}

// Register adds the mem command to the application
func (cmd *MemCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "mem",
		Usage: "Read and write channel memory",
		Description: `Channel memory is a key/value store shared by a channel's agents.
Setting an existing key replaces its value and keeps its creation time.`,
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Set a memory entry",
				UsageText: "warren mem set [--kind KIND] CHANNEL KEY VALUE",
				Description: `Kinds: context (default), decision, artifact.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "kind",
						Aliases:     []string{"k"},
						Usage:       "entry kind",
						Destination: &cmd.kind,
					},
				},
				Action: cmd.runSet,
			},
			{
				Name:      "get",
				Usage:     "Print one memory value",
				UsageText: "warren mem get CHANNEL KEY",
				Action:    cmd.runGet,
			},
			{
				Name:      "ls",
				Usage:     "List a channel's memory",
				UsageText: "warren mem ls [--json] CHANNEL",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runLs,
			},
			{
				Name:      "rm",
				Usage:     "Delete a memory entry",
				UsageText: "warren mem rm CHANNEL KEY",
				Action:    cmd.runRm,
			},
		},
	})

	return app
}

func (cmd *MemCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 3 {
		return fmt.Errorf("expected CHANNEL, KEY, and VALUE")
	}

	value := strings.Join(c.Args().Slice()[2:], " ")
	e, err := cmd.flags.Service.SetChannelMemory(ctx, c.Args().Get(0), c.Args().Get(1), value, cmd.kind)
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Set %s (%s)", e.Key, e.Kind)
	return nil
}

func (cmd *MemCmd) runGet(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected CHANNEL and KEY")
	}

	e, err := cmd.flags.Service.GetChannelMemoryEntry(ctx, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.Root().Writer, e.Value)
	return err
}

func (cmd *MemCmd) runLs(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}

	entries, err := cmd.flags.Service.GetChannelMemory(ctx, c.Args().First())
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, entries)
	}
	if len(entries) == 0 {
		printer.Ctx(ctx).Infof("No memory entries")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tKIND\tUPDATED\tVALUE")
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		e := entries[key]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, e.Kind, ago(e.UpdatedAt), preview(e.Value, 60))
	}
	return w.Flush()
}

func (cmd *MemCmd) runRm(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected CHANNEL and KEY")
	}

	if err := cmd.flags.Service.DeleteChannelMemory(ctx, c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Deleted %s", c.Args().Get(1))
	return nil
}

// preview flattens s to one line and cuts it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
