package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

type DocCmd struct {
	flags *Flags
	raw   bool
}

func NewDocCmd(flags *Flags) *DocCmd {
	return &DocCmd{flags: flags}
}

func (cmd *DocCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "doc",
		Usage: "Documentation for agents using warren",
		Description: `Use 'warren doc agents' to print the conventions agents follow when
coordinating through channels, work queues, and memory.`,
		Commands: []*cli.Command{
			{
				Name:  "agents",
				Usage: "Show the agent coordination guide",
				Description: `Outputs a guide for LLM agents on using warren channels.

The guide is rendered for the terminal unless --raw is set or stdout is
not a terminal.`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "raw",
						Usage:       "print the markdown source",
						Destination: &cmd.raw,
					},
				},
				Action: cmd.runAgents,
			},
		},
	})
	return app
}

func (cmd *DocCmd) runAgents(_ context.Context, c *cli.Command) error {
	return printGuide(c.Root().Writer, agentsGuide, cmd.raw || !term.IsTerminal(int(os.Stdout.Fd())))
}

// printGuide writes markdown to w, rendered with glamour unless raw.
func printGuide(w io.Writer, markdown string, raw bool) error {
	if raw {
		_, err := fmt.Fprintln(w, markdown)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return fmt.Errorf("render guide: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

const agentsGuide = `# Warren Agent Guide

## Identity

Every command that acts for an agent takes ` + "`--agent ID`" + ` or reads ` + "`WARREN_AGENT`" + `.
Register once with your capabilities:
` + "```bash" + `
warren agent register --cap csv --cap pdf $WARREN_AGENT
` + "```" + `

## Channels

Join a channel before writing to it:
` + "```bash" + `
warren channel join ops $WARREN_AGENT
` + "```" + `

## Messages

Every message in a channel has a sequence number. Remember the last one you
read and pass it back with ` + "`--since`" + ` to get only what is new:
` + "```bash" + `
warren msg send ops "starting the nightly import"
warren msg read --since 41 ops
warren msg read --follow --timeout 10m ops
` + "```" + `

Use ` + "`--kind structured`" + ` for JSON payloads other agents parse.

## Work Queue

Files are claimed highest priority first, oldest first on ties. Exactly one
agent gets each file. Always finish what you claim:
` + "```bash" + `
warren queue add --priority 5 ops report.csv
warren queue claim ops           # prints the file as JSON, or nothing
warren queue done FILE_ID        # or: warren queue fail FILE_ID
` + "```" + `

A file left processing past the processing timeout goes back to the queue.

## Memory

Store decisions and context the whole channel should know:
` + "```bash" + `
warren mem set --kind decision ops schema "v2 columns are final"
warren mem get ops schema
` + "```" + `

## Quick Reference

| Command | Description |
|---------|-------------|
| ` + "`warren channel ls`" + ` | List channels |
| ` + "`warren channel show CH`" + ` | Members and counts |
| ` + "`warren msg read --since N CH`" + ` | Messages after sequence N |
| ` + "`warren msg search TEXT`" + ` | Search message bodies |
| ` + "`warren queue claim CH`" + ` | Claim the next file |
| ` + "`warren mem ls CH`" + ` | Channel memory |
| ` + "`warren status`" + ` | System counts |
`
