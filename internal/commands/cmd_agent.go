package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/printer"
)

type AgentCmd struct {
	flags *Flags

	capabilities []string
	jsonOutput   bool
}

// NewAgentCmd creates a new agent command
func NewAgentCmd(flags *Flags) *AgentCmd {
	return &AgentCmd{flags: flags}
}

// Register adds the agent command to the application
func (cmd *AgentCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "agent",
		Usage: "Register agents and show their presence",
		Description: `Agents are created on registration or on their first action in a
channel. An agent with no activity for retention.agent_timeout is marked
offline by maintenance.`,
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register an agent and its capabilities",
				UsageText: "warren agent register [--cap CAP...] AGENT",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:        "cap",
						Usage:       "capability the agent offers (repeatable)",
						Destination: &cmd.capabilities,
					},
				},
				Action: cmd.runRegister,
			},
			{
				Name:      "ls",
				Usage:     "List agents",
				UsageText: "warren agent ls [--json]",
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
				Name:      "offline",
				Usage:     "Mark an agent offline",
				UsageText: "warren agent offline AGENT",
				Action:    cmd.runOffline,
			},
		},
	})

	return app
}

func (cmd *AgentCmd) runRegister(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one agent id")
	}

	s, err := cmd.flags.Service.RegisterAgent(ctx, c.Args().First(), cmd.capabilities)
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Registered %s (%s)", s.ID, s.Status)
	return nil
}

func (cmd *AgentCmd) runLs(ctx context.Context, c *cli.Command) error {
	agents, err := cmd.flags.Service.ListAgents(ctx)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, agents)
	}
	if len(agents) == 0 {
		printer.Ctx(ctx).Infof("No agents found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGENT\tSTATUS\tCHANNEL\tLAST SEEN\tCAPABILITIES")
	for _, a := range agents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Status, orDash(a.CurrentChannel), ago(a.LastActivity), orDash(strings.Join(a.Capabilities, ",")))
	}
	return w.Flush()
}

func (cmd *AgentCmd) runOffline(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one agent id")
	}

	s, err := cmd.flags.Service.MarkAgentOffline(ctx, c.Args().First())
	if err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("%s is offline", s.ID)
	return nil
}
