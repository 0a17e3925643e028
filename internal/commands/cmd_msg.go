package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/warren/internal/core/messaging"
)

const followPollInterval = 500 * time.Millisecond

type MsgCmd struct {
	flags *Flags

	// send flags
	sendAgent string
	sendKind  string
	sendFile  string

	// read flags
	readSince   int64
	readLast    int
	readFollow  bool
	readTimeout time.Duration

	// search flags
	searchChannel string
	searchLimit   int
}

// NewMsgCmd creates a new msg command
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the msg command to the application
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "msg",
		Usage: "Send and read channel messages",
		Description: `Messages are ordered per channel by a sequence number starting at 1.
Output is one JSON object per line.`,
		Commands: []*cli.Command{
			cmd.sendCmd(),
			cmd.readCmd(),
			cmd.searchCmd(),
		},
	})

	return app
}

func (cmd *MsgCmd) sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message to a channel",
		UsageText: "warren msg send --agent ID [options] CHANNEL [MESSAGE]",
		Description: `Sends a message as the given agent, who must be a channel member.

The body comes from the MESSAGE argument, --file, or stdin, in that order.
Kinds: text (default), structured (body must be JSON), system.

Examples:
  warren msg send --agent alice ops "deploy finished"
  echo '{"step":3}' | warren msg send --agent alice --kind structured ops`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "agent",
				Aliases:     []string{"a"},
				Usage:       "sending agent id",
				Sources:     cli.EnvVars("WARREN_AGENT"),
				Required:    true,
				Destination: &cmd.sendAgent,
			},
			&cli.StringFlag{
				Name:        "kind",
				Aliases:     []string{"k"},
				Usage:       "message kind (text, structured, system)",
				Destination: &cmd.sendKind,
			},
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read the body from a file",
				Destination: &cmd.sendFile,
			},
		},
		Action: cmd.runSend,
	}
}

func (cmd *MsgCmd) readCmd() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Read a channel's messages",
		UsageText: "warren msg read [options] CHANNEL",
		Description: `Prints messages with a sequence number greater than --since.

With --follow, keeps polling for new messages until interrupted or until
--timeout elapses.`,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "since",
				Aliases:     []string{"s"},
				Usage:       "only messages after this sequence number",
				Destination: &cmd.readSince,
			},
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "only the last N messages",
				Destination: &cmd.readLast,
			},
			&cli.BoolFlag{
				Name:        "follow",
				Aliases:     []string{"F"},
				Usage:       "keep printing new messages",
				Destination: &cmd.readFollow,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "stop following after this long (0 waits forever)",
				Destination: &cmd.readTimeout,
			},
		},
		Action: cmd.runRead,
	}
}

func (cmd *MsgCmd) searchCmd() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search message bodies",
		UsageText: "warren msg search [options] TEXT",
		Description: `Finds messages whose body contains TEXT, ignoring case, newest first.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "channel",
				Aliases:     []string{"c"},
				Usage:       "limit the search to one channel",
				Destination: &cmd.searchChannel,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"l"},
				Usage:       "maximum results (at most 100)",
				Value:       20,
				Destination: &cmd.searchLimit,
			},
		},
		Action: cmd.runSearch,
	}
}

func (cmd *MsgCmd) runSend(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("expected a channel")
	}

	body, err := cmd.readBody(c)
	if err != nil {
		return err
	}

	msg, err := cmd.flags.Service.AddMessage(ctx, c.Args().Get(0), cmd.sendAgent, body, cmd.sendKind)
	if err != nil {
		return err
	}
	return printMessages(c.Root().Writer, []messaging.Message{msg})
}

func (cmd *MsgCmd) readBody(c *cli.Command) (string, error) {
	switch {
	case c.NArg() >= 2:
		return strings.Join(c.Args().Slice()[1:], " "), nil
	case cmd.sendFile != "":
		data, err := os.ReadFile(cmd.sendFile)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	default:
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return "", fmt.Errorf("no message provided (stdin is a terminal); pass MESSAGE, use --file, or pipe input")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}

func (cmd *MsgCmd) runRead(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one channel")
	}
	ref := c.Args().First()

	messages, err := cmd.flags.Service.GetMessages(ctx, ref, cmd.readSince)
	if err != nil {
		return err
	}
	if cmd.readLast > 0 && len(messages) > cmd.readLast {
		messages = messages[len(messages)-cmd.readLast:]
	}
	if err := printMessages(c.Root().Writer, messages); err != nil {
		return err
	}

	if !cmd.readFollow {
		return nil
	}

	cursor := cmd.readSince
	if len(messages) > 0 {
		cursor = messages[len(messages)-1].Sequence
	} else if st, err := cmd.flags.Service.GetChannelStatus(ctx, ref); err == nil && cursor < st.LastSequence {
		cursor = st.LastSequence
	}
	return cmd.follow(ctx, c, ref, cursor)
}

// follow polls for messages after cursor. The store is shared between
// processes, so polling is the only way to observe other writers.
func (cmd *MsgCmd) follow(ctx context.Context, c *cli.Command, ref string, cursor int64) error {
	if cmd.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.readTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			messages, err := cmd.flags.Service.GetMessages(ctx, ref, cursor)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
			if len(messages) == 0 {
				continue
			}
			if err := printMessages(c.Root().Writer, messages); err != nil {
				return err
			}
			cursor = messages[len(messages)-1].Sequence
		}
	}
}

func (cmd *MsgCmd) runSearch(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("expected search text")
	}

	text := strings.Join(c.Args().Slice(), " ")
	messages, err := cmd.flags.Service.SearchMessages(ctx, text, cmd.searchChannel, cmd.searchLimit)
	if err != nil {
		return err
	}
	return printMessages(c.Root().Writer, messages)
}

func printMessages(w io.Writer, messages []messaging.Message) error {
	enc := json.NewEncoder(w)
	for _, msg := range messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}
