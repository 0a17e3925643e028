package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/server"
	"github.com/hay-kot/warren/internal/telemetry"
)

type ServeCmd struct {
	flags   *Flags
	version string
	addr    string
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags, version string) *ServeCmd {
	return &ServeCmd{flags: flags, version: version}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run maintenance and serve health, status, and metrics",
		UsageText: "warren serve [--addr HOST:PORT]",
		Description: `Runs the retention pass every retention.maintenance_interval and
serves /healthz, /status, and /metrics until interrupted.

Traces are exported when telemetry.otlp_endpoint is set.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides server.addr)",
				Sources:     cli.EnvVars("WARREN_ADDR"),
				Destination: &cmd.addr,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cmd.flags.Config
	logger := log.With().Str("component", "server").Logger()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cmd.version, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	addr := cmd.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	go cmd.flags.Service.RunMaintenance(ctx, cfg.Retention.MaintenanceInterval)

	return server.Serve(ctx, addr, server.NewRouter(cmd.flags.Service, logger), logger)
}
