package serve

import (
	"context"
	"fmt"
	"os"

	"dominicbreuker/gamenet/cmd/shared"
	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/console"
	"dominicbreuker/gamenet/pkg/instance"
	"dominicbreuker/gamenet/pkg/listen"
	"dominicbreuker/gamenet/pkg/log"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Run a game server",
		Description: shared.GetBaseDescription(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			logger := log.NewLogger(cfg.Verbose)

			if errors := config.Validate(cfg); len(errors) > 0 {
				logger.ErrorMsg("Argument validation errors:")
				for _, err := range errors {
					logger.ErrorMsg(" - %s", err)
				}
				return fmt.Errorf("exiting")
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel, logger)

			return run(ctx, cfg, logger, cmd.Bool(shared.ConsoleFlag))
		},
		Flags: getFlags(),
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, withConsole bool) error {
	inst, err := instance.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("instance.New(): %w", err)
	}
	defer inst.Close()

	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("starting: %w", err)
	}

	if withConsole {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			logger.VerboseMsg("stdin is not a terminal, reading console commands until EOF")
		}
		go func() {
			if err := console.New(inst.Endpoints(), logger).Serve(ctx, os.Stdin, os.Stdout); err != nil {
				logger.ErrorMsg("console: %s", err)
			}
		}()
	}

	// cancellation and deadlines of ctx both end the server cleanly
	if err := inst.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running: %w", err)
	}

	logger.InfoMsg("Shutting down")
	return nil
}

// buildConfig loads the config file if given and applies the flags on top.
func buildConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String(shared.ConfigFlag); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	for _, s := range cmd.StringSlice(shared.EndpointFlag) {
		kind, spec, err := shared.ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		switch kind {
		case listen.TCP:
			cfg.Listen.TCPEndpoints = append(cfg.Listen.TCPEndpoints, spec)
		case listen.UDP:
			cfg.Listen.UDPEndpoints = append(cfg.Listen.UDPEndpoints, spec)
		}
	}

	if fps := int(cmd.Int(shared.FPSFlag)); fps != 0 {
		cfg.Tick.FPS = fps
	}
	if n := int(cmd.Int(shared.MaxCatchUpFlag)); n >= 0 {
		cfg.Tick.MaxCatchUp = n
	}
	if cmd.Bool(shared.VerboseFlag) {
		cfg.Verbose = true
	}

	return cfg, nil
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetServeFlags()...)

	return flags
}
