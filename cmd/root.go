package cmd

import (
	"context"
	"fmt"
	"gridjobs/internal/config"
	"gridjobs/internal/infra/ops"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Run() {
	var command = &cobra.Command{
		Use:   "gridjobs",
		Short: "Asynchronous job server for grid model conversions and solver runs",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(serveCmd())
	command.AddCommand(workCmd())
	command.AddCommand(submitCmd())
	command.AddCommand(statusCmd())
	command.AddCommand(stopCmd())
	command.AddCommand(opsCmd())
	command.AddCommand(eventsCmd())

	if err := command.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

// setup loads the configuration and configures the global logger from it.
func setup() *config.Config {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.DefaultContextLogger = &log.Logger
	return cfg
}

func buildCatalog(cfg config.Jobs) (*ops.Catalog, error) {
	catalog := ops.NewCatalog()
	if err := catalog.RegisterBuiltins(ops.Builtins{
		NOAABaseURL:    cfg.NOAABaseURL,
		WeatherTimeout: cfg.WeatherTimeout,
	}); err != nil {
		return nil, err
	}
	if cfg.OpsFile != "" {
		if err := catalog.LoadFile(cfg.OpsFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", cfg.OpsFile, err)
		}
	}
	return catalog, nil
}
