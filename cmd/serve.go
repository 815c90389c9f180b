package cmd

import (
	"context"
	"errors"
	"fmt"
	"gridjobs/internal/api"
	"gridjobs/internal/config"
	"gridjobs/internal/infra/redisq"
	"gridjobs/internal/ports"
	"gridjobs/internal/registry"
	"gridjobs/internal/storage"
	"gridjobs/internal/usecase"
	"gridjobs/internal/worker"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// orphanGrace keeps the reaper away from workspaces that are still being
// launched.
const orphanGrace = 10 * time.Minute

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the job server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			if port != 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 0, "Port to run the server on (default GRIDJOBS_PORT)")
	return command
}

func serve(ctx context.Context, cfg *config.Config) error {
	catalog, err := buildCatalog(cfg.Jobs)
	if err != nil {
		return err
	}
	store, err := storage.NewOS(cfg.Jobs.ScratchRoot)
	if err != nil {
		return fmt.Errorf("preparing scratch root: %w", err)
	}

	var events ports.EventSink = usecase.LogEvents{}
	if cfg.Redis.Addr != "" {
		cli := redisq.New(cfg.Redis)
		if err := cli.Connect(ctx); err != nil {
			return err
		}
		defer cli.Close()
		events = cli
	}

	var runner worker.Runner
	switch cfg.Jobs.Isolation {
	case config.IsolationProcess:
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating own executable: %w", err)
		}
		runner = worker.Process{Path: exe, Root: store.Root(), Store: store}
	default:
		runner = worker.Inline{Boundary: worker.Boundary{Store: store}}
	}
	pool := worker.NewPool(cfg.Jobs.MaxWorkers, runner, store, events)
	reg := registry.New()

	jobs := usecase.New(usecase.Deps{Registry: reg, Store: store, Executor: pool, Events: events})
	reaper := usecase.Reaper{
		Registry: reg,
		Store:    store,
		Executor: pool,
		Events:   events,
		TTL:      cfg.Jobs.TaskTTL,
		Grace:    orphanGrace,
		Interval: cfg.Jobs.ReapInterval,
	}
	server := api.NewServer(jobs, catalog, cfg.Server)

	log.Info().
		Str("scratch_root", store.Root()).
		Str("isolation", cfg.Jobs.Isolation).
		Int("workers", cfg.Jobs.MaxWorkers).
		Int("operations", len(catalog.All())).
		Msg("job server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := reaper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := pool.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("workers did not stop in time")
	}
	return err
}
