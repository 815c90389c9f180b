package cmd

import (
	"gridjobs/internal/config"
	"gridjobs/internal/domain"
	"gridjobs/internal/storage"
	"gridjobs/internal/worker"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// workCmd is the child side of process isolation. It runs one task through
// the boundary and exits non-zero only when no terminal record could be
// written.
func workCmd() *cobra.Command {
	var root, opName, id string

	var command = &cobra.Command{
		Use:    "work",
		Short:  "Run a single task (started by the server)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.With().Str("task_id", id).Str("op", opName).Int("pid", os.Getpid()).Logger()
			ctx = logger.WithContext(ctx)

			store, err := storage.NewOS(root)
			if err != nil {
				return err
			}
			op, err := resolveOperation(cfg.Jobs, opName)
			if err != nil {
				// the server reads the failure record, not the exit status
				return store.RecordFailure(id, err.Error())
			}

			status, err := worker.Boundary{Store: store}.Run(ctx, domain.Task{ID: id, Op: op.Name}, op)
			if err != nil {
				return err
			}
			logger.Debug().Msgf("task recorded as %s", status)
			return nil
		},
	}

	command.Flags().StringVar(&root, "root", "", "Scratch root holding the task workspace")
	command.Flags().StringVar(&opName, "op", "", "Operation name")
	command.Flags().StringVar(&id, "id", "", "Task id")
	for _, name := range []string{"root", "op", "id"} {
		_ = command.MarkFlagRequired(name)
	}
	return command
}

func resolveOperation(cfg config.Jobs, name string) (domain.Operation, error) {
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return domain.Operation{}, err
	}
	return catalog.Get(name)
}
