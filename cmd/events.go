package cmd

import (
	"encoding/json"
	"errors"
	"gridjobs/internal/infra/redisq"
	"gridjobs/pkg/backoff"
	"time"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var (
		from   string
		count  int64
		follow bool
	)

	var command = &cobra.Command{
		Use:   "events",
		Short: "Print task lifecycle events from the Redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			if cfg.Redis.Addr == "" {
				return errors.New("Redis_Address is not set; events are only logged by the server")
			}
			cli := redisq.New(cfg.Redis)
			defer cli.Close()
			ctx := cmd.Context()
			if err := cli.Connect(ctx); err != nil {
				return err
			}

			if count <= 0 {
				count = 100
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			last := from
			idle := 0
			for {
				events, next, err := cli.Events(ctx, last, count)
				if err != nil {
					return err
				}
				last = next
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				if !follow {
					if int64(len(events)) < count {
						return nil
					}
					continue
				}
				if len(events) > 0 {
					idle = 0
					continue
				}

				idle++
				t := time.NewTimer(backoff.ExponentialJitter(200*time.Millisecond, 5*time.Second, idle))
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
		},
	}

	command.Flags().StringVar(&from, "from", "0", "Stream id to start after")
	command.Flags().Int64Var(&count, "count", 100, "Entries read per request")
	command.Flags().BoolVar(&follow, "follow", false, "Keep polling for new events")
	return command
}
