package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run only the worker pool against a shared queue and store",
		Long: `work consumes jobs from a queue shared with a separate "serve" process.
It requires queue.driver=pubsub and a durable store (sqlite or postgres).`,
		RunE: runWork,
	}
}

func runWork(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	if rt.cfg.Queue.Driver == "memory" || rt.cfg.Store.Driver == "memory" {
		return fmt.Errorf("work needs a shared queue and store; got queue.driver=%s store.driver=%s",
			rt.cfg.Queue.Driver, rt.cfg.Store.Driver)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	a.RunWorkers(ctx)
	rt.logger.Info("workers stopped")
	return nil
}
