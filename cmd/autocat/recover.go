package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budget-autocat/internal/cli"
	"github.com/Veraticus/budget-autocat/internal/worker"
)

func recoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-categorize transactions left pending",
		Long: `Find transactions still pending, for example after a crash, and
schedule them for categorization again.

With --watch, keep sweeping at the given interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runRecover,
	}

	cmd.Flags().Int("limit", 100, "Maximum pending transactions per sweep")
	cmd.Flags().Duration("watch", 0, "Sweep repeatedly at this interval (e.g. 5m)")

	return cmd
}

func runRecover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	interval, _ := cmd.Flags().GetDuration("watch")
	out := cmd.OutOrStdout()

	p, err := newPipeline(ctx, appConfig, "")
	if err != nil {
		return err
	}
	defer p.Close()

	sweep := func() error {
		pending, err := p.store.GetPendingTransactions(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list pending transactions: %w", err)
		}
		if len(pending) == 0 {
			slog.Debug("No pending transactions")
			return nil
		}

		tally := cli.NewTally(nil)
		d := p.dispatcher(appConfig, func(o worker.Outcome) { tally.Record(o.Label()) })
		for _, txn := range pending {
			d.ScheduleCategorization(txn.ID, txn.Description, txn.OwnerID)
		}
		drainErr := drain(ctx, d)
		fmt.Fprintln(out, tally.Summary())
		return drainErr
	}

	if err := sweep(); err != nil || interval <= 0 {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sweep(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
