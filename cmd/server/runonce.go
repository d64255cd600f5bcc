package main

import (
	"github.com/spf13/cobra"

	"github.com/web3-frozen/onchain-alerts/internal/dedup"
	"github.com/web3-frozen/onchain-alerts/internal/monitor"
	"github.com/web3-frozen/onchain-alerts/internal/telegram"
)

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single alert evaluation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			if err := cfg.RequireBot(); err != nil {
				return err
			}

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			api, err := telegram.NewAPI(cfg.TelegramToken)
			if err != nil {
				return err
			}
			data := newAnalytics(cfg)
			bot := telegram.NewBot(api, db, data, nil, logger)

			var opts []monitor.Option
			if rdb, err := dedup.Connect(cfg.RedisURL, cfg.RedisPassword); err != nil {
				logger.Warn("redis unavailable, running without delivery ledger", "error", err)
			} else {
				defer rdb.Close()
				opts = append(opts, monitor.WithLedger(dedup.New(rdb, logger)))
			}

			scheduler := monitor.NewScheduler(db, data, monitor.NewNotifier(bot, logger), logger, opts...)
			sum, err := scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			logger.Info("pass complete", "run_id", sum.RunID, "sent", sum.Sent, "failed", sum.Failed)
			return nil
		},
	}
}
