package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediant-lab/mediant/internal/datagen"
	"github.com/spf13/cobra"
)

func main() {
	cfg := datagen.Config{}

	root := &cobra.Command{
		Use:   "mediant-datagen",
		Short: "Synthetic detail-record load generator",
		Long: `mediant-datagen streams synthetic detail records at a mediant ingest
endpoint, injecting missing, duplicate, delayed and ancient records so every
decision path of the engine gets exercised under load.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			gen, err := datagen.NewGenerator(cfg, datagen.NewHTTPSender(cfg.TargetURL))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return gen.Run(ctx)
		},
	}

	flags := root.Flags()
	flags.IntVar(&cfg.Users, "users", 100, "number of concurrent subscribers to simulate")
	flags.IntVar(&cfg.RatePerSecond, "rate", 1000, "records per second across all users")
	flags.DurationVar(&cfg.Duration, "duration", 60*time.Second, "how long to run (0 = until interrupted)")
	flags.Float64Var(&cfg.MissingRatio, "missing-ratio", 0.01, "chance a record is never delivered")
	flags.Float64Var(&cfg.DupRatio, "dup-ratio", 0.01, "chance a record is delivered multiple times")
	flags.Float64Var(&cfg.LateRatio, "late-ratio", 0.01, "chance a record is held back and delivered late")
	flags.Float64Var(&cfg.EpochRatio, "epoch-ratio", 0.001, "chance a record is stamped far in the past")
	flags.Int64Var(&cfg.Offset, "offset", 0, "session id offset for running multiple generators")
	flags.StringVar(&cfg.TargetURL, "target", "http://localhost:8080/v1/records", "ingest endpoint URL")

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("Generator failed", "error", err)
		os.Exit(1)
	}
}
