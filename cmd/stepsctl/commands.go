package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"example.com/steps/internal/api"
	"example.com/steps/internal/config"
	"example.com/steps/internal/domain"
	"example.com/steps/internal/ingest"
	"example.com/steps/internal/logging"
	"example.com/steps/internal/persistence/memory"
	persistence "example.com/steps/internal/persistence/postgres"
)

var (
	dryRun    bool
	trendDate string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Parse an export file and replace its date range in the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var store domain.RecordWriter = memory.New()
		if !dryRun {
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			store = persistence.NewRepository(pool)
		}

		pipeline := ingest.NewPipeline(nil, store, ingest.WithLogger(logger))
		res, err := pipeline.IngestBytes(ctx, args[0], raw)
		if err != nil {
			return err
		}
		if res.Empty {
			fmt.Fprintln(cmd.OutOrStdout(), "no step records found")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records for %s\n", res.Observations, res.Range)
		return nil
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Print weekly, monthly and yearly step trends as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		pool, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		service := domain.NewTrendService(persistence.NewRepository(pool), domain.WithLocation(cfg.Location()))
		today := service.Today()
		if trendDate != "" {
			today, err = time.Parse(domain.DateLayout, trendDate)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
		}

		trends, err := service.Trends(ctx, today)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(api.NewTrendsResponse(trends))
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and replace into an in-memory store only")
	trendsCmd.Flags().StringVar(&trendDate, "date", "", "evaluate windows as of this day (YYYY-MM-DD)")
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if postgresURL != "" {
		cfg.PostgresURL = postgresURL
	}
	logger, _, err := logging.New(logging.Options{Level: cfg.LogLevel, Service: "stepsctl"})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := persistence.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pool, nil
}
