package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database/mariadb"
	"github.com/racepix/racepix/internal/database/postgres"
)

var rosterCmd = &cobra.Command{
	Use:   "roster-sync <event-id> [event-id...]",
	Short: "Sync event rosters from the registration system",
	Long: `Copy confirmed registrations for one or more events from the
registration MariaDB into the local roster tables.

The roster is replaced wholesale per event, so the command is safe
to re-run after late registrations or bib reassignments.

Example:
  racepix roster-sync spring-marathon-2026
  racepix roster-sync city-run-10k trail-half`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRosterSync,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
}

func runRosterSync(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Registration.DatabaseDSN == "" {
		return errors.New("REGISTRATION_DATABASE_DSN environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registration, err := mariadb.NewPool(cfg.Registration.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to registration database: %w", err)
	}
	defer registration.Close()

	rosterRepo := postgres.NewRosterRepository(pool)

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetDescription("Syncing rosters"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("events"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	total := 0
	for _, eventID := range args {
		entries, err := registration.FetchRoster(ctx, eventID)
		if err != nil {
			return fmt.Errorf("fetching roster for %s: %w", eventID, err)
		}
		if err := rosterRepo.Replace(ctx, eventID, entries); err != nil {
			return fmt.Errorf("replacing roster for %s: %w", eventID, err)
		}
		total += len(entries)
		_ = bar.Add(1)
	}
	fmt.Printf("\nSynced %d roster entries across %d events\n", total, len(args))
	return nil
}
