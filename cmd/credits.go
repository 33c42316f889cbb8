package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/database/postgres"
)

var creditsCmd = &cobra.Command{
	Use:   "credits <user-id>",
	Short: "Show or adjust a photographer's credit balance",
	Long: `Print a photographer's credit balance and recent ledger entries.

With --adjust, apply a manual correction instead. Adjustments require
a reason and may not take the balance below zero.

Example:
  racepix credits user-42
  racepix credits user-42 --adjust 50 --reason "support goodwill"`,
	Args: cobra.ExactArgs(1),
	RunE: runCredits,
}

func init() {
	rootCmd.AddCommand(creditsCmd)

	creditsCmd.Flags().Int("adjust", 0, "Credit delta to apply (positive or negative)")
	creditsCmd.Flags().String("reason", "", "Reason for the adjustment (required with --adjust)")
}

func runCredits(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	userID := args[0]

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
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

	creditSvc := credits.NewService(postgres.NewLedgerRepository(pool))

	delta := mustGetInt(cmd, "adjust")
	if delta != 0 {
		reason := mustGetString(cmd, "reason")
		if reason == "" {
			return errors.New("--reason is required with --adjust")
		}
		entry, err := creditSvc.AdminAdjust(ctx, userID, delta, reason)
		if err != nil {
			if errors.Is(err, database.ErrInsufficientCredits) {
				return fmt.Errorf("adjustment would make the balance of %s negative", userID)
			}
			return fmt.Errorf("adjusting credits: %w", err)
		}
		fmt.Printf("Adjusted %s by %+d, balance is now %d\n", userID, delta, entry.BalanceAfter)
		return nil
	}

	balance, err := creditSvc.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	entries, err := creditSvc.Recent(ctx, userID, 20)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	fmt.Printf("Balance for %s: %d credits\n", userID, balance)
	if len(entries) > 0 {
		fmt.Println("\nRecent activity:")
		for _, e := range entries {
			fmt.Printf("  %s  %-7s %+5d  (balance %d)  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Type, e.Amount, e.BalanceAfter, e.Reason)
		}
	}
	return nil
}
