package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/cluster"
	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database/postgres"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <event-id>",
	Short: "Run a face clustering pass for an event",
	Long: `Run one clustering pass over an event's processed photos.

Photos with indexed faces but no bib numbers are matched against
bib-tagged photos of the same event; matches above the similarity
threshold get the bib assigned. Photos that stay unlinked are
refunded to their uploader, at most once per photo.

The server schedules these passes automatically after uploads; the
command exists for backfills and for re-running after a roster sync.`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	eventID := args[0]

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

	photoRepo := postgres.NewPhotoRepository(pool)
	bibRepo := postgres.NewBibRepository(pool)
	faceRepo := postgres.NewFaceRepository(pool)
	creditSvc := credits.NewService(postgres.NewLedgerRepository(pool))

	engine := cluster.NewEngine(photoRepo, bibRepo, faceRepo, creditSvc, cfg.Pipeline.ClusterSimilarity)

	fmt.Printf("Clustering event %s...\n", eventID)
	summary, err := engine.Run(ctx, eventID)
	if err != nil {
		return fmt.Errorf("clustering event %s: %w", eventID, err)
	}

	fmt.Printf("Photos linked:     %d\n", summary.PhotosLinked)
	fmt.Printf("Bibs assigned:     %d\n", summary.NewBibsAssigned)
	fmt.Printf("Credits refunded:  %d\n", summary.CreditsRefunded)
	return nil
}
