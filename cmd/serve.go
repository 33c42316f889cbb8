package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/cluster"
	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database/postgres"
	"github.com/racepix/racepix/internal/objstore"
	"github.com/racepix/racepix/internal/pipeline"
	"github.com/racepix/racepix/internal/session"
	"github.com/racepix/racepix/internal/vision"
	"github.com/racepix/racepix/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the RacePix API server.
The server accepts photo batch uploads, processes them through the
enrichment pipeline and streams per-session progress over SSE.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
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
	rosterRepo := postgres.NewRosterRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)

	store, err := objstore.NewS3(objstore.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("connecting to object storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("preparing bucket %s: %w", cfg.Storage.Bucket, err)
	}
	fmt.Printf("Object storage ready (bucket %s)\n", cfg.Storage.Bucket)

	provider := vision.NewClient(cfg.Vision.URL)
	labeler, err := vision.NewLabeler(ctx, cfg.Vision.LabelProvider, cfg.Vision.GeminiAPIKey, cfg.Vision.OpenAIToken)
	if err != nil {
		return fmt.Errorf("configuring label provider: %w", err)
	}
	if labeler != nil {
		fmt.Printf("Label detection enabled (%s)\n", labeler.Name())
	}

	creditSvc := credits.NewService(ledgerRepo)
	sessions := session.NewStore(cfg.Pipeline.SessionRetention)
	defer sessions.Close()

	engine := cluster.NewEngine(photoRepo, bibRepo, faceRepo, creditSvc, cfg.Pipeline.ClusterSimilarity)
	scheduler := cluster.NewScheduler(engine, cfg.Pipeline.ClusterDebounce)

	queue := pipeline.NewQueue(ctx, cfg.Pipeline.Workers)
	coordinator := pipeline.NewCoordinator(
		photoRepo, bibRepo, faceRepo, rosterRepo,
		store, provider, labeler, scheduler, &cfg.Pipeline,
	)
	fmt.Printf("Pipeline ready with %d workers\n", cfg.Pipeline.Workers)

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(web.Deps{
		Config:      cfg,
		Photos:      photoRepo,
		Bibs:        bibRepo,
		Faces:       faceRepo,
		Store:       store,
		Credits:     creditSvc,
		Sessions:    sessions,
		Queue:       queue,
		Coordinator: coordinator,
		Scheduler:   scheduler,
	}, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		// Stop accepting work, then drain what is already queued.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		queue.Close()
		scheduler.Close()
	}()

	fmt.Printf("Starting RacePix API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
