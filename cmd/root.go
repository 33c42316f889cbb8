package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "racepix",
	Short: "Photo ingestion and enrichment backend for race photography",
	Long: `RacePix ingests photographer uploads for running events and enriches
them asynchronously: renditions, quality scoring, bib number OCR,
face indexing, smart crops and face-based clustering that links
bib-less photos to runners.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
