package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "docs4u-sync",
		Short: "Push crawled documents into a Docs4U repository",
		Long: `docs4u-sync maps document access tokens and metadata onto a Docs4U repository
and keeps it in step with upserts and removals.

Configuration comes from the environment, optionally loaded from ENV_FILE (default .env).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCmd(),
		checkCmd(),
		describeCmd(),
		installCmd(),
		deinstallCmd(),
		purgeCmd(),
		repoCmd(),
	)

	loadEnv()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadEnv() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Debug("The .env file not found.")
	}
}

func setupLogging() {
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}
