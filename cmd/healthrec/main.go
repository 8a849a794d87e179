package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/healthrec/internal/config"
	"github.com/kailas-cloud/healthrec/internal/version"
)

var envName string

var rootCmd = &cobra.Command{
	Use:   "healthrec",
	Short: "Health and community service recommender",
	Long: `healthrec matches a free-text description of a health or social-support need
against a catalog of community services and explains the best matches.

Configuration is read from config/<env>.yaml; a .env file in the working
directory is loaded first.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "",
		"config environment (local, prod); defaults to $ENV or local")

	rootCmd.AddCommand(serveCmd, recommendCmd, questionsCmd, catalogCmd)
}

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func currentEnv() string {
	if envName != "" {
		return envName
	}
	return config.GetEnv()
}
