// Package cmd implements the command-line interface: a serve command that
// runs a node and read commands that query a running node over JSON-RPC.
package cmd

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	debug      bool
	serverAddr string

	rootCmd = &cobra.Command{
		Use:   "quarryd",
		Short: "A horizontally scalable web scraping platform",
		Long: `quarryd runs scrapers on a schedule through a priority task queue.
Every node serves the JSON-RPC API, competes for the scheduler lease and
consumes tasks with its worker pool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Environment variables from .env feed config overrides.
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8080",
		"base URL of the node to query")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(scrapersCommand())
	rootCmd.AddCommand(tasksCommand())
}
