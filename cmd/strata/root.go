package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Schema-driven persistent entities with derived HTTP endpoints",
	Long: `Strata serves typed, versioned entities over a relational store.

Entity types are declared in YAML files; each built entity gets tables,
bounded version history and a set of permission-checked JSON endpoints.

Quick start:
  strata validate   # Check config and entity definitions
  strata serve      # Start the server`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "strata.yaml", "config file path")
}
