package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratakit/strata/config"
	"github.com/stratakit/strata/core/schema"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and entity definitions",
	Long: `Validate the strata configuration and entity definition files.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Every entity definition parses and validates

Examples:
  strata validate
  strata validate --config /etc/strata/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	specs, err := schema.ParseDir(cfg.Entities.Dir)
	if err != nil {
		fmt.Printf("  %s Entity definitions valid\n", crossMark)
		return fmt.Errorf("entity definitions: %w", err)
	}
	fmt.Printf("  %s Entity definitions valid\n", checkMark)

	fmt.Printf("\nConfiguration valid\n")
	fmt.Printf("  Driver:   %s\n", cfg.Database.Driver)
	fmt.Printf("  Entities: %d in %s\n", len(specs), cfg.Entities.Dir)
	for _, spec := range specs {
		versioned := "unversioned"
		if spec.Versioning != nil {
			versioned = fmt.Sprintf("retain %d %s", spec.Versioning.Amount, spec.Versioning.Kind)
		}
		fmt.Printf("    - %s (%d columns, %s)\n", spec.Name, len(spec.Columns), versioned)
	}

	return nil
}
