package main

import (
	"github.com/spf13/cobra"

	"github.com/stratakit/strata/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the entity server",
	Long: `Start the strata server.

The server will:
  - Load configuration from strata.yaml (or --config)
  - Or load configuration from STRATA_* environment variables
  - Open the configured store (sqlite or postgres)
  - Build every entity declared in the entities directory
  - Serve the derived JSON endpoints

Environment variables (for container deployments):
  STRATA_DATABASE_DRIVER  - sqlite or postgres (default: sqlite)
  STRATA_DATABASE_DSN     - Store DSN (default: strata.db)
  STRATA_ENTITIES_DIR     - Entity definition directory (default: entities)
  STRATA_SERVER_PORT      - Server port (default: 8080)
  STRATA_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  strata serve
  strata serve --config /etc/strata/config.yaml

  # Docker (env vars only):
  STRATA_ENTITIES_DIR=/etc/strata/entities strata serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile})
	if err != nil {
		return err
	}
	return app.Run()
}
