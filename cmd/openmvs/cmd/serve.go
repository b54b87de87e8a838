/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only HTTP API",
	Long: `Start the HTTP API over the artifacts written by the pipelines: job
logs, archives, operational logs and pid files.

The API reads files only, so it can run next to a separate spool process.
The catalog endpoint needs the catalog, which a running spool process holds;
pass --catalog only when no spool pipeline is running.

Examples:
  openmvs serve --port 8000
  openmvs serve --api-key mysecretkey`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireContainer(); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("port") {
			cfg.API.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind") {
			cfg.API.Bind, _ = cmd.Flags().GetString("bind")
		}
		if cmd.Flags().Changed("api-key") {
			cfg.API.APIKey, _ = cmd.Flags().GetString("api-key")
		}
		withCatalog, _ := cmd.Flags().GetBool("catalog")

		r := newRunner(cfg)
		defer r.close() //nolint:errcheck

		if withCatalog {
			if err := r.openCatalog(); err != nil {
				return err
			}
		}
		if err := r.addServer(); err != nil {
			return err
		}
		return r.run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8000, "Port to listen on")
	serveCmd.Flags().String("bind", "0.0.0.0", "Address to bind server to")
	serveCmd.Flags().String("api-key", "", "Require this X-API-Key on /api/v1")
	serveCmd.Flags().Bool("catalog", false, "Open the record catalog and serve /api/v1/catalog")
}
