/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the spool and watch pipelines and the API",
	Long: `Run every component in one process: the spool pipeline extracting job
logs, the console watcher and, when api.enabled is set, the HTTP API.

The command will:
- Write one pid file per component in paths.pid_dir
- Reconnect to the emulator until interrupted
- Remove the pid files on SIGINT or SIGTERM

Examples:
  openmvs up
  openmvs up --config ./openmvs.yaml --out-dir /srv/spool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireContainer(); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		noAPI, _ := cmd.Flags().GetBool("no-api")

		r := newRunner(cfg)
		defer r.close() //nolint:errcheck

		if err := r.openCatalog(); err != nil {
			return err
		}
		if err := r.addSpool(); err != nil {
			return err
		}
		if err := r.addWatch(); err != nil {
			return err
		}
		if cfg.API.Enabled && !noAPI {
			if err := r.addServer(); err != nil {
				return err
			}
		}

		cmd.Printf("Spool %s, console %s, output %s\n", cfg.Spool.Addr, cfg.Watch.Addr, cfg.Paths.OutDir)
		return r.run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().Bool("no-api", false, "Do not start the HTTP API")
}
