/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// spoolCmd represents the spool command
var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Run the spool pipeline only",
	Long: `Connect to the emulator printer port, archive every session and write
each job log to its own file in the output directory.

Example:
  openmvs spool --out-dir ./spool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireContainer(); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		noCatalog, _ := cmd.Flags().GetBool("no-catalog")

		r := newRunner(cfg)
		defer r.close() //nolint:errcheck

		if !noCatalog {
			if err := r.openCatalog(); err != nil {
				return err
			}
		}
		if err := r.addSpool(); err != nil {
			return err
		}
		return r.run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(spoolCmd)
	spoolCmd.Flags().Bool("no-catalog", false, "Do not record closed job logs in the catalog")
}
