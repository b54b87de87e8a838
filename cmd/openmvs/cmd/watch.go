/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the console watcher only",
	Long: `Connect to the emulator console port and log every line, flagging
job submissions ($HASP100) and job ends ($HASP395).

Example:
  openmvs watch --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireContainer(); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		r := newRunner(cfg)
		defer r.close() //nolint:errcheck

		if err := r.addWatch(); err != nil {
			return err
		}
		return r.run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
