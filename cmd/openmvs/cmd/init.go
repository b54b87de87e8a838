/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AdrianIt2306/OpenMVS/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration file",
	Long: `Write a configuration file with default ports, delays and marker
patterns. Directories are placed under --base-dir.

This command will:
- Refuse to overwrite an existing file unless --force is given
- Generate an API key when --api-key is set

Examples:
  openmvs init
  openmvs init --base-dir /srv/openmvs --api-key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		baseDir, _ := cmd.Flags().GetString("base-dir")
		withKey, _ := cmd.Flags().GetBool("api-key")
		force, _ := cmd.Flags().GetBool("force")

		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if config.ConfigExists(configPath) && !force {
			return fmt.Errorf("config %s already exists, use --force to overwrite", configPath)
		}

		cfg, err := config.BootstrapConfig(configPath, baseDir, withKey)
		if err != nil {
			return err
		}

		cmd.Printf("✅ Configuration created at %s\n", configPath)
		cmd.Printf("Output directory: %s\n", cfg.Paths.OutDir)
		cmd.Printf("Log directory: %s\n", cfg.Paths.LogDir)
		if cfg.API.APIKey != "" {
			cmd.Printf("API key: %s\n", cfg.API.APIKey)
		}
		cmd.Printf("\nYou can now start the bridge with:\n  openmvs up --config %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("base-dir", "", "Parent of the spool, logs and pids directories")
	initCmd.Flags().Bool("api-key", false, "Generate an API key for the HTTP API")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}
