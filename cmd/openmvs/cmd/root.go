/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AdrianIt2306/OpenMVS/pkg/config"
	"github.com/AdrianIt2306/OpenMVS/pkg/di"
)

var container *di.Container

// SetContainer injects the dependency container used by every command
func SetContainer(c *di.Container) {
	container = c
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "openmvs",
	Short: "OpenMVS - mainframe spool and console bridge",
	Long: `OpenMVS connects to the printer and console ports of a mainframe
emulator, extracts every job log from the spool stream into its own file
and reports job lifecycle events seen on the console.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ~/.config/openmvs/config.yaml)")
	rootCmd.PersistentFlags().String("out-dir", "", "Directory for job logs and archives")
	rootCmd.PersistentFlags().String("log-dir", "", "Directory for operational logs")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file and applies the global flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("out-dir"); v != "" {
		cfg.Paths.OutDir = v
	}
	if v, _ := cmd.Flags().GetString("log-dir"); v != "" {
		cfg.Paths.LogDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireContainer() error {
	if container == nil {
		return fmt.Errorf("dependency container not initialized")
	}
	return nil
}
