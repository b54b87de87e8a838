/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AdrianIt2306/OpenMVS/pkg/config"
)

const serviceUnit = "openmvs.service"

// Swapped in tests.
var (
	unitDir    = "/etc/systemd/system"
	geteuid    = os.Geteuid
	runCommand = func(cmd *cobra.Command, name string, args ...string) error {
		c := exec.CommandContext(cmd.Context(), name, args...)
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()
		return c.Run()
	}
)

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage OpenMVS as a systemd service",
	Long: `Manage the bridge as a systemd service running "openmvs up".

The unit restarts the bridge on failure and limits writes to the
configured spool, log and pid directories.`,
}

// installServiceCmd represents the service install command
var installServiceCmd = &cobra.Command{
	Use:   "install",
	Short: "Install OpenMVS as a systemd service",
	Long: `Install the bridge as a systemd service.

This will:
- Load the configuration, creating it under --base-dir when missing
- Create the spool, log and pid directories
- Write the systemd unit and enable it

Examples:
  sudo openmvs service install
  sudo openmvs service install --config /etc/openmvs/config.yaml --user openmvs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		baseDir, _ := cmd.Flags().GetString("base-dir")
		user, _ := cmd.Flags().GetString("user")
		binary, _ := cmd.Flags().GetString("binary")
		startNow, _ := cmd.Flags().GetBool("start")

		if err := requireRoot("install"); err != nil {
			return err
		}
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate openmvs binary: %w", err)
			}
			binary = exe
		}

		var cfg *config.Config
		var err error
		if config.ConfigExists(configPath) {
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cmd.Printf("✅ Loaded existing configuration\n")
		} else {
			cfg, err = config.BootstrapConfig(configPath, baseDir, false)
			if err != nil {
				return err
			}
			cmd.Printf("✅ Created new configuration at %s\n", configPath)
		}

		dataDirs := serviceDirs(cfg, configPath)[1:]
		for _, dir := range dataDirs {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		chown := append([]string{"-R", user + ":" + user}, dataDirs...)
		if err := runCommand(cmd, "chown", chown...); err != nil {
			cmd.Printf("Warning: could not change ownership to %s: %v\n", user, err)
		}

		unitPath := filepath.Join(unitDir, serviceUnit)
		unit := renderSystemdUnit(cfg, configPath, user, binary)
		if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
			return fmt.Errorf("write unit file: %w", err)
		}
		if err := runCommand(cmd, "systemctl", "daemon-reload"); err != nil {
			return fmt.Errorf("reload systemd: %w", err)
		}
		if err := runCommand(cmd, "systemctl", "enable", serviceUnit); err != nil {
			return fmt.Errorf("enable service: %w", err)
		}
		cmd.Printf("✅ Service enabled\n")

		if startNow {
			if err := runCommand(cmd, "systemctl", "start", serviceUnit); err != nil {
				return fmt.Errorf("start service: %w", err)
			}
			cmd.Printf("✅ Service started\n")
		}

		cmd.Printf("\nService: %s\n", serviceUnit)
		cmd.Printf("Config: %s\n", configPath)
		cmd.Printf("Output: %s\n", cfg.Paths.OutDir)
		if !startNow {
			cmd.Printf("\nTo start the service: sudo systemctl start %s\n", serviceUnit)
		}
		cmd.Printf("To view logs: openmvs service logs -f\n")
		return nil
	},
}

func systemctlCmd(action, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("%s the OpenMVS service", strings.ToUpper(action[:1])+action[1:]),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runCommand(cmd, "systemctl", action, serviceUnit); err != nil {
				return fmt.Errorf("%s service: %w", action, err)
			}
			if done != "" {
				cmd.Printf("✅ OpenMVS service %s\n", done)
			}
			return nil
		},
	}
}

// logsCmd represents the service logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show OpenMVS service logs",
	Long: `Show the service journal.

Examples:
  openmvs service logs
  openmvs service logs -f -n 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")

		journalArgs := []string{"-u", serviceUnit}
		if follow {
			journalArgs = append(journalArgs, "-f")
		}
		if lines > 0 {
			journalArgs = append(journalArgs, fmt.Sprintf("-n%d", lines))
		}
		return runCommand(cmd, "journalctl", journalArgs...)
	},
}

// uninstallCmd represents the service uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the OpenMVS service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("uninstall"); err != nil {
			return err
		}

		// Already stopped is fine.
		_ = runCommand(cmd, "systemctl", "stop", serviceUnit)
		if err := runCommand(cmd, "systemctl", "disable", serviceUnit); err != nil {
			cmd.Printf("Warning: could not disable service: %v\n", err)
		}

		unitPath := filepath.Join(unitDir, serviceUnit)
		if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove unit file: %w", err)
		}
		if err := runCommand(cmd, "systemctl", "daemon-reload"); err != nil {
			return fmt.Errorf("reload systemd: %w", err)
		}

		cmd.Printf("✅ OpenMVS service uninstalled\n")
		cmd.Printf("Note: configuration and job logs were not removed\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)

	serviceCmd.AddCommand(installServiceCmd)
	serviceCmd.AddCommand(systemctlCmd("start", "started"))
	serviceCmd.AddCommand(systemctlCmd("stop", "stopped"))
	serviceCmd.AddCommand(systemctlCmd("restart", "restarted"))
	serviceCmd.AddCommand(systemctlCmd("status", ""))
	serviceCmd.AddCommand(logsCmd)
	serviceCmd.AddCommand(uninstallCmd)

	installServiceCmd.Flags().String("base-dir", "/var/lib/openmvs", "Parent of the spool, logs and pids directories for a new config")
	installServiceCmd.Flags().String("user", "openmvs", "User to run the service as")
	installServiceCmd.Flags().String("binary", "", "Path of the openmvs binary (default: this executable)")
	installServiceCmd.Flags().Bool("start", true, "Start the service after installation")

	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().IntP("lines", "n", 0, "Number of lines to show")
}

func requireRoot(action string) error {
	if geteuid() != 0 {
		return fmt.Errorf("service %s requires root privileges, run with: sudo openmvs service %s", action, action)
	}
	return nil
}

// serviceDirs lists the paths the service may write, config directory first
func serviceDirs(cfg *config.Config, configPath string) []string {
	dirs := []string{filepath.Dir(configPath)}
	seen := map[string]bool{dirs[0]: true}
	for _, dir := range []string{cfg.Paths.OutDir, cfg.Paths.LogDir, cfg.Paths.PIDDir, cfg.Paths.CatalogPath()} {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

func renderSystemdUnit(cfg *config.Config, configPath, user, binary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `[Unit]
Description=OpenMVS spool and console bridge
After=network-online.target
Wants=network-online.target

[Service]
User=%s
Group=%s
ExecStart=%s up --config %s
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
UMask=0027
`, user, user, binary, configPath)
	for _, dir := range serviceDirs(cfg, configPath) {
		fmt.Fprintf(&b, "ReadWritePaths=%s\n", dir)
	}
	b.WriteString(`
[Install]
WantedBy=multi-user.target
`)
	return b.String()
}
