package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/regstream/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write engine configuration",
	Long: `Update the configuration file. Only flags that are set change the
stored values; everything else keeps its current setting.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().String("engine", "", "trial source engine (hardware, software, pseudo)")
	configureCmd.Flags().String("backup-engine", "", "engine used when the primary fails")
	configureCmd.Flags().String("device-path", "", "hardware entropy device path")
	configureCmd.Flags().Float64("frequency", 0, "trials per second (0.1-10)")
	configureCmd.Flags().Int("gateway-port", 0, "status gateway port")
	configureCmd.Flags().Bool("gateway", false, "enable the status gateway")
	configureCmd.Flags().String("backup-schedule", "", "cron expression for automatic backups")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.RNG.Engine, _ = flags.GetString("engine")
	}
	if flags.Changed("backup-engine") {
		cfg.RNG.BackupEngine, _ = flags.GetString("backup-engine")
	}
	if flags.Changed("device-path") {
		cfg.RNG.DevicePath, _ = flags.GetString("device-path")
	}
	if flags.Changed("frequency") {
		cfg.Timing.Frequency, _ = flags.GetFloat64("frequency")
	}
	if flags.Changed("gateway-port") {
		cfg.Gateway.Port, _ = flags.GetInt("gateway-port")
	}
	if flags.Changed("gateway") {
		cfg.Gateway.Enabled, _ = flags.GetBool("gateway")
	}
	if flags.Changed("backup-schedule") {
		cfg.Maintenance.BackupSchedule, _ = flags.GetString("backup-schedule")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	return nil
}
