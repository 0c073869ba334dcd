package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/internal/daemon"
	"github.com/harun/regstream/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the trial engine",
	Long: `Run the trial engine in the foreground. Trials are generated at the
configured frequency and persisted until the process receives SIGINT or
SIGTERM, at which point buffers are flushed and any active session is
aborted cleanly.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	// Config edits take effect on the next start; the watcher only reports them
	watcher, err := config.NewWatcher(loader.GetConfigPath(), log.GetZerolog(), func() {
		log.Warn().Msg("Config file changed, restart to apply")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	fmt.Printf("regstream running (engine=%s, %.1f trials/s)\n", cfg.RNG.Engine, cfg.Timing.Frequency)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down...")
	return d.Stop()
}
