package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/pkg/maintenance"
	"github.com/harun/regstream/pkg/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check trial store integrity",
	Long: `Run range, referential, state, and timing checks against the trial
store. Exits non-zero when a fatal issue is found.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// noFlush satisfies the maintenance flusher when no engine is running.
type noFlush struct{}

func (noFlush) Flush() error { return nil }

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	svc := maintenance.NewService(maintenance.Config{
		BackupDir: cfg.Maintenance.BackupDir,
		ExportDir: cfg.Maintenance.ExportDir,
	}, st, noFlush{}, zerolog.Nop())

	report, err := svc.ValidateIntegrity()
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d trials\n", report.Trials)
	for _, issue := range report.Fatal {
		fmt.Printf("FATAL [%s] %s\n", issue.Check, issue.Message)
	}
	for _, issue := range report.Warnings {
		fmt.Printf("warning [%s] %s\n", issue.Check, issue.Message)
	}

	if !report.Healthy() {
		return fmt.Errorf("integrity check failed with %d fatal issue(s)", len(report.Fatal))
	}
	fmt.Println("Store is healthy")
	return nil
}
